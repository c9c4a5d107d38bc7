// Package tasks runs side effects after a mutation has been committed.
//
// Work handed to a Queue never affects the outcome of the request that
// enqueued it: failures are logged and counted, not returned.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrQueueClosed = errors.New("task queue is closed")
)

const defaultTaskTimeout = 30 * time.Second

type Func func(ctx context.Context) error

type task struct {
	name string
	fn   Func
}

type Stats struct {
	Enqueued  int64
	Processed int64
	Failed    int64
	Dropped   int64
}

type Queue struct {
	tasks   chan task
	log     logrus.FieldLogger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	enqueued  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New starts workers goroutines reading from a buffer of size tasks.
func New(workers, size int, log logrus.FieldLogger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:   make(chan task, size),
		log:     log.WithField("component", "tasks"),
		timeout: defaultTaskTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Enqueue schedules fn without blocking. It fails with ErrQueueFull when the
// buffer has no room.
func (q *Queue) Enqueue(name string, fn Func) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task{name: name, fn: fn}:
		q.enqueued.Inc()
		return nil
	default:
		q.dropped.Inc()
		q.log.WithField("task", name).Warn("task dropped, queue full")
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for the queued ones to finish. If ctx
// expires first, running tasks are cancelled and ctx.Err() is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		start := time.Now()
		entry := q.log.WithField("task", t.name)

		if err := q.run(t); err != nil {
			q.failed.Inc()
			entry.WithError(err).WithField("duration", time.Since(start)).Error("task failed")
			continue
		}
		q.processed.Inc()
		entry.WithField("duration", time.Since(start)).Debug("task done")
	}
}

func (q *Queue) run(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()
	return t.fn(ctx)
}
