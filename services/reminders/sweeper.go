// Package reminders sends the email reminders configured on upcoming events.
//
// Every (event, reminder offset, attendee) combination is tracked in the
// reminder_deliveries table. A combination is marked pending before the send
// and sent after it succeeded; a failed send stays pending and is retried on
// the next sweep, so a reminder may be repeated after a crash between the send
// and the mark but never after a recorded success.
package reminders

import (
	"context"
	"fmt"
	"time"

	"eventhub/data/models"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

type Store interface {
	UpcomingEventsWithReminders(ctx context.Context, now time.Time) ([]models.Event, error)
	GetUsersByIDs(ctx context.Context, ids []int64) ([]models.User, error)
	ReminderDeliveries(ctx context.Context, eventID int64) (map[models.DeliveryKey]models.DeliveryStatus, error)
	MarkReminderDelivery(ctx context.Context, key models.DeliveryKey, status models.DeliveryStatus, at time.Time) error
}

type Sender interface {
	SendReminder(ctx context.Context, e models.Event, u models.User, minutesBefore int) error
}

// Result counts what one sweep did.
type Result struct {
	Due     int
	Sent    int
	Failed  int
	Skipped int
}

type Sweeper struct {
	store    Store
	sender   Sender
	interval time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewSweeper(store Store, sender Sender, interval time.Duration, log logrus.FieldLogger) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		sender:   sender,
		interval: interval,
		log:      log.WithField("component", "reminders"),
		now:      time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	res, err := s.Sweep(ctx, s.now())
	entry := s.log.WithFields(logrus.Fields{
		"due":     res.Due,
		"sent":    res.Sent,
		"failed":  res.Failed,
		"skipped": res.Skipped,
	})
	if err != nil {
		entry.WithError(err).Warn("reminder sweep finished with errors")
		return
	}
	if res.Due > 0 {
		entry.Info("reminder sweep finished")
	}
}

// Sweep sends every email reminder that is due at now and not yet recorded
// as sent. Failures for one event do not stop the others.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	upcoming, err := s.store.UpcomingEventsWithReminders(ctx, now)
	if err != nil {
		return res, fmt.Errorf("load upcoming events: %w", err)
	}

	var errs *multierror.Error
	for _, e := range upcoming {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		if err := s.sweepEvent(ctx, e, now, &res); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("event %d: %w", e.ID, err))
		}
	}
	return res, errs.ErrorOrNil()
}

func (s *Sweeper) sweepEvent(ctx context.Context, e models.Event, now time.Time, res *Result) error {
	var due []int
	for _, r := range e.Reminders {
		if r.Type != models.ReminderEmail || now.Before(r.FireAt(e.StartDate)) {
			continue
		}
		due = append(due, r.MinutesBefore)
	}
	if len(due) == 0 || len(e.Attendees) == 0 {
		return nil
	}

	delivered, err := s.store.ReminderDeliveries(ctx, e.ID)
	if err != nil {
		return err
	}
	if delivered == nil {
		delivered = map[models.DeliveryKey]models.DeliveryStatus{}
	}
	attendees, err := s.store.GetUsersByIDs(ctx, e.Attendees)
	if err != nil {
		return fmt.Errorf("load attendees: %w", err)
	}

	var errs *multierror.Error
	for _, minutes := range due {
		for _, u := range attendees {
			key := models.DeliveryKey{EventID: e.ID, MinutesBefore: minutes, UserID: u.ID}
			res.Due++
			if delivered[key] == models.DeliverySent {
				res.Skipped++
				continue
			}
			if err := s.deliver(ctx, e, u, key, now); err != nil {
				res.Failed++
				errs = multierror.Append(errs, err)
				continue
			}
			delivered[key] = models.DeliverySent
			res.Sent++
		}
	}
	return errs.ErrorOrNil()
}

func (s *Sweeper) deliver(ctx context.Context, e models.Event, u models.User, key models.DeliveryKey, now time.Time) error {
	if err := s.store.MarkReminderDelivery(ctx, key, models.DeliveryPending, now); err != nil {
		return err
	}
	if err := s.sender.SendReminder(ctx, e, u, key.MinutesBefore); err != nil {
		return fmt.Errorf("send reminder to user %d: %w", u.ID, err)
	}
	if err := s.store.MarkReminderDelivery(ctx, key, models.DeliverySent, now); err != nil {
		return fmt.Errorf("record reminder to user %d: %w", u.ID, err)
	}
	return nil
}
