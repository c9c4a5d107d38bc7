// Package events applies every state transition an event goes through:
// creation, field updates, deletion, registration, cancellation, comments and
// likes.
//
// Mutations of one event are serialised in-process with a keyed mutex and
// committed with a version compare-and-swap, so the read-decide-write of a
// registration can never admit more attendees than the capacity allows, even
// across processes. Email and realtime side effects run after the commit on
// the task queue and never roll a mutation back.
package events

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"eventhub/data/models"
	"eventhub/data/repository"
	"eventhub/services/auth"
	"eventhub/services/notify"
	"eventhub/services/realtime"
	"eventhub/services/registration"
	"eventhub/services/tasks"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

type Store interface {
	repository.EventRepo
	GetUserByID(ctx context.Context, id int64) (models.User, error)
}

type Notifier interface {
	SendRegistrationConfirmation(ctx context.Context, e models.Event, u models.User) error
	SendEventUpdate(ctx context.Context, e models.Event, updateType string) notify.Report
}

type Broadcaster interface {
	Publish(channel, name string, data interface{}) int
}

type Scheduler interface {
	Enqueue(name string, fn tasks.Func) error
}

type ImageRemover interface {
	Remove(ref string) error
}

type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

type Service struct {
	store     Store
	notifier  Notifier
	broadcast Broadcaster
	tasks     Scheduler
	frames    Scheduler
	images    ImageRemover
	log       logrus.FieldLogger

	locks   *keyedMutex
	retries int
	now     func() time.Time
}

type Deps struct {
	Store       Store
	Notifier    Notifier
	Broadcaster Broadcaster
	Tasks       Scheduler
	// Broadcasts runs realtime frames. It must run tasks one at a time in
	// submission order. Tasks is used when nil.
	Broadcasts  Scheduler
	Images      ImageRemover
	Log         logrus.FieldLogger
	// Retries bounds how often a lost compare-and-swap is retried.
	Retries int
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	retries := d.Retries
	if retries < 1 {
		retries = 5
	}
	frames := d.Broadcasts
	if frames == nil {
		frames = d.Tasks
	}
	return &Service{
		store:     d.Store,
		notifier:  d.Notifier,
		broadcast: d.Broadcaster,
		tasks:     d.Tasks,
		frames:    frames,
		images:    d.Images,
		log:       log.WithField("component", "events"),
		locks:     newKeyedMutex(),
		retries:   retries,
		now:       time.Now,
	}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, e models.Event) (models.Event, error) {
	e.CreatorID = actor.UserID
	if e.Status == "" {
		e.Status = models.StatusPublished
	}
	if e.Tags == nil {
		e.Tags = models.Tags{}
	}
	if e.Reminders == nil {
		e.Reminders = models.Reminders{}
	}
	if err := validateEvent(e); err != nil {
		return models.Event{}, err
	}

	id, err := s.store.CreateEvent(ctx, e)
	if err != nil {
		return models.Event{}, fmt.Errorf("create event: %w", err)
	}

	created, err := s.load(ctx, id)
	if err != nil {
		return models.Event{}, err
	}

	s.log.WithFields(logrus.Fields{"event_id": id, "user_id": actor.UserID}).Info("event created")
	s.publish(realtime.LobbyChannel, realtime.EventCreated, created)
	return created, nil
}

// Get returns the event and counts the view. Events the caller may not list
// are reported as missing.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id int64) (models.Event, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return models.Event{}, err
	}
	if !actor.IsAdmin() && !e.VisibleTo(actor.UserID) {
		return models.Event{}, ErrNotFound
	}

	if err := s.store.IncrementViews(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Event{}, ErrNotFound
		}
		return models.Event{}, fmt.Errorf("count view: %w", err)
	}
	e.Views++
	e.RefreshAnalytics()
	return e, nil
}

func (s *Service) List(ctx context.Context, actor auth.Actor, q repository.EventQuery) ([]models.Event, Pagination, error) {
	q.ViewerID = actor.UserID
	q.ViewerIsAdmin = actor.IsAdmin()

	list, total, err := s.store.QueryEvents(ctx, q)
	if err != nil {
		return nil, Pagination{}, err
	}
	for i := range list {
		list[i].RefreshAnalytics()
	}

	p := Pagination{Total: total, Page: q.Page}
	if p.Page < 1 {
		p.Page = 1
	}
	if q.Limit > 0 {
		p.Pages = int(math.Ceil(float64(total) / float64(q.Limit)))
	} else if total > 0 {
		p.Pages = 1
	}
	return list, p, nil
}

// ListByDate returns the events starting on the given calendar day (UTC,
// formatted YYYY-MM-DD) that the caller may see.
func (s *Service) ListByDate(ctx context.Context, actor auth.Actor, day string) ([]models.Event, error) {
	from, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, &ValidationError{Field: "date", Message: "date must be formatted as YYYY-MM-DD"}
	}
	to := from.Add(24*time.Hour - time.Nanosecond)

	list, _, err := s.List(ctx, actor, repository.EventQuery{StartFrom: &from, StartTo: &to, Sort: "startDate"})
	return list, err
}

// Update applies c to the event. Nothing is written unless the resulting event
// is valid as a whole.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id int64, c Changes) (updated models.Event, err error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var before models.Event
	var changed []string
	err = s.retry(ctx, func() error {
		current, err := s.load(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !canModify(actor, current) {
			return backoff.Permanent(ErrForbidden)
		}

		next := current
		changed = c.apply(&next)
		if len(changed) == 0 {
			before, updated = current, current
			return nil
		}
		if err := validateEvent(next); err != nil {
			return backoff.Permanent(err)
		}

		if err := s.store.UpdateEvent(ctx, next); err != nil {
			return s.casError(err)
		}
		before = current
		return nil
	})
	if err != nil {
		if c.Image != nil {
			s.removeImage(*c.Image)
		}
		return models.Event{}, err
	}
	if len(changed) == 0 {
		return updated, nil
	}

	if c.Image != nil && before.Image != "" && before.Image != *c.Image {
		s.removeImage(before.Image)
	}

	updated, err = s.load(ctx, id)
	if err != nil {
		return models.Event{}, err
	}

	s.log.WithFields(logrus.Fields{"event_id": id, "user_id": actor.UserID, "fields": changed}).Info("event updated")

	s.publishEvent(id, realtime.EventUpdated, updated)
	if updated.Status != before.Status {
		s.publishEvent(id, realtime.StatusChanged, map[string]interface{}{"eventId": id, "status": updated.Status})
	}
	s.after("event-update-email", func(ctx context.Context) error {
		return s.notifier.SendEventUpdate(ctx, updated, describeChanges(changed)).Err
	})
	return updated, nil
}

// Delete removes the event and its stored image.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	e, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !canModify(actor, e) {
		return ErrForbidden
	}

	if e.Image != "" {
		s.removeImage(e.Image)
	}

	if err := s.store.DeleteEvent(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete event: %w", err)
	}

	s.log.WithFields(logrus.Fields{"event_id": id, "user_id": actor.UserID}).Info("event deleted")
	return nil
}

// Register adds the actor to the attendees if the registration policy allows
// it against the latest committed state of the event.
func (s *Service) Register(ctx context.Context, actor auth.Actor, id int64) (models.Event, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	err := s.retry(ctx, func() error {
		e, err := s.loadReachable(ctx, actor, id)
		if err != nil {
			return backoff.Permanent(err)
		}

		if d := registration.Evaluate(e, actor.UserID, s.now()); !d.Allowed {
			return backoff.Permanent(&RegistrationDeniedError{Reason: d.Reason})
		}

		err = s.store.AddAttendee(ctx, id, actor.UserID, e.Version)
		if errors.Is(err, repository.ErrDuplicate) {
			return backoff.Permanent(&RegistrationDeniedError{Reason: registration.ReasonAlreadyRegistered})
		}
		return s.casError(err)
	})
	if err != nil {
		return models.Event{}, err
	}

	e, err := s.load(ctx, id)
	if err != nil {
		return models.Event{}, err
	}

	s.log.WithFields(logrus.Fields{"event_id": id, "user_id": actor.UserID}).Info("registration accepted")

	s.publishEvent(id, realtime.NewRegistration, registrationFrame(e, actor.UserID))
	s.after("registration-confirmation", func(ctx context.Context) error {
		u, err := s.store.GetUserByID(ctx, actor.UserID)
		if err != nil {
			return fmt.Errorf("load registrant: %w", err)
		}
		return s.notifier.SendRegistrationConfirmation(ctx, e, u)
	})
	return e, nil
}

func (s *Service) CancelRegistration(ctx context.Context, actor auth.Actor, id int64) (models.Event, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	err := s.retry(ctx, func() error {
		e, err := s.load(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !e.HasAttendee(actor.UserID) {
			if !reachable(actor, e) {
				return backoff.Permanent(ErrNotFound)
			}
			return backoff.Permanent(ErrNotRegistered)
		}
		return s.casError(s.store.RemoveAttendee(ctx, id, actor.UserID, e.Version))
	})
	if err != nil {
		return models.Event{}, err
	}

	e, err := s.load(ctx, id)
	if err != nil {
		return models.Event{}, err
	}

	s.log.WithFields(logrus.Fields{"event_id": id, "user_id": actor.UserID}).Info("registration cancelled")
	s.publishEvent(id, realtime.CancelledRegistration, registrationFrame(e, actor.UserID))
	return e, nil
}

// AddComment appends a comment and returns the event with its comments.
func (s *Service) AddComment(ctx context.Context, actor auth.Actor, id int64, text string) (models.Event, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Event{}, &ValidationError{Field: "text", Message: "Comment text is required"}
	}
	if utf8.RuneCountInString(text) > models.MaxCommentLength {
		return models.Event{}, &ValidationError{
			Field:   "text",
			Message: fmt.Sprintf("Comment must be at most %d characters", models.MaxCommentLength),
		}
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.loadReachable(ctx, actor, id); err != nil {
		return models.Event{}, err
	}

	c, err := s.store.AddComment(ctx, models.Comment{EventID: id, UserID: actor.UserID, Text: text, CreatedAt: s.now()})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Event{}, ErrNotFound
		}
		return models.Event{}, fmt.Errorf("add comment: %w", err)
	}

	e, err := s.load(ctx, id)
	if err != nil {
		return models.Event{}, err
	}
	for _, stored := range e.Comments {
		if stored.ID == c.ID {
			c = stored
			break
		}
	}

	s.publishEvent(id, realtime.NewComment, c)
	return e, nil
}

// ToggleLike flips the actor's like. The outcome depends only on whether the
// actor currently likes the event.
func (s *Service) ToggleLike(ctx context.Context, actor auth.Actor, id int64) (models.Event, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	err := s.retry(ctx, func() error {
		e, err := s.loadReachable(ctx, actor, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		liked := !e.HasLike(actor.UserID)
		return s.casError(s.store.SetLike(ctx, id, actor.UserID, liked, e.Version))
	})
	if err != nil {
		return models.Event{}, err
	}
	return s.load(ctx, id)
}

// loadReachable loads the event and hides it as missing from an actor who may
// not act on it.
func (s *Service) loadReachable(ctx context.Context, actor auth.Actor, id int64) (models.Event, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return models.Event{}, err
	}
	if !reachable(actor, e) {
		return models.Event{}, ErrNotFound
	}
	return e, nil
}

func (s *Service) load(ctx context.Context, id int64) (models.Event, error) {
	e, err := s.store.GetEventByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Event{}, ErrNotFound
		}
		return models.Event{}, fmt.Errorf("load event %d: %w", id, err)
	}
	e.RefreshAnalytics()
	return e, nil
}

// retry runs op until it succeeds, fails permanently or runs out of attempts.
// Only a lost compare-and-swap is retried.
func (s *Service) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retries)), ctx))
	if errors.Is(err, repository.ErrVersionConflict) {
		s.log.WithError(err).Warn("giving up after repeated version conflicts")
		return ErrConflict
	}
	return err
}

// casError marks everything but a version conflict as permanent.
func (s *Service) casError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrVersionConflict):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return backoff.Permanent(ErrNotFound)
	}
	return backoff.Permanent(err)
}

func (s *Service) removeImage(ref string) {
	if s.images == nil {
		return
	}
	if err := s.images.Remove(ref); err != nil {
		s.log.WithError(err).WithField("image", ref).Warn("could not remove event image")
	}
}

func (s *Service) publishEvent(id int64, name string, data interface{}) {
	s.publish(realtime.EventChannel(id), name, data)
}

// publish queues a frame. Callers holding the event lock enqueue in commit
// order, and the frame scheduler keeps that order.
func (s *Service) publish(channel, name string, data interface{}) {
	s.enqueue(s.frames, "broadcast-"+name, func(context.Context) error {
		s.broadcast.Publish(channel, name, data)
		return nil
	})
}

// after schedules a side effect of an already committed mutation.
func (s *Service) after(name string, fn tasks.Func) {
	s.enqueue(s.tasks, name, fn)
}

func (s *Service) enqueue(sched Scheduler, name string, fn tasks.Func) {
	if err := sched.Enqueue(name, fn); err != nil {
		s.log.WithError(err).WithField("task", name).Error("dropped post-commit task")
	}
}

// reachable reports whether actor may act on e. Public cancelled events stay
// reachable so registration can say why it was refused.
func reachable(actor auth.Actor, e models.Event) bool {
	if actor.IsAdmin() || e.VisibleTo(actor.UserID) {
		return true
	}
	return e.IsPublic && e.Status == models.StatusCancelled
}

func canModify(actor auth.Actor, e models.Event) bool {
	return actor.IsAdmin() || (actor.UserID != 0 && actor.UserID == e.CreatorID)
}

func registrationFrame(e models.Event, userID int64) map[string]interface{} {
	return map[string]interface{}{
		"eventId":   e.ID,
		"userId":    userID,
		"attendees": len(e.Attendees),
	}
}
