package main

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"eventhub/config"
	"eventhub/data/images"
	"eventhub/data/models"
	"eventhub/data/repository"
	"eventhub/services/auth"
	"eventhub/services/events"
	"eventhub/services/notify"
	"eventhub/services/realtime"
	"eventhub/services/tasks"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef"

type memRepo struct {
	mu     sync.Mutex
	users  map[int64]models.User
	events map[int64]*models.Event
	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[int64]models.User{}, events: map[int64]*models.Event{}}
}

func (m *memRepo) CreateUser(ctx context.Context, u models.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return 0, repository.ErrDuplicate
		}
	}
	m.nextID++
	u.ID = m.nextID
	m.users[u.ID] = u
	return u.ID, nil
}

func (m *memRepo) UpdateUser(ctx context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return repository.ErrNotFound
	}
	for id, existing := range m.users {
		if id != u.ID && strings.EqualFold(existing.Email, u.Email) {
			return repository.ErrDuplicate
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *memRepo) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, repository.ErrNotFound
}

func (m *memRepo) GetUsersByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memRepo) CreateEvent(ctx context.Context, e models.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID, e.Version = m.nextID, 1
	e.Attendees, e.Likes, e.Comments = []int64{}, []int64{}, []models.Comment{}
	m.events[e.ID] = &e
	return e.ID, nil
}

func (m *memRepo) GetEventByID(ctx context.Context, id int64) (models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return models.Event{}, repository.ErrNotFound
	}
	out := *e
	out.Attendees = append([]int64{}, e.Attendees...)
	out.Likes = append([]int64{}, e.Likes...)
	out.Comments = append([]models.Comment{}, e.Comments...)
	return out, nil
}

func (m *memRepo) QueryEvents(ctx context.Context, q repository.EventQuery) ([]models.Event, int, error) {
	m.mu.Lock()
	var ids []int64
	for id, e := range m.events {
		if q.StartFrom != nil && e.StartDate.Before(*q.StartFrom) {
			continue
		}
		if q.StartTo != nil && e.StartDate.After(*q.StartTo) {
			continue
		}
		if q.ViewerIsAdmin || e.VisibleTo(q.ViewerID) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	list := []models.Event{}
	for _, id := range ids {
		e, _ := m.GetEventByID(ctx, id)
		list = append(list, e)
	}
	return list, len(list), nil
}

func (m *memRepo) UpcomingEventsWithReminders(ctx context.Context, now time.Time) ([]models.Event, error) {
	return nil, nil
}

func (m *memRepo) IncrementViews(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Views++
	return nil
}

// swap applies fn to the stored event if version is current.
func (m *memRepo) swap(id, version int64, fn func(e *models.Event) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	if e.Version != version {
		return repository.ErrVersionConflict
	}
	if err := fn(e); err != nil {
		return err
	}
	e.Version++
	return nil
}

func (m *memRepo) UpdateEvent(ctx context.Context, next models.Event) error {
	return m.swap(next.ID, next.Version, func(e *models.Event) error {
		next.Attendees, next.Likes, next.Comments = e.Attendees, e.Likes, e.Comments
		next.Views = e.Views
		*e = next
		return nil
	})
}

func (m *memRepo) AddAttendee(ctx context.Context, eventID, userID, version int64) error {
	return m.swap(eventID, version, func(e *models.Event) error {
		if e.HasAttendee(userID) {
			return repository.ErrDuplicate
		}
		e.Attendees = append(e.Attendees, userID)
		return nil
	})
}

func (m *memRepo) RemoveAttendee(ctx context.Context, eventID, userID, version int64) error {
	return m.swap(eventID, version, func(e *models.Event) error {
		kept := []int64{}
		for _, id := range e.Attendees {
			if id != userID {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(e.Attendees) {
			return repository.ErrNotFound
		}
		e.Attendees = kept
		return nil
	})
}

func (m *memRepo) SetLike(ctx context.Context, eventID, userID int64, liked bool, version int64) error {
	return m.swap(eventID, version, func(e *models.Event) error {
		kept := []int64{}
		for _, id := range e.Likes {
			if id != userID {
				kept = append(kept, id)
			}
		}
		if liked {
			kept = append(kept, userID)
		}
		e.Likes = kept
		return nil
	})
}

func (m *memRepo) AddComment(ctx context.Context, c models.Comment) (models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[c.EventID]
	if !ok {
		return models.Comment{}, repository.ErrNotFound
	}
	m.nextID++
	c.ID = m.nextID
	c.AuthorName = m.users[c.UserID].Name
	e.Comments = append(e.Comments, c)
	return c, nil
}

func (m *memRepo) DeleteEvent(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.events, id)
	return nil
}

// outbox records mail instead of sending it.
type outbox struct {
	mu            sync.Mutex
	verifications map[string]string
	resets        map[string]string
	confirmations []string
	updates       []string
}

func newOutbox() *outbox {
	return &outbox{verifications: map[string]string{}, resets: map[string]string{}}
}

func (o *outbox) SendVerification(ctx context.Context, u models.User, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verifications[u.Email] = token
	return nil
}

func (o *outbox) SendPasswordReset(ctx context.Context, u models.User, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets[u.Email] = token
	return nil
}

func (o *outbox) SendRegistrationConfirmation(ctx context.Context, e models.Event, u models.User) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.confirmations = append(o.confirmations, u.Email)
	return nil
}

func (o *outbox) SendEventUpdate(ctx context.Context, e models.Event, updateType string) notify.Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, updateType)
	return notify.Report{}
}

type inlineTasks struct{}

func (inlineTasks) Enqueue(name string, fn tasks.Func) error {
	_ = fn(context.Background())
	return nil
}

type testEnv struct {
	app  *application
	repo *memRepo
	mail *outbox
	dir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log, _ := test.NewNullLogger()

	dir := t.TempDir()
	store, err := images.NewFileStore(dir)
	require.NoError(t, err)

	repo, mail := newMemRepo(), newOutbox()
	hub := realtime.NewHub(log)
	app := &application{
		cfg:    config.Config{JWTSecret: testSecret, TokenTTL: time.Hour},
		log:    log,
		users:  repo,
		hub:    hub,
		images: store,
		tokens: auth.NewTokens(testSecret, time.Hour),
		mail:   mail,
		tasks:  inlineTasks{},
	}
	app.events = events.NewService(events.Deps{
		Store:       repo,
		Notifier:    mail,
		Broadcaster: hub,
		Tasks:       inlineTasks{},
		Images:      store,
		Log:         log,
	})
	return &testEnv{app: app, repo: repo, mail: mail, dir: dir}
}
