package events

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"eventhub/data/models"
	"eventhub/data/repository"
	"eventhub/services/notify"
	"eventhub/services/tasks"
)

// memStore mimics the version compare-and-swap of the Postgres repository.
type memStore struct {
	mu        sync.Mutex
	events    map[int64]*models.Event
	users     map[int64]models.User
	nextID    int64
	commentID int64
	// conflicts forces that many upcoming CAS writes to lose.
	conflicts int
	lastQuery repository.EventQuery
}

func newMemStore() *memStore {
	return &memStore{events: map[int64]*models.Event{}, users: map[int64]models.User{}}
}

func (m *memStore) addUser(id int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = models.User{ID: id, Name: name, Email: name + "@example.com", Role: models.RoleUser}
}

func (m *memStore) snapshot(id int64) models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(*m.events[id])
}

func clone(e models.Event) models.Event {
	e.Attendees = append([]int64{}, e.Attendees...)
	e.Likes = append([]int64{}, e.Likes...)
	e.Comments = append([]models.Comment{}, e.Comments...)
	e.Tags = append(models.Tags{}, e.Tags...)
	e.Reminders = append(models.Reminders{}, e.Reminders...)
	return e
}

func (m *memStore) CreateEvent(ctx context.Context, e models.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	e.Version = 1
	e.Attendees, e.Likes, e.Comments = []int64{}, []int64{}, []models.Comment{}
	m.events[e.ID] = &e
	return e.ID, nil
}

func (m *memStore) GetEventByID(ctx context.Context, id int64) (models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return models.Event{}, repository.ErrNotFound
	}
	return clone(*e), nil
}

func (m *memStore) QueryEvents(ctx context.Context, q repository.EventQuery) ([]models.Event, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = q

	list := []models.Event{}
	for _, e := range m.events {
		if q.StartFrom != nil && e.StartDate.Before(*q.StartFrom) {
			continue
		}
		if q.StartTo != nil && e.StartDate.After(*q.StartTo) {
			continue
		}
		if !q.ViewerIsAdmin && !e.VisibleTo(q.ViewerID) {
			continue
		}
		list = append(list, clone(*e))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, len(list), nil
}

func (m *memStore) UpcomingEventsWithReminders(ctx context.Context, now time.Time) ([]models.Event, error) {
	return nil, errors.New("not used")
}

func (m *memStore) IncrementViews(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Views++
	return nil
}

// cas must be called with mu held.
func (m *memStore) cas(id, version int64) (*models.Event, error) {
	e, ok := m.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		return nil, repository.ErrVersionConflict
	}
	if e.Version != version {
		return nil, repository.ErrVersionConflict
	}
	return e, nil
}

func (m *memStore) UpdateEvent(ctx context.Context, next models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.cas(next.ID, next.Version)
	if err != nil {
		return err
	}
	next = clone(next)
	next.Attendees, next.Likes, next.Comments = e.Attendees, e.Likes, e.Comments
	next.Version++
	*e = next
	return nil
}

func (m *memStore) AddAttendee(ctx context.Context, eventID, userID, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.cas(eventID, version)
	if err != nil {
		return err
	}
	if e.HasAttendee(userID) {
		return repository.ErrDuplicate
	}
	e.Attendees = append(e.Attendees, userID)
	e.Version++
	return nil
}

func (m *memStore) RemoveAttendee(ctx context.Context, eventID, userID, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.cas(eventID, version)
	if err != nil {
		return err
	}
	for i, id := range e.Attendees {
		if id == userID {
			e.Attendees = append(e.Attendees[:i], e.Attendees[i+1:]...)
			e.Version++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) SetLike(ctx context.Context, eventID, userID int64, liked bool, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.cas(eventID, version)
	if err != nil {
		return err
	}
	likes := []int64{}
	for _, id := range e.Likes {
		if id != userID {
			likes = append(likes, id)
		}
	}
	if liked {
		likes = append(likes, userID)
	}
	e.Likes = likes
	e.Version++
	return nil
}

func (m *memStore) AddComment(ctx context.Context, c models.Comment) (models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[c.EventID]
	if !ok {
		return models.Comment{}, repository.ErrNotFound
	}
	m.commentID++
	c.ID = m.commentID
	c.AuthorName = m.users[c.UserID].Name
	e.Comments = append(e.Comments, c)
	return c, nil
}

func (m *memStore) DeleteEvent(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *memStore) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, repository.ErrNotFound
	}
	return u, nil
}

type published struct {
	Channel string
	Name    string
	Data    interface{}
}

type recorder struct {
	mu            sync.Mutex
	frames        []published
	confirmations []int64
	updates       []string
	removed       []string
	tasks         []string
	failEnqueue   bool
}

func (r *recorder) Publish(channel, name string, data interface{}) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, published{Channel: channel, Name: name, Data: data})
	return 1
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, f := range r.frames {
		out = append(out, f.Name)
	}
	return out
}

func (r *recorder) SendRegistrationConfirmation(ctx context.Context, e models.Event, u models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmations = append(r.confirmations, u.ID)
	return nil
}

func (r *recorder) SendEventUpdate(ctx context.Context, e models.Event, updateType string) notify.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, updateType)
	return notify.Report{Sent: len(e.Attendees)}
}

// Enqueue runs the task inline so assertions can follow the call directly.
func (r *recorder) Enqueue(name string, fn tasks.Func) error {
	r.mu.Lock()
	if r.failEnqueue {
		r.mu.Unlock()
		return tasks.ErrQueueFull
	}
	r.tasks = append(r.tasks, name)
	r.mu.Unlock()
	_ = fn(context.Background())
	return nil
}

func (r *recorder) Remove(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, ref)
	return nil
}
