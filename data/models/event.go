package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Category string

const (
	CategoryConference Category = "conference"
	CategoryWorkshop   Category = "workshop"
	CategorySeminar    Category = "seminar"
	CategoryNetworking Category = "networking"
	CategoryOther      Category = "other"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCancelled Status = "cancelled"
)

type ReminderType string

const (
	ReminderEmail        ReminderType = "email"
	ReminderNotification ReminderType = "notification"
)

// MaxCommentLength bounds the trimmed text of a comment.
const MaxCommentLength = 1000

type Event struct {
	ID                   int64     `json:"id" db:"id" readOnly:"true"`
	CreatorID            int64     `json:"creatorId" db:"creator_id"`
	Title                string    `validate:"required,max=100" json:"title" db:"title"`
	Description          string    `validate:"required,max=5000" json:"description" db:"description"`
	StartDate            time.Time `validate:"required" json:"startDate" db:"start_date"`
	EndDate              time.Time `validate:"required,gtfield=StartDate" json:"endDate" db:"end_date"`
	Location             Location  `json:"location" db:"location"`
	Category             Category  `validate:"oneof=conference workshop seminar networking other" json:"category" db:"category"`
	Image                string    `json:"image,omitempty" db:"image"`
	Capacity             int       `validate:"min=1" json:"capacity" db:"capacity"`
	Price                float64   `validate:"min=0" json:"price" db:"price"`
	IsPublic             bool      `json:"isPublic" db:"is_public"`
	RegistrationDeadline time.Time `validate:"required,ltfield=StartDate" json:"registrationDeadline" db:"registration_deadline"`
	Tags                 Tags      `validate:"dive,required,max=50" json:"tags" db:"tags"`
	Reminders            Reminders `validate:"dive" json:"reminders" db:"reminders"`
	Status               Status    `validate:"oneof=draft published cancelled" json:"status" db:"status"`
	Views                int64     `json:"-" db:"views" readOnly:"true"`
	Shares               int64     `json:"-" db:"shares" readOnly:"true"`
	Version              int64     `json:"version" db:"version" readOnly:"true"`
	CreatedAt            time.Time `json:"createdAt" db:"created_at" readOnly:"true"`
	UpdatedAt            time.Time `json:"updatedAt" db:"updated_at" readOnly:"true"`

	Attendees []int64   `json:"attendees" db:"-"`
	Likes     []int64   `json:"likes" db:"-"`
	Comments  []Comment `json:"comments" db:"-"`
	Analytics Analytics `json:"analytics" db:"-"`
}

func (Event) TableName() string {
	return "events"
}

func (e Event) ColumnNames() []string {
	return GetColumnNames(e, true)
}

func (e Event) GetID() int64 {
	return e.ID
}

// HasAttendee reports whether userID is registered for the event.
func (e Event) HasAttendee(userID int64) bool {
	return containsID(e.Attendees, userID)
}

// HasLike reports whether userID currently likes the event.
func (e Event) HasLike(userID int64) bool {
	return containsID(e.Likes, userID)
}

// VisibleTo reports whether a non-admin caller may see the event in listings.
func (e Event) VisibleTo(userID int64) bool {
	if e.Status == StatusPublished && e.IsPublic {
		return true
	}
	return userID != 0 && e.CreatorID == userID
}

// RefreshAnalytics recomputes the analytics block. Registrations is always
// derived from the attendee list so it cannot drift from it.
func (e *Event) RefreshAnalytics() {
	e.Analytics = Analytics{
		Views:         e.Views,
		Registrations: int64(len(e.Attendees)),
		Shares:        e.Shares,
	}
}

type Analytics struct {
	Views         int64 `json:"views"`
	Registrations int64 `json:"registrations"`
	Shares        int64 `json:"shares"`
}

type Comment struct {
	ID         int64     `json:"id"`
	EventID    int64     `json:"eventId"`
	UserID     int64     `json:"userId"`
	AuthorName string    `json:"authorName,omitempty"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Coordinates struct {
	Lat float64 `validate:"min=-90,max=90" json:"lat"`
	Lng float64 `validate:"min=-180,max=180" json:"lng"`
}

type Location struct {
	Name        string       `validate:"required" json:"name"`
	Address     string       `validate:"required" json:"address"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

func (l Location) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *Location) Scan(src interface{}) error {
	return scanJSON(src, l)
}

type Reminder struct {
	Type          ReminderType `validate:"oneof=email notification" json:"type"`
	MinutesBefore int          `validate:"min=0" json:"minutesBefore"`
}

// FireAt returns the instant the reminder becomes due for an event starting
// at start.
func (r Reminder) FireAt(start time.Time) time.Time {
	return start.Add(-time.Duration(r.MinutesBefore) * time.Minute)
}

type Reminders []Reminder

func (r Reminders) Value() (driver.Value, error) {
	if r == nil {
		r = Reminders{}
	}
	return json.Marshal(r)
}

func (r *Reminders) Scan(src interface{}) error {
	return scanJSON(src, r)
}

type Tags []string

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		t = Tags{}
	}
	return json.Marshal(t)
}

func (t *Tags) Scan(src interface{}) error {
	return scanJSON(src, t)
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
