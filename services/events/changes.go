package events

import (
	"reflect"
	"strings"
	"time"

	"eventhub/data/models"
)

// Changes is a partial update. Nil fields are left untouched.
type Changes struct {
	Title                *string           `json:"title"`
	Description          *string           `json:"description"`
	StartDate            *time.Time        `json:"startDate"`
	EndDate              *time.Time        `json:"endDate"`
	Location             *models.Location  `json:"location"`
	Category             *models.Category  `json:"category"`
	Capacity             *int              `json:"capacity"`
	Price                *float64          `json:"price"`
	IsPublic             *bool             `json:"isPublic"`
	RegistrationDeadline *time.Time        `json:"registrationDeadline"`
	Tags                 *models.Tags      `json:"tags"`
	Reminders            *models.Reminders `json:"reminders"`
	Status               *models.Status    `json:"status"`

	// Image is the stored path of a freshly uploaded replacement image.
	Image *string `json:"-"`
}

// apply copies the set fields onto e and returns the JSON names of the
// fields whose value actually changed.
func (c Changes) apply(e *models.Event) []string {
	var changed []string
	set := func(name string, dst, src interface{}) {
		d := reflect.ValueOf(dst).Elem()
		s := reflect.ValueOf(src)
		if s.IsNil() {
			return
		}
		v := s.Elem()
		if reflect.DeepEqual(d.Interface(), v.Interface()) {
			return
		}
		if t, ok := v.Interface().(time.Time); ok && d.Interface().(time.Time).Equal(t) {
			return
		}
		d.Set(v)
		changed = append(changed, name)
	}

	set("title", &e.Title, c.Title)
	set("description", &e.Description, c.Description)
	set("startDate", &e.StartDate, c.StartDate)
	set("endDate", &e.EndDate, c.EndDate)
	set("location", &e.Location, c.Location)
	set("category", &e.Category, c.Category)
	set("capacity", &e.Capacity, c.Capacity)
	set("price", &e.Price, c.Price)
	set("isPublic", &e.IsPublic, c.IsPublic)
	set("registrationDeadline", &e.RegistrationDeadline, c.RegistrationDeadline)
	set("tags", &e.Tags, c.Tags)
	set("reminders", &e.Reminders, c.Reminders)
	set("status", &e.Status, c.Status)
	set("image", &e.Image, c.Image)

	return changed
}

func describeChanges(changed []string) string {
	return strings.Join(changed, ", ")
}
