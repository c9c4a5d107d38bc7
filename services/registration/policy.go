// Package registration decides whether a user may register for an event.
package registration

import (
	"time"

	"eventhub/data/models"
)

// Reason identifies why a registration was refused.
type Reason string

const (
	ReasonAlreadyRegistered Reason = "already-registered"
	ReasonFull              Reason = "full"
	ReasonDeadlinePassed    Reason = "deadline-passed"
	ReasonCancelled         Reason = "cancelled"
)

// Message is the user facing text for r.
func (r Reason) Message() string {
	switch r {
	case ReasonAlreadyRegistered:
		return "Already registered for this event"
	case ReasonFull:
		return "Event is at full capacity"
	case ReasonDeadlinePassed:
		return "Registration deadline has passed"
	case ReasonCancelled:
		return "Event has been cancelled"
	}
	return string(r)
}

type Decision struct {
	Allowed bool
	Reason  Reason
}

// Evaluate checks a single event snapshot. The checks run in a fixed order so
// that a full event reports the same reason to every caller.
func Evaluate(e models.Event, userID int64, now time.Time) Decision {
	switch {
	case e.HasAttendee(userID):
		return deny(ReasonAlreadyRegistered)
	case len(e.Attendees) >= e.Capacity:
		return deny(ReasonFull)
	case now.After(e.RegistrationDeadline):
		return deny(ReasonDeadlinePassed)
	case e.Status == models.StatusCancelled:
		return deny(ReasonCancelled)
	}
	return Decision{Allowed: true}
}

func deny(r Reason) Decision {
	return Decision{Reason: r}
}
