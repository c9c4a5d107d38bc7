package events

import (
	"errors"
	"fmt"

	"eventhub/data/models"
	"eventhub/services/registration"

	"github.com/go-playground/validator"
)

var (
	ErrNotFound      = errors.New("event not found")
	ErrForbidden     = errors.New("not authorized to modify this event")
	ErrNotRegistered = errors.New("not registered for this event")
	// ErrConflict is returned when an event kept changing underneath a
	// mutation for longer than the retry budget.
	ErrConflict = errors.New("event is being modified, please retry")
)

type RegistrationDeniedError struct {
	Reason registration.Reason
}

func (e *RegistrationDeniedError) Error() string {
	return e.Reason.Message()
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsDenied reports whether err is a registration denial with reason r.
func IsDenied(err error, r registration.Reason) bool {
	var denied *RegistrationDeniedError
	return errors.As(err, &denied) && denied.Reason == r
}

func validateEvent(e models.Event) error {
	err := models.ValidateModel(e)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	fe := verrs[0]
	msg := fmt.Sprintf("%s failed on the '%s' rule", fe.Field(), fe.Tag())
	switch {
	case fe.Field() == "EndDate" && fe.Tag() == "gtfield":
		msg = "End date must be after start date"
	case fe.Field() == "RegistrationDeadline" && fe.Tag() == "ltfield":
		msg = "Registration deadline must be before start date"
	case fe.Tag() == "required":
		msg = fmt.Sprintf("%s is required", fe.Field())
	case fe.Tag() == "max":
		msg = fmt.Sprintf("%s must be at most %s long", fe.Field(), fe.Param())
	case fe.Tag() == "min":
		msg = fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case fe.Tag() == "oneof":
		msg = fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	}
	return &ValidationError{Field: fe.Field(), Message: msg}
}
