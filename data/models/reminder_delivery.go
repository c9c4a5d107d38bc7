package models

import "time"

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
)

// DeliveryKey identifies one reminder delivery. Reminders are keyed by their
// offset so that re-saving an event with the same reminder does not resend it.
type DeliveryKey struct {
	EventID       int64
	MinutesBefore int
	UserID        int64
}

type ReminderDelivery struct {
	DeliveryKey
	Status    DeliveryStatus
	UpdatedAt time.Time
}
