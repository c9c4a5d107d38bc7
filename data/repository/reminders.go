package repository

import (
	"context"
	"eventhub/data/models"
	"fmt"
	"time"
)

func (sr *SqlRepo) ReminderDeliveries(ctx context.Context, eventID int64) (map[models.DeliveryKey]models.DeliveryStatus, error) {
	rows, err := sr.DB.QueryContext(ctx,
		"SELECT minutes_before, user_id, status FROM reminder_deliveries WHERE event_id = $1", eventID)
	if err != nil {
		return nil, fmt.Errorf("error loading reminder deliveries: %w", err)
	}
	defer rows.Close()

	out := make(map[models.DeliveryKey]models.DeliveryStatus)
	for rows.Next() {
		key := models.DeliveryKey{EventID: eventID}
		var status string
		if err := rows.Scan(&key.MinutesBefore, &key.UserID, &status); err != nil {
			return nil, err
		}
		out[key] = models.DeliveryStatus(status)
	}
	return out, rows.Err()
}

// MarkReminderDelivery records the delivery state of one reminder. A delivery
// that is already sent is never moved back to pending.
func (sr *SqlRepo) MarkReminderDelivery(ctx context.Context, key models.DeliveryKey, status models.DeliveryStatus, at time.Time) error {
	_, err := sr.DB.ExecContext(ctx, `INSERT INTO reminder_deliveries (event_id, minutes_before, user_id, status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, minutes_before, user_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		WHERE reminder_deliveries.status <> 'sent'`,
		key.EventID, key.MinutesBefore, key.UserID, string(status), at)
	if err != nil {
		return fmt.Errorf("error marking reminder delivery: %w", translateError(err))
	}
	return nil
}
