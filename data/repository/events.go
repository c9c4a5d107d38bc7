package repository

import (
	"context"
	"database/sql"
	"eventhub/data/models"
	"fmt"
	"time"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (sr *SqlRepo) CreateEvent(ctx context.Context, e models.Event) (int64, error) {
	return sr.Create(ctx, e)
}

// GetEventByID loads an event with its attendees, likes and comments.
func (sr *SqlRepo) GetEventByID(ctx context.Context, id int64) (models.Event, error) {
	model, err := sr.GetModelByID(ctx, &models.Event{}, id)
	if err != nil {
		return models.Event{}, err
	}

	event, ok := model.(*models.Event)
	if !ok {
		return models.Event{}, fmt.Errorf("type assertion to Event failed")
	}

	if err := loadRelations(ctx, sr.DB, []*models.Event{event}); err != nil {
		return models.Event{}, err
	}
	comments, err := loadComments(ctx, sr.DB, id)
	if err != nil {
		return models.Event{}, err
	}
	event.Comments = comments

	return *event, nil
}

// QueryEvents returns one page of events matching q along with the total
// number of matches.
func (sr *SqlRepo) QueryEvents(ctx context.Context, q EventQuery) ([]models.Event, int, error) {
	where, whereVals, tail, tailVals, err := buildQueryClauses(q)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid query: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events %s", where)
	if err := sr.DB.QueryRowContext(ctx, countQuery, whereVals...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting events: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM events %s %s", models.SelectColumns(models.Event{}, ""), where, tail)
	events, err := sr.selectEvents(ctx, query, append(whereVals, tailVals...)...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// UpcomingEventsWithReminders returns non-cancelled events starting after now
// that have at least one reminder configured.
func (sr *SqlRepo) UpcomingEventsWithReminders(ctx context.Context, now time.Time) ([]models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events
		WHERE start_date > $1 AND status <> 'cancelled' AND jsonb_array_length(reminders) > 0
		ORDER BY start_date ASC, id ASC`, models.SelectColumns(models.Event{}, ""))
	return sr.selectEvents(ctx, query, now)
}

func (sr *SqlRepo) selectEvents(ctx context.Context, query string, args ...interface{}) ([]models.Event, error) {
	rows, err := sr.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var e models.Event
		if err := models.ScanRowToModel(&e, rows); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*models.Event, len(events))
	for i := range events {
		ptrs[i] = &events[i]
	}
	if err := loadRelations(ctx, sr.DB, ptrs); err != nil {
		return nil, err
	}
	return events, nil
}

func (sr *SqlRepo) IncrementViews(ctx context.Context, id int64) error {
	res, err := sr.DB.ExecContext(ctx, "UPDATE events SET views = views + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("error incrementing views: %w", err)
	}
	return expectAffected(res)
}

// UpdateEvent writes every writable column of e, provided the stored version
// still equals e.Version.
func (sr *SqlRepo) UpdateEvent(ctx context.Context, e models.Event) error {
	columns := e.ColumnNames()
	n := len(columns)

	query := fmt.Sprintf("UPDATE events SET %s, version = version + 1, updated_at = NOW() WHERE id = $%d AND version = $%d",
		setClause(columns), n+1, n+2)

	vals := models.GetValsFromModel(e)
	vals = append(vals, e.ID, e.Version)

	return sr.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, vals...)
		if err != nil {
			return fmt.Errorf("error updating event: %w", translateError(err))
		}
		return casResult(ctx, tx, res, e.ID)
	})
}

func (sr *SqlRepo) AddAttendee(ctx context.Context, eventID, userID, version int64) error {
	return sr.withTx(ctx, func(tx *sql.Tx) error {
		if err := bumpVersion(ctx, tx, eventID, version); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO event_attendees (event_id, user_id) VALUES ($1, $2)", eventID, userID)
		if err != nil {
			return fmt.Errorf("error adding attendee: %w", translateError(err))
		}
		return nil
	})
}

func (sr *SqlRepo) RemoveAttendee(ctx context.Context, eventID, userID, version int64) error {
	return sr.withTx(ctx, func(tx *sql.Tx) error {
		if err := bumpVersion(ctx, tx, eventID, version); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM event_attendees WHERE event_id = $1 AND user_id = $2", eventID, userID)
		if err != nil {
			return fmt.Errorf("error removing attendee: %w", err)
		}
		return expectAffected(res)
	})
}

func (sr *SqlRepo) SetLike(ctx context.Context, eventID, userID int64, liked bool, version int64) error {
	query := "DELETE FROM event_likes WHERE event_id = $1 AND user_id = $2"
	if liked {
		query = "INSERT INTO event_likes (event_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING"
	}

	return sr.withTx(ctx, func(tx *sql.Tx) error {
		if err := bumpVersion(ctx, tx, eventID, version); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, eventID, userID); err != nil {
			return fmt.Errorf("error setting like: %w", translateError(err))
		}
		return nil
	})
}

// AddComment appends a comment. Comments never conflict with registrations so
// they do not bump the event version.
func (sr *SqlRepo) AddComment(ctx context.Context, c models.Comment) (models.Comment, error) {
	row := sr.DB.QueryRowContext(ctx,
		"INSERT INTO event_comments (event_id, user_id, text, created_at) VALUES ($1, $2, $3, $4) RETURNING id",
		c.EventID, c.UserID, c.Text, c.CreatedAt)
	if err := row.Scan(&c.ID); err != nil {
		return models.Comment{}, fmt.Errorf("error adding comment: %w", translateError(err))
	}
	return c, nil
}

func (sr *SqlRepo) DeleteEvent(ctx context.Context, id int64) error {
	return sr.Delete(ctx, models.Event{ID: id})
}

func bumpVersion(ctx context.Context, tx *sql.Tx, eventID, version int64) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE events SET version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2",
		eventID, version)
	if err != nil {
		return fmt.Errorf("error bumping event version: %w", err)
	}
	return casResult(ctx, tx, res, eventID)
}

// casResult tells a lost compare-and-swap apart from a missing row.
func casResult(ctx context.Context, tx *sql.Tx, res sql.Result, eventID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)", eventID).Scan(&exists); err != nil {
		return fmt.Errorf("error checking event: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// loadRelations fills attendees and likes for events in two queries.
func loadRelations(ctx context.Context, q querier, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	byID := make(map[int64]*models.Event, len(events))
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		e.Attendees = []int64{}
		e.Likes = []int64{}
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	in := placeholders(1, len(ids))
	relations := []struct {
		query string
		set   func(e *models.Event, userID int64)
	}{
		{
			query: fmt.Sprintf("SELECT event_id, user_id FROM event_attendees WHERE event_id IN (%s) ORDER BY registered_at, user_id", in),
			set:   func(e *models.Event, userID int64) { e.Attendees = append(e.Attendees, userID) },
		},
		{
			query: fmt.Sprintf("SELECT event_id, user_id FROM event_likes WHERE event_id IN (%s) ORDER BY user_id", in),
			set:   func(e *models.Event, userID int64) { e.Likes = append(e.Likes, userID) },
		},
	}

	for _, rel := range relations {
		if err := scanPairs(ctx, q, rel.query, idArgs(ids), func(eventID, userID int64) {
			if e, ok := byID[eventID]; ok {
				rel.set(e, userID)
			}
		}); err != nil {
			return err
		}
	}

	for _, e := range events {
		if e.Comments == nil {
			e.Comments = []models.Comment{}
		}
		e.RefreshAnalytics()
	}
	return nil
}

func scanPairs(ctx context.Context, q querier, query string, args []interface{}, fn func(a, b int64)) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error loading event relations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a, b int64
		if err := rows.Scan(&a, &b); err != nil {
			return err
		}
		fn(a, b)
	}
	return rows.Err()
}

func loadComments(ctx context.Context, q querier, eventID int64) ([]models.Comment, error) {
	rows, err := q.QueryContext(ctx, `SELECT c.id, c.event_id, c.user_id, u.name, c.text, c.created_at
		FROM event_comments c JOIN users u ON u.id = c.user_id
		WHERE c.event_id = $1 ORDER BY c.created_at, c.id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("error loading comments: %w", err)
	}
	defer rows.Close()

	comments := []models.Comment{}
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.EventID, &c.UserID, &c.AuthorName, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return comments, nil
}
