package repository

import (
	"context"
	"database/sql"
	"errors"
	"eventhub/data/migrations"
	"eventhub/data/models"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("record was modified concurrently")
	ErrDuplicate       = errors.New("record already exists")
)

type DBRepo interface {
	Connection() *sql.DB
	RunMigrations(dbName string) error
	UserRepo
	EventRepo
	ReminderRepo
}

type UserRepo interface {
	CreateUser(ctx context.Context, u models.User) (int64, error)
	UpdateUser(ctx context.Context, u models.User) error
	GetUserByID(ctx context.Context, id int64) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUsersByIDs(ctx context.Context, ids []int64) ([]models.User, error)
}

// EventRepo persists events. Every method that changes attendees, likes or
// event fields takes the version the caller read and fails with
// ErrVersionConflict when the row moved on in the meantime.
type EventRepo interface {
	CreateEvent(ctx context.Context, e models.Event) (int64, error)
	GetEventByID(ctx context.Context, id int64) (models.Event, error)
	QueryEvents(ctx context.Context, q EventQuery) ([]models.Event, int, error)
	UpcomingEventsWithReminders(ctx context.Context, now time.Time) ([]models.Event, error)
	IncrementViews(ctx context.Context, id int64) error
	UpdateEvent(ctx context.Context, e models.Event) error
	AddAttendee(ctx context.Context, eventID, userID, version int64) error
	RemoveAttendee(ctx context.Context, eventID, userID, version int64) error
	SetLike(ctx context.Context, eventID, userID int64, liked bool, version int64) error
	AddComment(ctx context.Context, c models.Comment) (models.Comment, error)
	DeleteEvent(ctx context.Context, id int64) error
}

type ReminderRepo interface {
	ReminderDeliveries(ctx context.Context, eventID int64) (map[models.DeliveryKey]models.DeliveryStatus, error)
	MarkReminderDelivery(ctx context.Context, key models.DeliveryKey, status models.DeliveryStatus, at time.Time) error
}

type SqlRepo struct {
	DB  *sql.DB
	Log logrus.FieldLogger
}

func (sr *SqlRepo) Connection() *sql.DB {
	return sr.DB
}

func (sr *SqlRepo) logger() logrus.FieldLogger {
	if sr.Log == nil {
		return logrus.StandardLogger()
	}
	return sr.Log
}

// RunMigrations applies the embedded schema migrations.
func (sr *SqlRepo) RunMigrations(dbName string) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := pgx.WithInstance(sr.DB, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	sr.logger().WithField("database", dbName).Info("migrations complete")
	return nil
}

// Create inserts a model into the corresponding db table and returns id of the
// newly created record.
func (sr *SqlRepo) Create(ctx context.Context, m models.Model) (id int64, err error) {
	vals := models.GetValsFromModel(m)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		m.TableName(),
		strings.Join(m.ColumnNames(), ", "),
		placeholders(1, len(vals)))

	if err := sr.DB.QueryRowContext(ctx, query, vals...).Scan(&id); err != nil {
		return 0, fmt.Errorf("error executing query: %w", translateError(err))
	}

	return id, nil
}

// Update overwrites every writable column of the model's row.
func (sr *SqlRepo) Update(ctx context.Context, m models.Model) error {
	columns := m.ColumnNames()

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		m.TableName(),
		setClause(columns),
		len(columns)+1)

	vals := models.GetValsFromModel(m)
	vals = append(vals, m.GetID())
	res, err := sr.DB.ExecContext(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("error executing query: %w", translateError(err))
	}
	return expectAffected(res)
}

func (sr *SqlRepo) Delete(ctx context.Context, m models.Model) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", m.TableName())

	res, err := sr.DB.ExecContext(ctx, query, m.GetID())
	if err != nil {
		return fmt.Errorf("error deleting record: %w", err)
	}
	return expectAffected(res)
}

// GetModelByID retrieves a model from the db by its ID and returns it. The
// model must be passed as a pointer to the desired model type.
func (sr *SqlRepo) GetModelByID(ctx context.Context, m models.Model, id int64) (models.Model, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", models.SelectColumns(m, ""), m.TableName())
	r := sr.DB.QueryRowContext(ctx, query, id)

	if err := models.ScanRowToModel(m, r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (sr *SqlRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := sr.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

func placeholders(start, n int) string {
	ph := make([]string, n)
	for i := 0; i < n; i++ {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
}

func setClause(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	return strings.Join(parts, ", ")
}

func idArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// translateError maps postgres constraint violations onto repository errors.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
