package repository

import (
	"context"
	"database/sql"
	"errors"
	"eventhub/data/models"
	"fmt"
	"strings"
)

func (sr *SqlRepo) CreateUser(ctx context.Context, u models.User) (int64, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return sr.Create(ctx, u)
}

func (sr *SqlRepo) UpdateUser(ctx context.Context, u models.User) error {
	return sr.Update(ctx, u)
}

func (sr *SqlRepo) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	model, err := sr.GetModelByID(ctx, &models.User{}, id)
	if err != nil {
		return models.User{}, err
	}

	user, ok := model.(*models.User)
	if !ok {
		return models.User{}, fmt.Errorf("type assertion to User failed")
	}

	return *user, nil
}

func (sr *SqlRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE email = $1", models.SelectColumns(models.User{}, ""))

	var u models.User
	row := sr.DB.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email)))
	if err := models.ScanRowToModel(&u, row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

// GetUsersByIDs returns the users that exist among ids, ordered by id.
func (sr *SqlRepo) GetUsersByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}

	query := fmt.Sprintf("SELECT %s FROM users WHERE id IN (%s) ORDER BY id",
		models.SelectColumns(models.User{}, ""),
		placeholders(1, len(ids)))

	rows, err := sr.DB.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("error querying users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0, len(ids))
	for rows.Next() {
		var u models.User
		if err := models.ScanRowToModel(&u, rows); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
