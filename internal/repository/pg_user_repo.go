package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/platepulse/recommender/internal/domain"
)

type pgUserRepository struct {
	pool *pgxpool.Pool
}

// NewPgUserRepository returns a UserRepository backed by PostgreSQL.
func NewPgUserRepository(pool *pgxpool.Pool) UserRepository {
	return &pgUserRepository{pool: pool}
}

func (r *pgUserRepository) ListActive(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, name, is_active, location, preferences, created_at, updated_at
		FROM users
		WHERE is_active = TRUE
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *pgUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, name, is_active, location, preferences, created_at, updated_at
		FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return u, err
}

// scanUser reads a user row; the preference blob goes through the lenient
// parser so a corrupt value never fails the read.
func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var location *string
	var prefs string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Active, &location, &prefs,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if location != nil {
		u.Location = *location
	}
	u.Preferences = domain.ParsePreferences([]byte(prefs))
	return &u, nil
}
