package repository

import (
	"context"

	"github.com/platepulse/recommender/internal/domain"
)

// UserRepository is the read-only view of user accounts the pipeline needs.
// Users are written by account management, never by this service.
type UserRepository interface {
	// ListActive returns every active user in a stable (id) order.
	ListActive(ctx context.Context) ([]*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}
