// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/briefsmith/internal/domain"
)

// Repository persists generation runs.
type Repository interface {
	// SaveRun inserts or replaces a run.
	SaveRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run by ID. It returns nil, nil when no run exists.
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRuns returns the newest runs of an owner, at most limit of them.
	ListRuns(ctx context.Context, ownerID string, limit int) ([]*domain.Run, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
