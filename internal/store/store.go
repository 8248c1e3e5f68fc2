// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/careerflow/internal/domain"
)

// Repository persists the operational turn log.
type Repository interface {
	// RecordTurn stores a finished counselling turn. A record with an empty ID gets one assigned.
	RecordTurn(ctx context.Context, turn *domain.TurnRecord) error

	// ListTurns returns a session's turns, oldest first, capped at limit (0 means no cap).
	ListTurns(ctx context.Context, sessionID string, limit int) ([]*domain.TurnRecord, error)

	// CleanupExpiredTurns removes turns that started more than retention ago.
	CleanupExpiredTurns(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
