package driven

import (
	"context"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
)

// SyncAttemptStore defines the driven port for the sync audit trail.
type SyncAttemptStore interface {
	// Record appends an attempt and returns it with its assigned ID.
	Record(ctx context.Context, attempt model.SyncAttempt) (model.SyncAttempt, error)

	// ListRecent returns up to limit attempts, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.SyncAttempt, error)
}
