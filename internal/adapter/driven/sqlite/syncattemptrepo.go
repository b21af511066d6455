package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

const (
	// maxListLimit caps ListRecent regardless of the requested limit.
	maxListLimit = 500

	// timeLayout is fixed width so started_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Compile-time interface satisfaction check.
var _ driven.SyncAttemptStore = (*SyncAttemptRepo)(nil)

// SyncAttemptRepo is the SQLite implementation of the SyncAttemptStore port interface.
type SyncAttemptRepo struct {
	db *DB
}

// NewSyncAttemptRepo creates a new SyncAttemptRepo backed by the given DB.
func NewSyncAttemptRepo(db *DB) *SyncAttemptRepo {
	return &SyncAttemptRepo{db: db}
}

// Record inserts an attempt and returns it with the assigned ID. A zero
// StartedAt is replaced with the current time.
func (r *SyncAttemptRepo) Record(ctx context.Context, attempt model.SyncAttempt) (model.SyncAttempt, error) {
	const query = `
		INSERT INTO sync_attempts (
			user_id, policy, outcome, previous_version, version,
			attempts, error, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = time.Now()
	}
	attempt.StartedAt = attempt.StartedAt.UTC()

	result, err := r.db.Writer.ExecContext(ctx, query,
		attempt.UserID,
		string(attempt.Policy),
		string(attempt.Outcome),
		attempt.PreviousVersion,
		attempt.Version,
		attempt.Attempts,
		attempt.Error,
		attempt.StartedAt.Format(timeLayout),
		attempt.Duration.Milliseconds(),
	)
	if err != nil {
		return model.SyncAttempt{}, fmt.Errorf("record sync attempt for %s: %w", attempt.UserID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.SyncAttempt{}, fmt.Errorf("get sync attempt id: %w", err)
	}
	attempt.ID = id

	return attempt, nil
}

// ListRecent returns up to limit attempts ordered newest first. A limit that
// is not positive, or exceeds the cap, is clamped.
func (r *SyncAttemptRepo) ListRecent(ctx context.Context, limit int) ([]model.SyncAttempt, error) {
	const query = `
		SELECT id, user_id, policy, outcome, previous_version, version,
		       attempts, error, started_at, duration_ms
		FROM sync_attempts
		ORDER BY started_at DESC, id DESC
		LIMIT ?`

	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync attempts: %w", err)
	}
	defer rows.Close()

	result := make([]model.SyncAttempt, 0)
	for rows.Next() {
		var (
			a          model.SyncAttempt
			policy     string
			outcome    string
			startedAt  string
			durationMS int64
		)
		if err := rows.Scan(
			&a.ID, &a.UserID, &policy, &outcome, &a.PreviousVersion, &a.Version,
			&a.Attempts, &a.Error, &startedAt, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("scan sync attempt: %w", err)
		}

		a.Policy = model.PersistPolicy(policy)
		a.Outcome = model.SyncOutcome(outcome)
		a.Duration = time.Duration(durationMS) * time.Millisecond
		a.StartedAt, err = parseTime(startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at for attempt %d: %w", a.ID, err)
		}

		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync attempts: %w", err)
	}

	return result, nil
}

// parseTime tries the formats started_at may have been written in.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		timeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
