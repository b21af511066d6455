package model

import "time"

// SyncAttempt is an audit record of one Sync call. It carries outcome
// metadata only; the refresh credential is never recorded.
type SyncAttempt struct {
	ID              int64
	UserID          string
	Policy          PersistPolicy
	Outcome         SyncOutcome
	PreviousVersion string // Remote SHA observed before upload; empty when absent.
	Version         string // Remote SHA after upload; empty on failure or local-only.
	Attempts        int
	Error           string
	StartedAt       time.Time
	Duration        time.Duration
}
