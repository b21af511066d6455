package model

import "fmt"

// PersistPolicy controls whether the exchange response waits for the
// credential to be durably persisted.
type PersistPolicy string

const (
	PersistSync     PersistPolicy = "sync"     // Respond after Sync completes.
	PersistDeferred PersistPolicy = "deferred" // Respond first, Sync in the background.
)

// ParsePersistPolicy converts a configuration value into a PersistPolicy.
func ParsePersistPolicy(s string) (PersistPolicy, error) {
	switch PersistPolicy(s) {
	case PersistSync, PersistDeferred:
		return PersistPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown persist policy %q: expected %q or %q", s, PersistSync, PersistDeferred)
	}
}

// ReadSource selects which copy of the mapping an admin read is served from.
type ReadSource string

const (
	ReadLocal  ReadSource = "local"
	ReadRemote ReadSource = "remote"
)

// ParseReadSource converts a query parameter into a ReadSource. The empty
// string selects the local store.
func ParseReadSource(s string) (ReadSource, error) {
	switch ReadSource(s) {
	case "", ReadLocal:
		return ReadLocal, nil
	case ReadRemote:
		return ReadRemote, nil
	default:
		return "", fmt.Errorf("unknown read source %q", s)
	}
}

// SyncOutcome classifies how a sync attempt ended.
type SyncOutcome string

const (
	OutcomeOK                SyncOutcome = "ok"
	OutcomeConflict          SyncOutcome = "conflict"
	OutcomeRemoteUnreachable SyncOutcome = "remote_unreachable"
	OutcomeRemoteRejected    SyncOutcome = "remote_rejected"
	OutcomeLocalIO           SyncOutcome = "local_io"
	OutcomeMalformed         SyncOutcome = "malformed"
	OutcomeError             SyncOutcome = "error"
)
