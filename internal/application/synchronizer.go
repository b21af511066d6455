package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

const (
	// MaxSyncAttempts bounds the conflict retry loop.
	MaxSyncAttempts = 5

	defaultRemoteTimeout = 10 * time.Second
	defaultRetryInterval = 250 * time.Millisecond
)

var (
	// ErrInvalidCredential means Sync was called without a user id or refresh
	// credential.
	ErrInvalidCredential = errors.New("user id and refresh credential are required")

	// ErrMirrorDisabled means a remote read was requested but no remote mirror
	// is configured.
	ErrMirrorDisabled = errors.New("remote mirror is not configured")
)

// CredentialSyncer persists one credential record. Synchronizer is the
// production implementation.
type CredentialSyncer interface {
	Sync(ctx context.Context, userID, displayName, refreshCredential string) (*SyncResult, error)
}

// SyncResult describes a successful Sync.
type SyncResult struct {
	Mapping         model.CredentialMapping
	PreviousVersion string // Remote version the upload was conditioned on; empty on create.
	Version         string // Remote version after upload; empty in local-only mode.
	Attempts        int
	Mirrored        bool
}

// SyncOptions configures a Synchronizer. Zero values select defaults.
type SyncOptions struct {
	// Policy is recorded on audit entries.
	Policy model.PersistPolicy
	// Attempts is the total number of fetch/merge/upload rounds tried when the
	// upload hits a version conflict. 1 disables retry.
	Attempts int
	// RetryInterval is the initial backoff between conflict retries.
	RetryInterval time.Duration
	// RemoteTimeout bounds each remote fetch and upload.
	RemoteTimeout time.Duration
	// RecordTimestamps stamps updated_at on every written record.
	RecordTimestamps bool
}

// Synchronizer reconciles the local credential store with the remote mirror.
// Sync calls are serialized within the process.
type Synchronizer struct {
	local  driven.CredentialStore
	remote driven.RemoteMirror
	audit  driven.SyncAttemptStore
	clock  clockwork.Clock
	opts   SyncOptions

	mu sync.Mutex
}

// NewSynchronizer creates a Synchronizer. remote and audit may be nil: without
// a remote mirror Sync only writes the local store, and without an audit store
// attempts are only logged.
func NewSynchronizer(
	local driven.CredentialStore,
	remote driven.RemoteMirror,
	audit driven.SyncAttemptStore,
	clock clockwork.Clock,
	opts SyncOptions,
) *Synchronizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Policy == "" {
		opts.Policy = model.PersistSync
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Attempts > MaxSyncAttempts {
		opts.Attempts = MaxSyncAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = defaultRemoteTimeout
	}

	return &Synchronizer{
		local:  local,
		remote: remote,
		audit:  audit,
		clock:  clock,
		opts:   opts,
	}
}

// MirrorEnabled reports whether a remote mirror is configured.
func (s *Synchronizer) MirrorEnabled() bool {
	return s.remote != nil
}

// MirrorLocation describes the remote mirror target, or "" when disabled.
func (s *Synchronizer) MirrorLocation() string {
	if s.remote == nil {
		return ""
	}
	return s.remote.Location()
}

// Policy returns the persist policy recorded on audit entries.
func (s *Synchronizer) Policy() model.PersistPolicy {
	return s.opts.Policy
}

// FetchRemote reads the remote mirror. A missing remote copy is not an error:
// it returns a nil snapshot.
func (s *Synchronizer) FetchRemote(ctx context.Context) (*model.RemoteSnapshot, error) {
	if s.remote == nil {
		return nil, ErrMirrorDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	defer cancel()

	snap, err := s.remote.Fetch(ctx)
	if errors.Is(err, driven.ErrRemoteNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, remoteError(err)
	}
	return snap, nil
}

// Credentials returns the mapping held by the requested source. A remote
// mirror with no copy yet reads as an empty mapping.
func (s *Synchronizer) Credentials(ctx context.Context, source model.ReadSource) (model.CredentialMapping, error) {
	switch source {
	case model.ReadRemote:
		snap, err := s.FetchRemote(ctx)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return model.CredentialMapping{}, nil
		}
		return snap.Mapping, nil
	default:
		return s.local.Load(ctx)
	}
}

// Sync stores the credential for userID locally and, when a mirror is
// configured, uploads the merged mapping conditioned on the remote version
// read at the start of the round. A version conflict fails with
// driven.ErrConflict once the configured attempts are exhausted.
func (s *Synchronizer) Sync(ctx context.Context, userID, displayName, refreshCredential string) (*SyncResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || refreshCredential == "" {
		return nil, ErrInvalidCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.clock.Now()
	rec := model.CredentialRecord{
		DisplayName:       displayName,
		RefreshCredential: refreshCredential,
	}
	if s.opts.RecordTimestamps {
		stamp := started.UTC()
		rec.UpdatedAt = &stamp
	}

	var (
		result *SyncResult
		err    error
	)
	if s.remote == nil {
		result, err = s.syncLocal(ctx, userID, rec)
	} else {
		result, err = s.syncMirrored(ctx, userID, rec)
	}

	s.report(ctx, userID, started, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Synchronizer) syncLocal(ctx context.Context, userID string, rec model.CredentialRecord) (*SyncResult, error) {
	m, err := s.local.Upsert(ctx, userID, rec)
	if err != nil {
		return &SyncResult{Attempts: 1}, err
	}
	return &SyncResult{Mapping: m, Attempts: 1}, nil
}

func (s *Synchronizer) syncMirrored(ctx context.Context, userID string, rec model.CredentialRecord) (*SyncResult, error) {
	result := &SyncResult{}

	round := func() error {
		result.Attempts++

		snap, err := s.FetchRemote(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		var base model.CredentialMapping
		if snap != nil {
			base = snap.Mapping
			result.PreviousVersion = snap.Version
		} else {
			result.PreviousVersion = ""
			base, err = s.local.Load(ctx)
			if err != nil {
				return backoff.Permanent(err)
			}
		}

		merged := base.With(userID, rec)
		if err := s.local.Save(ctx, merged); err != nil {
			return backoff.Permanent(err)
		}

		version, err := s.put(ctx, merged, result.PreviousVersion)
		if errors.Is(err, driven.ErrConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		result.Mapping = merged
		result.Version = version
		result.Mirrored = true
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.opts.RetryInterval
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(s.opts.Attempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		slog.Warn("remote mirror conflict, retrying",
			"user_id", userID,
			"attempt", result.Attempts,
			"max_attempts", s.opts.Attempts,
			"wait", wait.Round(time.Millisecond),
			"error", err,
		)
	}

	if err := backoff.RetryNotify(round, policy, notify); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Synchronizer) put(ctx context.Context, m model.CredentialMapping, version string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	defer cancel()

	newVersion, err := s.remote.Put(ctx, m, version)
	if err != nil {
		return "", remoteError(err)
	}
	return newVersion, nil
}

// report logs the outcome of a Sync and appends it to the audit trail.
func (s *Synchronizer) report(ctx context.Context, userID string, started time.Time, result *SyncResult, err error) {
	outcome := ClassifyOutcome(err)
	elapsed := s.clock.Since(started)

	attempt := model.SyncAttempt{
		UserID:    userID,
		Policy:    s.opts.Policy,
		Outcome:   outcome,
		StartedAt: started,
		Duration:  elapsed,
	}
	if result != nil {
		attempt.PreviousVersion = result.PreviousVersion
		attempt.Version = result.Version
		attempt.Attempts = result.Attempts
	}

	if err != nil {
		attempt.Error = err.Error()
		slog.Warn("credential sync failed",
			"user_id", userID,
			"outcome", outcome,
			"attempts", attempt.Attempts,
			"mirror", s.MirrorLocation(),
			"error", err,
		)
	} else {
		slog.Info("credential synced",
			"user_id", userID,
			"mirrored", result.Mirrored,
			"previous_version", result.PreviousVersion,
			"version", result.Version,
			"attempts", result.Attempts,
			"duration", elapsed.Round(time.Millisecond),
		)
	}

	if s.audit == nil {
		return
	}
	if _, auditErr := s.audit.Record(context.WithoutCancel(ctx), attempt); auditErr != nil {
		slog.Error("failed to record sync attempt", "user_id", userID, "error", auditErr)
	}
}

// remoteError maps a deadline that escaped the adapter unclassified onto
// driven.ErrRemoteUnreachable.
func remoteError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, driven.ErrRemoteUnreachable) {
		return fmt.Errorf("%w: %w", driven.ErrRemoteUnreachable, err)
	}
	return err
}
