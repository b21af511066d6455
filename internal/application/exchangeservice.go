package application

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/microcosm-cc/bluemonday"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

// maxSanitizePasses bounds the decode/sanitize loop in sanitizeName.
const maxSanitizePasses = 4

// PersistStatus reports what happened to the credential after the exchange.
type PersistStatus string

const (
	// PersistSaved means the credential was stored before the response.
	PersistSaved PersistStatus = "saved"
	// PersistPending means the credential is queued for a deferred sync.
	PersistPending PersistStatus = "pending"
	// PersistNotQueued means the deferred queue refused the job.
	PersistNotQueued PersistStatus = "not_queued"
)

// PersistQueue accepts deferred persist jobs. PersistWorker implements it.
type PersistQueue interface {
	Submit(job PersistJob) bool
}

// ExchangeResult is what the caller receives after a successful exchange.
type ExchangeResult struct {
	AthleteID    string
	DisplayName  string
	RefreshToken string
	Persisted    PersistStatus
	Version      string // Remote version after a synchronous persist.
}

// PersistError means the authorization code was exchanged but the credential
// could not be stored. It only occurs under the synchronous persist policy.
type PersistError struct {
	AthleteID   string
	DisplayName string
	Err         error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("credential for athlete %s obtained but not saved: %v", e.AthleteID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// ExchangeService turns an OAuth authorization code into a stored credential.
type ExchangeService struct {
	strava    driven.StravaClient
	syncer    CredentialSyncer
	queue     PersistQueue
	policy    model.PersistPolicy
	clock     clockwork.Clock
	sanitizer *bluemonday.Policy
}

// NewExchangeService creates an ExchangeService. queue is required only for
// the deferred policy.
func NewExchangeService(
	strava driven.StravaClient,
	syncer CredentialSyncer,
	queue PersistQueue,
	policy model.PersistPolicy,
	clock clockwork.Clock,
) *ExchangeService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if policy == model.PersistDeferred && queue == nil {
		policy = model.PersistSync
	}

	return &ExchangeService{
		strava:    strava,
		syncer:    syncer,
		queue:     queue,
		policy:    policy,
		clock:     clock,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Policy returns the effective persist policy.
func (s *ExchangeService) Policy() model.PersistPolicy {
	return s.policy
}

// AuthorizeURL returns the Strava consent URL carrying state.
func (s *ExchangeService) AuthorizeURL(state string) string {
	return s.strava.AuthCodeURL(state)
}

// Exchange trades code for tokens, resolves the athlete and persists the
// refresh credential according to the configured policy. Exchange and profile
// failures are returned as-is; a synchronous persist failure is returned as
// *PersistError.
func (s *ExchangeService) Exchange(ctx context.Context, code, requestID string) (*ExchangeResult, error) {
	token, err := s.strava.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	athlete, err := s.strava.FetchAthlete(ctx, token)
	if err != nil {
		return nil, err
	}

	result := &ExchangeResult{
		AthleteID:    athlete.ID,
		DisplayName:  s.sanitizeName(athlete.DisplayName()),
		RefreshToken: token.RefreshToken,
	}

	if s.policy == model.PersistDeferred {
		queued := s.queue.Submit(PersistJob{
			UserID:            result.AthleteID,
			DisplayName:       result.DisplayName,
			RefreshCredential: result.RefreshToken,
			RequestID:         requestID,
			SubmittedAt:       s.clock.Now(),
		})
		result.Persisted = PersistPending
		if !queued {
			result.Persisted = PersistNotQueued
		}
		return result, nil
	}

	// The caller going away must not abandon a sync halfway through.
	synced, err := s.syncer.Sync(context.WithoutCancel(ctx), result.AthleteID, result.DisplayName, result.RefreshToken)
	if err != nil {
		return nil, &PersistError{
			AthleteID:   result.AthleteID,
			DisplayName: result.DisplayName,
			Err:         err,
		}
	}

	result.Persisted = PersistSaved
	result.Version = synced.Version
	return result, nil
}

// sanitizeName strips markup from a profile name so it can be stored and
// echoed as plain text. Each pass decodes entities before sanitizing, so
// entity-encoded markup is stripped rather than revived; passes repeat until
// the text is stable. A name that does not settle within maxSanitizePasses is
// replaced by the unknown-athlete name.
func (s *ExchangeService) sanitizeName(name string) string {
	text := name
	settled := false
	for range maxSanitizePasses {
		next := html.UnescapeString(s.sanitizer.Sanitize(html.UnescapeString(text)))
		if next == text {
			settled = true
			break
		}
		text = next
	}

	text = strings.TrimSpace(text)
	if !settled || text == "" {
		return model.Athlete{}.DisplayName()
	}
	return text
}
