package driven

import "errors"

// Sentinel errors shared by the driven adapters. Adapters wrap them with
// context using fmt.Errorf("...: %w", ...); callers match with errors.Is.
var (
	// ErrRemoteNotFound means the remote mirror has no copy yet. It is the
	// expected state on first use and is not a synchronization failure.
	ErrRemoteNotFound = errors.New("remote mirror content not found")

	// ErrConflict means the remote content changed since its version was read,
	// so the precondition on upload failed.
	ErrConflict = errors.New("remote mirror version conflict")

	// ErrRemoteUnreachable covers transport failures and timeouts.
	ErrRemoteUnreachable = errors.New("remote mirror unreachable")

	// ErrRemoteRejected covers any other non-success remote response.
	ErrRemoteRejected = errors.New("remote mirror rejected request")

	// ErrLocalIO means the local store file could not be read or written.
	ErrLocalIO = errors.New("local store I/O failure")

	// ErrMalformedStore means local or remote content did not parse as a
	// credential mapping.
	ErrMalformedStore = errors.New("malformed store content")

	// ErrExchangeRejected means Strava refused the authorization code.
	ErrExchangeRejected = errors.New("authorization code exchange rejected")

	// ErrProfileUnavailable means the athlete profile could not be fetched
	// after a successful exchange.
	ErrProfileUnavailable = errors.New("athlete profile unavailable")
)
