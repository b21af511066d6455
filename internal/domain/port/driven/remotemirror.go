package driven

import (
	"context"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
)

// RemoteMirror defines the driven port for the version-controlled remote copy
// of the credential mapping.
type RemoteMirror interface {
	// Fetch returns the current remote mapping and its version token.
	// Returns ErrRemoteNotFound when no remote copy exists yet.
	Fetch(ctx context.Context) (*model.RemoteSnapshot, error)

	// Put uploads the full mapping. An empty version creates the file; a
	// non-empty version is sent as the precondition and a mismatch returns
	// ErrConflict. Returns the new version token.
	Put(ctx context.Context, m model.CredentialMapping, version string) (string, error)

	// Location describes the mirror target for logs ("owner/repo@branch:path").
	Location() string
}
