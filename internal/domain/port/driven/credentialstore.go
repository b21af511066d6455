package driven

import (
	"context"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
)

// CredentialStore defines the driven port for the local credential mapping.
type CredentialStore interface {
	// Load returns the full mapping. A missing store yields an empty mapping.
	// Unparseable content returns ErrMalformedStore; read failures ErrLocalIO.
	Load(ctx context.Context) (model.CredentialMapping, error)

	// Save replaces the stored mapping with m in a single atomic write.
	Save(ctx context.Context, m model.CredentialMapping) error

	// Upsert loads the mapping, sets userID to rec, saves, and returns the
	// updated mapping. Implementations serialize concurrent Upsert calls.
	Upsert(ctx context.Context, userID string, rec model.CredentialRecord) (model.CredentialMapping, error)
}
