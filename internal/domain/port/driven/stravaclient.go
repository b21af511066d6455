package driven

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
)

// StravaClient defines the driven port for the Strava OAuth token endpoint and
// the athlete profile API.
type StravaClient interface {
	// AuthCodeURL returns the consent page URL that starts the flow.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for tokens. Returns
	// ErrExchangeRejected when Strava refuses the code or omits a refresh token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchAthlete returns the profile of the athlete the token belongs to.
	// Returns ErrProfileUnavailable on any non-success response.
	FetchAthlete(ctx context.Context, token *oauth2.Token) (*model.Athlete, error)
}
