// Package strava implements the StravaClient port: the OAuth2 authorization
// code exchange and the authenticated athlete profile lookup.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

// DefaultBaseURL is the Strava web and API origin.
const DefaultBaseURL = "https://www.strava.com"

// maxProfileBytes caps how much of the athlete response is read.
const maxProfileBytes = 1 << 20

// Compile-time interface satisfaction check.
var _ driven.StravaClient = (*Client)(nil)

// Config holds the application credentials registered with Strava.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// BaseURL overrides DefaultBaseURL, for tests.
	BaseURL string
	// HTTPClient is used for both the token and profile requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Client talks to the Strava OAuth token endpoint and the v3 athlete API.
type Client struct {
	oauth      *oauth2.Config
	athleteURL string
	httpClient *http.Client
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"read,activity:read_all"}, // Strava expects a comma-separated list.
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		athleteURL: base + "/api/v3/athlete",
		httpClient: httpClient,
	}
}

// AuthCodeURL returns the Strava consent page URL for the given state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// Exchange trades an authorization code for an access and refresh token.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) {
			return nil, fmt.Errorf("%w: %s", driven.ErrExchangeRejected, retrieveMessage(rErr))
		}
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: response carried no refresh token", driven.ErrExchangeRejected)
	}
	return token, nil
}

// athleteResponse is the subset of GET /api/v3/athlete that is decoded.
type athleteResponse struct {
	ID        json.Number `json:"id"`
	FirstName string      `json:"firstname"`
	LastName  string      `json:"lastname"`
}

// FetchAthlete returns the profile of the athlete that authorized token.
func (c *Client) FetchAthlete(ctx context.Context, token *oauth2.Token) (*model.Athlete, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.athleteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating athlete request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driven.ErrProfileUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: athlete endpoint returned status %d", driven.ErrProfileUnavailable, resp.StatusCode)
	}

	var body athleteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding athlete: %w", driven.ErrProfileUnavailable, err)
	}

	id := body.ID.String()
	if id == "" || id == "0" {
		return nil, fmt.Errorf("%w: athlete response has no id", driven.ErrProfileUnavailable)
	}

	return &model.Athlete{
		ID:        id,
		FirstName: body.FirstName,
		LastName:  body.LastName,
	}, nil
}

// retrieveMessage extracts Strava's "message" field from a token endpoint
// error, falling back to the OAuth2 error code or HTTP status.
func retrieveMessage(rErr *oauth2.RetrieveError) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rErr.Body, &body); err == nil && body.Message != "" {
		return body.Message
	}
	if rErr.ErrorCode != "" {
		return rErr.ErrorCode
	}
	if rErr.Response != nil {
		return fmt.Sprintf("token endpoint returned status %d", rErr.Response.StatusCode)
	}
	return "token endpoint refused the code"
}
