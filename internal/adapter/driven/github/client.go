// Package github implements the RemoteMirror port on top of the GitHub
// repository contents API using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RemoteMirror = (*Client)(nil)

// Target identifies the file the credential mapping is mirrored to.
type Target struct {
	Repo          string // "owner/name".
	Path          string // File path inside the repository.
	Branch        string // Branch to read from and commit to.
	CommitMessage string // Defaults to "Update <path>".
}

// Client implements the driven.RemoteMirror port using the go-github library.
type Client struct {
	gh      *gh.Client
	owner   string
	repo    string
	path    string
	branch  string
	message string
}

// NewClient creates a contents API client with the following transport stack:
//  1. revalidation (forces max-age=0 so cached reads are always revalidated)
//  2. httpcache (ETag-based conditional request caching)
//  3. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  4. go-github (GitHub REST API client with PAT auth)
func NewClient(token string, target Target) (*Client, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(&revalidatingTransport{next: cacheTransport})
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return newClient(client, target)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string, target Target) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return newClient(client, target)
}

func newClient(client *gh.Client, target Target) (*Client, error) {
	owner, repo, err := splitRepo(target.Repo)
	if err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(target.Path, "/")
	if path == "" {
		return nil, errors.New("mirror path must not be empty")
	}

	message := target.CommitMessage
	if message == "" {
		message = "Update " + path
	}

	return &Client{
		gh:      client,
		owner:   owner,
		repo:    repo,
		path:    path,
		branch:  target.Branch,
		message: message,
	}, nil
}

// Location describes the mirror target as "owner/repo@branch:path".
func (c *Client) Location() string {
	return fmt.Sprintf("%s/%s@%s:%s", c.owner, c.repo, c.branch, c.path)
}

// Fetch reads the mirrored file and returns its decoded mapping and blob SHA.
// A missing file returns driven.ErrRemoteNotFound.
func (c *Client) Fetch(ctx context.Context) (*model.RemoteSnapshot, error) {
	opts := &gh.RepositoryContentGetOptions{Ref: c.branch}

	file, dir, resp, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, c.path, opts)
	logRateLimit(resp, c.Location()+"/get")
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", c.Location(), classify(err, opFetch))
	}
	if file == nil {
		return nil, fmt.Errorf("fetching %s: %w: path is a directory with %d entries", c.Location(), driven.ErrRemoteRejected, len(dir))
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w: %w", c.Location(), driven.ErrMalformedStore, err)
	}

	m, err := model.DecodeMapping([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w: %w", c.Location(), driven.ErrMalformedStore, err)
	}

	return &model.RemoteSnapshot{Mapping: m, Version: file.GetSHA()}, nil
}

// Put commits the full mapping. With an empty version the file is created;
// otherwise version is sent as the blob SHA precondition and a mismatch
// returns driven.ErrConflict.
func (c *Client) Put(ctx context.Context, m model.CredentialMapping, version string) (string, error) {
	content, err := model.EncodeMapping(m)
	if err != nil {
		return "", err
	}

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(c.message),
		Content: content, // go-github base64-encodes []byte in the request body.
	}
	if c.branch != "" {
		opts.Branch = gh.Ptr(c.branch)
	}

	var (
		result *gh.RepositoryContentResponse
		resp   *gh.Response
	)
	op := opCreate
	if version == "" {
		result, resp, err = c.gh.Repositories.CreateFile(ctx, c.owner, c.repo, c.path, opts)
	} else {
		op = opUpdate
		opts.SHA = gh.Ptr(version)
		result, resp, err = c.gh.Repositories.UpdateFile(ctx, c.owner, c.repo, c.path, opts)
	}
	logRateLimit(resp, c.Location()+"/put")
	if err != nil {
		return "", fmt.Errorf("committing %s: %w", c.Location(), classify(err, op))
	}

	return result.GetContent().GetSHA(), nil
}

// operation identifies the contents API call an error came from.
type operation int

const (
	opFetch operation = iota
	opCreate
	opUpdate
)

// classify maps a go-github error onto the driven sentinel errors, keeping the
// underlying error in the chain. Only a read can be "not found"; a 404 on write
// means the repository or branch is missing. A 422 on create means the file
// appeared after it was read as absent.
func classify(err error, op operation) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch status := ghErr.Response.StatusCode; {
		case status == http.StatusNotFound && op == opFetch:
			return fmt.Errorf("%w: %w", driven.ErrRemoteNotFound, err)
		case status == http.StatusConflict:
			return fmt.Errorf("%w: %w", driven.ErrConflict, err)
		case status == http.StatusUnprocessableEntity && op == opCreate:
			return fmt.Errorf("%w: %w", driven.ErrConflict, err)
		default:
			return fmt.Errorf("%w (status %d): %w", driven.ErrRemoteRejected, status, err)
		}
	}

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %w", driven.ErrRemoteRejected, err)
	}

	// Everything else never produced an HTTP response: DNS, TLS, connection
	// resets, or the caller's deadline.
	return fmt.Errorf("%w: %w", driven.ErrRemoteUnreachable, err)
}

// revalidatingTransport marks every read as max-age=0 so httpcache never serves
// a cached body without an ETag round trip. A stale blob SHA would turn every
// write into a conflict.
type revalidatingTransport struct {
	next http.RoundTripper
}

// RoundTrip sets the Cache-Control request header and delegates.
func (t *revalidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet && req.Header.Get("Cache-Control") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Cache-Control", "max-age=0")
	}
	return t.next.RoundTrip(req)
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
