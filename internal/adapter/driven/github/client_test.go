package github_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghAdapter "github.com/tolmanw/strava-auth-link/internal/adapter/driven/github"
	"github.com/tolmanw/strava-auth-link/internal/adapter/driven/github/githubtest"
	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

const (
	testRepo = "owner/data"
	testPath = "tokens.json"
)

// newTestClient creates a Client backed by a fake contents API.
func newTestClient(t *testing.T) (*ghAdapter.Client, *githubtest.Server) {
	t.Helper()

	server := githubtest.NewServer(t)

	client, err := ghAdapter.NewClientWithHTTPClient(
		server.Client(),
		server.BaseURL(),
		ghAdapter.Target{Repo: testRepo, Path: testPath, Branch: "main"},
	)
	require.NoError(t, err)

	return client, server
}

func TestFetch_NotFound(t *testing.T) {
	client, _ := newTestClient(t)

	snap, err := client.Fetch(context.Background())

	require.ErrorIs(t, err, driven.ErrRemoteNotFound)
	assert.Nil(t, snap)
}

func TestFetch_DecodesContentAndVersion(t *testing.T) {
	client, server := newTestClient(t)
	content := []byte(`{"123": {"display_name": "Jane Doe", "refresh_credential": "tok-abc"}}`)
	sha := server.SetFile(testRepo, testPath, content)

	snap, err := client.Fetch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, sha, snap.Version)
	assert.Equal(t, model.CredentialMapping{
		"123": {DisplayName: "Jane Doe", RefreshCredential: "tok-abc"},
	}, snap.Mapping)
}

func TestFetch_LargeFileWithWrappedBase64(t *testing.T) {
	client, server := newTestClient(t)

	m := model.CredentialMapping{}
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		m[id] = model.CredentialRecord{DisplayName: "Athlete " + id, RefreshCredential: "refresh-token-value-" + id}
	}
	content, err := model.EncodeMapping(m)
	require.NoError(t, err)
	server.SetFile(testRepo, testPath, content)

	snap, err := client.Fetch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, m, snap.Mapping)
}

func TestFetch_MalformedContent(t *testing.T) {
	client, server := newTestClient(t)
	server.SetFile(testRepo, testPath, []byte(`{"123": `))

	_, err := client.Fetch(context.Background())

	require.ErrorIs(t, err, driven.ErrMalformedStore)
}

func TestFetch_ServerErrorIsRejected(t *testing.T) {
	client, server := newTestClient(t)
	server.FailNext(http.StatusInternalServerError)

	_, err := client.Fetch(context.Background())

	require.ErrorIs(t, err, driven.ErrRemoteRejected)
	assert.NotErrorIs(t, err, driven.ErrRemoteNotFound)
}

func TestFetch_UnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL + "/"
	server.Close()

	client, err := ghAdapter.NewClientWithHTTPClient(
		&http.Client{Timeout: time.Second},
		baseURL,
		ghAdapter.Target{Repo: testRepo, Path: testPath, Branch: "main"},
	)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background())

	require.ErrorIs(t, err, driven.ErrRemoteUnreachable)
}

func TestPut_CreateWithoutVersion(t *testing.T) {
	client, server := newTestClient(t)
	m := model.CredentialMapping{"123": {DisplayName: "Jane Doe", RefreshCredential: "tok-abc"}}

	version, err := client.Put(context.Background(), m, "")

	require.NoError(t, err)
	content, sha, ok := server.File(testRepo, testPath)
	require.True(t, ok)
	assert.Equal(t, sha, version)
	assert.JSONEq(t, `{"123":{"display_name":"Jane Doe","refresh_credential":"tok-abc"}}`, string(content))

	puts := server.Puts()
	require.Len(t, puts, 1)
	assert.Empty(t, puts[0].SHA)
	assert.Equal(t, "main", puts[0].Branch)
	assert.Equal(t, "Update tokens.json", puts[0].Message)
}

func TestPut_UpdateSendsVersion(t *testing.T) {
	client, server := newTestClient(t)
	base := server.SetFile(testRepo, testPath, []byte(`{}`))

	version, err := client.Put(context.Background(), model.CredentialMapping{
		"123": {DisplayName: "Jane Doe", RefreshCredential: "tok-abc"},
	}, base)

	require.NoError(t, err)
	assert.NotEqual(t, base, version)

	puts := server.Puts()
	require.Len(t, puts, 1)
	assert.Equal(t, base, puts[0].SHA)
}

func TestPut_StaleVersionIsConflict(t *testing.T) {
	client, server := newTestClient(t)
	stale := server.SetFile(testRepo, testPath, []byte(`{}`))
	server.SetFile(testRepo, testPath, []byte(`{"999": {"display_name": "Other", "refresh_credential": "x"}}`))

	_, err := client.Put(context.Background(), model.CredentialMapping{}, stale)

	require.ErrorIs(t, err, driven.ErrConflict)

	content, _, _ := server.File(testRepo, testPath)
	assert.Contains(t, string(content), "999", "remote content must be unchanged after a conflict")
}

func TestPut_CreateOverExistingFileIsConflict(t *testing.T) {
	client, server := newTestClient(t)
	server.SetFile(testRepo, testPath, []byte(`{}`))

	_, err := client.Put(context.Background(), model.CredentialMapping{}, "")

	require.ErrorIs(t, err, driven.ErrConflict)
}

func TestPut_ServerErrorIsRejected(t *testing.T) {
	client, server := newTestClient(t)
	server.FailNext(http.StatusForbidden)

	_, err := client.Put(context.Background(), model.CredentialMapping{}, "")

	require.ErrorIs(t, err, driven.ErrRemoteRejected)
	assert.NotErrorIs(t, err, driven.ErrConflict)
}

func TestPut_NotFoundOnWriteIsRejected(t *testing.T) {
	client, server := newTestClient(t)
	server.FailNext(http.StatusNotFound)

	_, err := client.Put(context.Background(), model.CredentialMapping{}, "")

	require.ErrorIs(t, err, driven.ErrRemoteRejected)
	assert.NotErrorIs(t, err, driven.ErrRemoteNotFound)
}

func TestPut_CustomCommitMessage(t *testing.T) {
	server := githubtest.NewServer(t)
	client, err := ghAdapter.NewClientWithHTTPClient(server.Client(), server.BaseURL(), ghAdapter.Target{
		Repo:          testRepo,
		Path:          "/data/tokens.json",
		Branch:        "main",
		CommitMessage: "chore: refresh tokens",
	})
	require.NoError(t, err)

	_, err = client.Put(context.Background(), model.CredentialMapping{}, "")
	require.NoError(t, err)

	_, _, ok := server.File(testRepo, "data/tokens.json")
	assert.True(t, ok, "leading slash is stripped from the path")
	assert.Equal(t, "chore: refresh tokens", server.Puts()[0].Message)
}

func TestLocation(t *testing.T) {
	client, _ := newTestClient(t)

	assert.Equal(t, "owner/data@main:tokens.json", client.Location())
}

func TestNewClient_InvalidTarget(t *testing.T) {
	tests := []struct {
		name   string
		target ghAdapter.Target
	}{
		{name: "missing slash", target: ghAdapter.Target{Repo: "invalid", Path: testPath}},
		{name: "empty owner", target: ghAdapter.Target{Repo: "/repo", Path: testPath}},
		{name: "empty repo", target: ghAdapter.Target{Repo: "owner/", Path: testPath}},
		{name: "empty path", target: ghAdapter.Target{Repo: testRepo, Path: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ghAdapter.NewClientWithHTTPClient(http.DefaultClient, "http://localhost/", tt.target)
			assert.Error(t, err)
		})
	}
}
