package application_test

import (
	"context"
	"sync"

	"golang.org/x/oauth2"

	"github.com/tolmanw/strava-auth-link/internal/application"
	"github.com/tolmanw/strava-auth-link/internal/domain/model"
)

// --- Mock implementations ---

type mockAuditStore struct {
	mu       sync.Mutex
	attempts []model.SyncAttempt
	err      error
}

func (m *mockAuditStore) Record(_ context.Context, attempt model.SyncAttempt) (model.SyncAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.SyncAttempt{}, m.err
	}
	attempt.ID = int64(len(m.attempts) + 1)
	m.attempts = append(m.attempts, attempt)
	return attempt, nil
}

func (m *mockAuditStore) ListRecent(_ context.Context, _ int) ([]model.SyncAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SyncAttempt(nil), m.attempts...), nil
}

func (m *mockAuditStore) recorded() []model.SyncAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SyncAttempt(nil), m.attempts...)
}

type mockRemote struct {
	fetch func(ctx context.Context) (*model.RemoteSnapshot, error)
	put   func(ctx context.Context, m model.CredentialMapping, version string) (string, error)
}

func (m *mockRemote) Fetch(ctx context.Context) (*model.RemoteSnapshot, error) {
	return m.fetch(ctx)
}

func (m *mockRemote) Put(ctx context.Context, mapping model.CredentialMapping, version string) (string, error) {
	return m.put(ctx, mapping, version)
}

func (m *mockRemote) Location() string {
	return "mock"
}

type mockStrava struct {
	exchange     func(ctx context.Context, code string) (*oauth2.Token, error)
	fetchAthlete func(ctx context.Context, token *oauth2.Token) (*model.Athlete, error)
}

func (m *mockStrava) AuthCodeURL(state string) string {
	return "https://strava.test/oauth/authorize?state=" + state
}

func (m *mockStrava) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return m.exchange(ctx, code)
}

func (m *mockStrava) FetchAthlete(ctx context.Context, token *oauth2.Token) (*model.Athlete, error) {
	return m.fetchAthlete(ctx, token)
}

type syncCall struct {
	UserID            string
	DisplayName       string
	RefreshCredential string
	CtxErr            error
}

type mockSyncer struct {
	mu    sync.Mutex
	calls []syncCall
	err   error
	block chan struct{} // When set, Sync waits on it.
	done  chan syncCall // When set, receives every call after it completes.
}

func (m *mockSyncer) Sync(ctx context.Context, userID, displayName, refreshCredential string) (*application.SyncResult, error) {
	if m.block != nil {
		<-m.block
	}

	call := syncCall{UserID: userID, DisplayName: displayName, RefreshCredential: refreshCredential, CtxErr: ctx.Err()}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if m.done != nil {
		m.done <- call
	}
	if m.err != nil {
		return nil, m.err
	}
	return &application.SyncResult{
		Mapping:  model.CredentialMapping{userID: {DisplayName: displayName, RefreshCredential: refreshCredential}},
		Version:  "sha-after",
		Attempts: 1,
		Mirrored: true,
	}, nil
}

func (m *mockSyncer) recorded() []syncCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]syncCall(nil), m.calls...)
}

type mockQueue struct {
	jobs   []application.PersistJob
	refuse bool
}

func (m *mockQueue) Submit(job application.PersistJob) bool {
	if m.refuse {
		return false
	}
	m.jobs = append(m.jobs, job)
	return true
}
