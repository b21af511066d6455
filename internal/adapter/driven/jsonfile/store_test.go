package jsonfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolmanw/strava-auth-link/internal/domain/model"
	"github.com/tolmanw/strava-auth-link/internal/domain/port/driven"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "tokens.json"))
}

func TestStore_LoadMissingFile(t *testing.T) {
	store := newTestStore(t)

	m, err := store.Load(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Empty(t, m)
}

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	updated := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	want := model.CredentialMapping{
		"123": {DisplayName: "Jane Doe", RefreshCredential: "tok-abc"},
		"456": {DisplayName: "John Roe", RefreshCredential: "tok-def", UpdatedAt: &updated},
	}

	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, want["123"], got["123"])
	assert.Equal(t, "tok-def", got["456"].RefreshCredential)
	require.NotNil(t, got["456"].UpdatedAt)
	assert.True(t, updated.Equal(*got["456"].UpdatedAt))
}

func TestStore_SaveWritesExpectedLayout(t *testing.T) {
	store := newTestStore(t)

	err := store.Save(context.Background(), model.CredentialMapping{
		"123": {DisplayName: "Jane Doe", RefreshCredential: "tok-abc"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"123":{"display_name":"Jane Doe","refresh_credential":"tok-abc"}}`, string(data))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStore_SaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "tokens.json")
	store := NewStore(path)

	err := store.Save(context.Background(), model.CredentialMapping{
		"1": {DisplayName: "A B", RefreshCredential: "r"},
	})

	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestStore_LoadMalformedFailsLoudly(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "truncated json", content: `{"123": {"display_name": "Jane"`},
		{name: "array instead of object", content: `[1, 2, 3]`},
		{name: "record is a string", content: `{"123": "tok-abc"}`},
		{name: "record without credential", content: `{"123": {"display_name": "Jane Doe"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			require.NoError(t, os.WriteFile(store.Path(), []byte(tt.content), 0o600))

			m, err := store.Load(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, driven.ErrMalformedStore)
			assert.Nil(t, m)
		})
	}
}

func TestStore_UpsertRefusesToMergeIntoCorruptFile(t *testing.T) {
	store := newTestStore(t)
	corrupt := []byte(`{"123": {"display_name": "Jane"`)
	require.NoError(t, os.WriteFile(store.Path(), corrupt, 0o600))

	_, err := store.Upsert(context.Background(), "456", model.CredentialRecord{
		DisplayName: "John Roe", RefreshCredential: "tok-def",
	})

	require.ErrorIs(t, err, driven.ErrMalformedStore)

	data, readErr := os.ReadFile(store.Path())
	require.NoError(t, readErr)
	assert.Equal(t, corrupt, data, "corrupt file must be left untouched")
}

func TestStore_LoadLegacyLayout(t *testing.T) {
	store := newTestStore(t)
	legacy := `{"123": {"name": "Jane Doe", "refresh_token": "tok-abc"}}`
	require.NoError(t, os.WriteFile(store.Path(), []byte(legacy), 0o600))

	m, err := store.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, model.CredentialRecord{DisplayName: "Jane Doe", RefreshCredential: "tok-abc"}, m["123"])
}

func TestStore_LoadUnreadablePath(t *testing.T) {
	// A directory at the store path cannot be read as a file.
	store := NewStore(t.TempDir())

	_, err := store.Load(context.Background())

	require.ErrorIs(t, err, driven.ErrLocalIO)
}

func TestStore_SaveUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store := NewStore(filepath.Join(blocker, "tokens.json"))
	err := store.Save(context.Background(), model.CredentialMapping{})

	require.ErrorIs(t, err, driven.ErrLocalIO)
}

func TestStore_UpsertOverwritesExistingRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "123", model.CredentialRecord{DisplayName: "Jane Doe", RefreshCredential: "old"})
	require.NoError(t, err)

	m, err := store.Upsert(ctx, "123", model.CredentialRecord{DisplayName: "Jane Doe", RefreshCredential: "new"})
	require.NoError(t, err)

	assert.Len(t, m, 1)
	assert.Equal(t, "new", m["123"].RefreshCredential)
}

func TestStore_ConcurrentUpsertsKeepEveryRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := range writers {
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("athlete-%d", i)
			_, err := store.Upsert(ctx, id, model.CredentialRecord{DisplayName: id, RefreshCredential: "tok-" + id})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, m, writers)
}
