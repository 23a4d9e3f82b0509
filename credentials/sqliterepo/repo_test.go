package sqliterepo_test

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/habitate-session/credentials"
	"github.com/jrsteele09/habitate-session/credentials/sqliterepo"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSealer(t *testing.T) credentials.Sealer {
	t.Helper()
	s, err := credentials.NewSealer(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)
	return s
}

func TestRepo_EmptyLoad(t *testing.T) {
	repo, err := sqliterepo.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	creds, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, credentials.Credentials{}, creds)
}

func TestRepo_SaveLoadClear(t *testing.T) {
	repo, err := sqliterepo.Open(":memory:", newSealer(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	expiry := time.Date(2026, 10, 14, 9, 15, 0, 0, time.UTC)
	want := credentials.Credentials{
		UserID:       "u1",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenExpiry:  expiry,
		Onboarded:    true,
	}
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	want.AccessToken = "at-2"
	require.NoError(t, repo.Save(ctx, want))
	got, err = repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "at-2", got.AccessToken)

	require.NoError(t, repo.Clear(ctx))
	got, err = repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, credentials.Credentials{}, got)
}

func TestRepo_TokensSealedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	repo, err := sqliterepo.Open(path, newSealer(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, credentials.Credentials{UserID: "u1", AccessToken: "plain-access"}))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var stored string
	require.NoError(t, db.QueryRow(`SELECT access_token FROM credentials WHERE id = 1`).Scan(&stored))
	require.NotEmpty(t, stored)
	require.NotEqual(t, "plain-access", stored)

	reopened, err := sqliterepo.Open(path, newSealer(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "plain-access", got.AccessToken)
}

func TestRepo_BacksStore(t *testing.T) {
	repo, err := sqliterepo.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	s, err := credentials.Open(ctx, repo)
	require.NoError(t, err)
	require.NoError(t, s.SetOnboarded(ctx, true))
	require.NoError(t, s.SaveTokens(ctx, "at", "rt", time.Hour))
	require.NoError(t, s.ClearAuth(ctx))

	reloaded, err := credentials.Open(ctx, repo)
	require.NoError(t, err)
	require.True(t, reloaded.IsOnboarded())
	require.Empty(t, reloaded.AccessToken())
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := sqliterepo.Open("  ", nil)
	require.Error(t, err)
}
