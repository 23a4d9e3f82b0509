package credentials_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrsteele09/habitate-session/credentials"
	autherrors "github.com/jrsteele09/habitate-session/internal/errors"
	credentialsrepofake "github.com/jrsteele09/habitate-session/credentials/repofake"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func openStore(t *testing.T, initial credentials.Credentials) (*credentials.Store, *credentialsrepofake.FakeCredentialsRepo, *clock) {
	t.Helper()
	repo := credentialsrepofake.NewFakeCredentialsRepo(initial)
	c := &clock{now: testNow}
	s, err := credentials.Open(context.Background(), repo, credentials.WithNowFunc(c.Now))
	require.NoError(t, err)
	return s, repo, c
}

func TestStore_OpenLoadsPersisted(t *testing.T) {
	s, _, _ := openStore(t, credentials.Credentials{UserID: "u1", Onboarded: true})
	require.Equal(t, "u1", s.UserID())
	require.True(t, s.IsOnboarded())
	require.False(t, s.IsTokenValid())
}

func TestStore_OpenFailure(t *testing.T) {
	repo := credentialsrepofake.NewFakeCredentialsRepo(credentials.Credentials{})
	repo.FailWith(errors.New("disk gone"))
	_, err := credentials.Open(context.Background(), repo)
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk gone")
}

func TestStore_TokenValidity(t *testing.T) {
	s, _, c := openStore(t, credentials.Credentials{})
	ctx := context.Background()

	require.False(t, s.IsTokenValid())
	require.False(t, s.IsTokenExpiringSoon(), "no token is never expiring soon")

	require.NoError(t, s.SaveTokens(ctx, "at-1", "rt-1", 15*time.Minute))
	require.True(t, s.IsTokenValid())
	require.False(t, s.IsTokenExpiringSoon())
	require.Equal(t, testNow.Add(15*time.Minute), s.TokenExpiry())

	t.Run("inside warning window", func(t *testing.T) {
		c.now = testNow.Add(13 * time.Minute)
		require.True(t, s.IsTokenValid())
		require.True(t, s.IsTokenExpiringSoon())
	})

	t.Run("expired", func(t *testing.T) {
		c.now = testNow.Add(16 * time.Minute)
		require.False(t, s.IsTokenValid())
		require.True(t, s.IsTokenExpiringSoon())
	})
}

func TestStore_ExpiryWarningOption(t *testing.T) {
	repo := credentialsrepofake.NewFakeCredentialsRepo(credentials.Credentials{
		AccessToken: "at",
		TokenExpiry: testNow.Add(4 * time.Minute),
	})
	s, err := credentials.Open(context.Background(), repo,
		credentials.WithNowFunc(func() time.Time { return testNow }),
		credentials.WithExpiryWarning(5*time.Minute),
	)
	require.NoError(t, err)
	require.True(t, s.IsTokenExpiringSoon())
}

func TestStore_SaveTokensRequiresAccessToken(t *testing.T) {
	s, repo, _ := openStore(t, credentials.Credentials{})
	require.Error(t, s.SaveTokens(context.Background(), "", "rt", time.Minute))
	require.Zero(t, repo.Saves())
}

func TestStore_FailedWriteKeepsCache(t *testing.T) {
	s, repo, _ := openStore(t, credentials.Credentials{UserID: "u1"})
	repo.FailWith(errors.New("read-only"))

	require.Error(t, s.SetUserID(context.Background(), "u2"))
	require.Error(t, s.SaveTokens(context.Background(), "at", "rt", time.Minute))
	require.Equal(t, "u1", s.UserID())
	require.Empty(t, s.AccessToken())
}

func TestStore_WritesThrough(t *testing.T) {
	s, repo, _ := openStore(t, credentials.Credentials{})
	ctx := context.Background()

	require.NoError(t, s.SetUserID(ctx, "  u1  "))
	require.NoError(t, s.SetOnboarded(ctx, true))
	require.NoError(t, s.SaveTokens(ctx, "at", "rt", time.Minute))

	stored, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "u1", stored.UserID)
	require.True(t, stored.Onboarded)
	require.Equal(t, "at", stored.AccessToken)
	require.Equal(t, "rt", stored.RefreshToken)
	require.Equal(t, s.Snapshot(), stored)
}

func TestStore_ClearAuthPreservesOnboarding(t *testing.T) {
	s, repo, _ := openStore(t, credentials.Credentials{
		UserID:       "u1",
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenExpiry:  testNow.Add(time.Hour),
		Onboarded:    true,
	})
	ctx := context.Background()

	require.NoError(t, s.ClearAuth(ctx))
	require.Empty(t, s.UserID())
	require.Empty(t, s.AccessToken())
	require.Empty(t, s.RefreshToken())
	require.False(t, s.IsTokenValid())
	require.True(t, s.IsOnboarded())

	stored, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, credentials.Credentials{Onboarded: true}, stored)
}

func TestStore_FailedClearAuthKeepsCache(t *testing.T) {
	for _, onboarded := range []bool{true, false} {
		initial := credentials.Credentials{
			UserID:       "u1",
			AccessToken:  "at",
			RefreshToken: "rt",
			TokenExpiry:  testNow.Add(time.Hour),
			Onboarded:    onboarded,
		}
		s, repo, _ := openStore(t, initial)
		repo.FailWith(errors.New("disk full"))

		require.Error(t, s.ClearAuth(context.Background()))
		require.Equal(t, initial, s.Snapshot())
		require.Zero(t, s.Generation())

		repo.FailWith(nil)
		stored, err := repo.Load(context.Background())
		require.NoError(t, err)
		require.Equal(t, initial, stored, "repo untouched when onboarded=%t", onboarded)
	}
}

func TestStore_SaveTokensIfCurrent(t *testing.T) {
	s, repo, _ := openStore(t, credentials.Credentials{UserID: "u1", RefreshToken: "rt"})
	ctx := context.Background()

	gen := s.Generation()
	require.NoError(t, s.SaveTokensIfCurrent(ctx, gen, "at-1", "rt-1", time.Minute))
	require.Equal(t, "at-1", s.AccessToken())

	t.Run("cleared since the refresh began", func(t *testing.T) {
		require.NoError(t, s.ClearAuth(ctx))
		saves := repo.Saves()

		err := s.SaveTokensIfCurrent(ctx, gen, "at-2", "rt-2", time.Minute)
		require.ErrorIs(t, err, autherrors.ErrNotSignedIn)
		require.Empty(t, s.AccessToken())
		require.Equal(t, saves, repo.Saves())
	})

	t.Run("new generation accepted", func(t *testing.T) {
		require.NoError(t, s.SaveTokensIfCurrent(ctx, s.Generation(), "at-3", "rt-3", time.Minute))
		require.Equal(t, "at-3", s.AccessToken())
	})
}
