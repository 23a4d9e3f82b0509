package session_test

import (
	"testing"

	"github.com/jrsteele09/habitate-session/session"
	"github.com/stretchr/testify/require"
)

func TestState_Constructors(t *testing.T) {
	require.Equal(t, session.State{Kind: session.KindUnauthenticated}, session.Unauthenticated())
	require.Equal(t, session.State{Kind: session.KindSessionExpired}, session.Expired())

	s := session.Authenticated("u1", true, false)
	require.True(t, s.IsAuthenticated())
	require.Equal(t, "u1", s.UserID)
	require.True(t, s.IsOnboarded)
	require.False(t, s.IsEmailVerified)

	require.False(t, session.Expired().IsAuthenticated())
	require.NotEqual(t, session.Authenticated("u1", true, false), session.Authenticated("u1", true, true))
}

func TestState_String(t *testing.T) {
	require.Equal(t, "unauthenticated", session.Unauthenticated().String())
	require.Equal(t, "session_expired", session.Expired().String())
	require.Equal(t, "authenticated(u1, onboarded=true, verified=false)", session.Authenticated("u1", true, false).String())
	require.Equal(t, "authenticated(abcdefgh…, onboarded=false, verified=true)",
		session.Authenticated("abcdefghijklmnop", false, true).String())
	require.Equal(t, "kind(7)", session.Kind(7).String())
}
