package session

import "fmt"

// Kind discriminates the variants of State
type Kind int

const (
	KindUnauthenticated Kind = iota
	KindAuthenticated
	KindSessionExpired
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindAuthenticated:
		return "authenticated"
	case KindSessionExpired:
		return "session_expired"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is the application-wide summary of whether and how a user is signed in.
// The profile fields are only set when Kind is KindAuthenticated, so two States are
// equal exactly when they describe the same session.
type State struct {
	Kind            Kind
	UserID          string
	IsOnboarded     bool
	IsEmailVerified bool
}

func Unauthenticated() State {
	return State{Kind: KindUnauthenticated}
}

func Authenticated(userID string, onboarded, emailVerified bool) State {
	return State{
		Kind:            KindAuthenticated,
		UserID:          userID,
		IsOnboarded:     onboarded,
		IsEmailVerified: emailVerified,
	}
}

// Expired is the state after the identity provider dropped an authenticated user
// without an explicit logout.
func Expired() State {
	return State{Kind: KindSessionExpired}
}

func (s State) IsAuthenticated() bool {
	return s.Kind == KindAuthenticated
}

func (s State) String() string {
	if s.Kind != KindAuthenticated {
		return s.Kind.String()
	}
	return fmt.Sprintf("authenticated(%s, onboarded=%t, verified=%t)", shortID(s.UserID), s.IsOnboarded, s.IsEmailVerified)
}

// shortID keeps user ids out of logs beyond a recognisable prefix.
func shortID(id string) string {
	const keep = 8
	if len(id) <= keep {
		return id
	}
	return id[:keep] + "…"
}
