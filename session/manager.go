// Package session owns the authentication lifecycle of the Habitate app.
//
// A Manager holds the one authoritative State for the process. It follows sign-in
// changes reported by an identity.Provider, accepts explicit login, logout and
// expiry acknowledgements from the authentication flow, and keeps the backing
// access credential fresh with a single background refresh loop.
//
// Construct exactly one Manager and pass it to every consumer; nothing in this
// package is global.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/habitate-session/identity"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRefreshInterval is how often the refresh loop checks the credential.
const DefaultRefreshInterval = 10 * time.Minute

type Manager struct {
	provider       identity.Provider
	store          CredentialStore
	refresher      RefresherProvider
	logger         zerolog.Logger
	interval       time.Duration
	refreshTimeout time.Duration
	newTicker      TickerFunc
	listener       *authStateListener

	// mu serialises every transition together with its publish.
	mu        sync.Mutex
	state     State
	broadcast *broadcaster

	loopMu sync.Mutex
	loop   *refreshLoop
}

type ManagerOption func(*Manager)

func WithRefreshInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.interval = interval
	}
}

// WithRefreshTimeout bounds each refresh call made by the loop. Zero means no bound
// beyond the loop's own cancellation.
func WithRefreshTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshTimeout = timeout
	}
}

// WithTickerFunc replaces the ticker used by the refresh loop (primarily for testing)
func WithTickerFunc(fn TickerFunc) ManagerOption {
	return func(m *Manager) {
		m.newTicker = fn
	}
}

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New builds a Manager and computes its initial State from the provider's live
// principal, falling back to the cached user id when the stored token is still valid.
// No listener is registered and no loop is started until StartObserving.
func New(provider identity.Provider, store CredentialStore, refresher RefresherProvider, options ...ManagerOption) *Manager {
	m := &Manager{
		provider:  provider,
		store:     store,
		refresher: refresher,
		logger:    log.Logger.With().Str("component", "session").Logger(),
		interval:  DefaultRefreshInterval,
		newTicker: NewTimeTicker,
		broadcast: newBroadcaster(),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = DefaultRefreshInterval
	}
	m.listener = &authStateListener{manager: m}
	m.state = m.computeInitialState()
	return m
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a Subscription that immediately holds the current State.
func (m *Manager) Subscribe() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcast.subscribe(m.state, func(id string) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.broadcast.unsubscribe(id)
	})
}

// StartObserving registers for provider notifications and (re)starts the refresh loop.
// Calling it again replaces the loop rather than adding a second one.
//
// StartObserving, StopObserving and OnLoginSuccess wait for the running loop to exit,
// so they must not be called from a Refresher or from a provider listener invoked
// during a refresh; both run on the loop goroutine. OnLogout and ClearExpiredState
// are safe there.
func (m *Manager) StartObserving() {
	m.provider.AddStateListener(m.listener)
	m.restartRefreshLoop()
	m.logger.Debug().Msg("Started observing auth state")
}

// StopObserving unregisters from the provider and stops the refresh loop. It must not
// be called from the loop goroutine, see StartObserving.
func (m *Manager) StopObserving() {
	m.provider.RemoveStateListener(m.listener)
	m.stopRefreshLoop()
	m.logger.Debug().Msg("Stopped observing auth state")
}

// OnLoginSuccess records a freshly obtained credential for userID and restarts the
// refresh loop. It must not be called from the loop goroutine, see StartObserving.
func (m *Manager) OnLoginSuccess(userID string) {
	verified := false
	if principal := m.provider.CurrentPrincipal(); principal != nil {
		verified = principal.EmailVerified
	}
	next := Authenticated(userID, m.store.IsOnboarded(), verified)
	m.transition(func(State) State { return next })
	m.logger.Info().Str("user", shortID(userID)).Msg("Login succeeded")

	m.restartRefreshLoop()
}

// OnLogout always moves to Unauthenticated. The refresh loop keeps running but does
// nothing until someone signs in again; clearing stored credentials is the caller's job.
func (m *Manager) OnLogout() {
	m.transition(func(State) State { return Unauthenticated() })
	m.logger.Info().Msg("Logged out")
}

// ClearExpiredState acknowledges a SessionExpired state. Any other state, including
// an Authenticated state set concurrently, is left as is.
func (m *Manager) ClearExpiredState() {
	m.transition(func(prev State) State {
		if prev.Kind == KindSessionExpired {
			return Unauthenticated()
		}
		return prev
	})
}

func (m *Manager) handleAuthStateChange(principal *identity.Principal) {
	onboarded := m.store.IsOnboarded()
	_, next := m.transition(func(prev State) State {
		return nextOnAuthChange(prev, principal, onboarded)
	})

	switch next.Kind {
	case KindAuthenticated:
		m.logger.Debug().Str("user", shortID(next.UserID)).Msg("Auth state changed to authenticated")
	case KindSessionExpired:
		m.logger.Warn().Msg("Auth state changed to session expired (was authenticated)")
	default:
		m.logger.Debug().Msg("Auth state changed to unauthenticated")
	}
}

// nextOnAuthChange derives the state after a provider notification from the
// notification and the state immediately before it.
func nextOnAuthChange(prev State, principal *identity.Principal, onboarded bool) State {
	if principal != nil {
		return Authenticated(principal.ID, onboarded, principal.EmailVerified)
	}
	if prev.Kind == KindAuthenticated {
		return Expired()
	}
	return Unauthenticated()
}

// transition applies next to the current state and publishes the result when it
// differs from the previous value.
func (m *Manager) transition(next func(prev State) State) (State, State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	m.state = next(prev)
	if m.state != prev {
		m.broadcast.publish(m.state)
	}
	return prev, m.state
}

func (m *Manager) computeInitialState() State {
	principal := m.provider.CurrentPrincipal()
	hasValidToken := m.store.IsTokenValid()

	userID := m.store.UserID()
	if principal != nil {
		userID = principal.ID
	}
	if (principal == nil && !hasValidToken) || strings.TrimSpace(userID) == "" {
		return Unauthenticated()
	}

	verified := principal != nil && principal.EmailVerified
	return Authenticated(userID, m.store.IsOnboarded(), verified)
}

// authStateListener gives the Manager a stable identity for listener registration
// without exporting the callback on Manager itself.
type authStateListener struct {
	manager *Manager
}

func (l *authStateListener) OnAuthStateChanged(principal *identity.Principal) {
	l.manager.handleAuthStateChange(principal)
}
