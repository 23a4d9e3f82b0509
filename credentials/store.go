package credentials

import (
	"context"
	"strings"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/habitate-session/internal/errors"
)

const defaultExpiryWarning = 2 * time.Minute

// Store caches Credentials in memory and writes every change through to its Repo.
// Reads never touch the Repo; a failed write leaves the cached values untouched.
type Store struct {
	repo          Repo
	expiryWarning time.Duration
	nowFunc       func() time.Time

	mu         sync.RWMutex
	creds      Credentials
	generation uint64
}

type StoreOption func(*Store)

// WithExpiryWarning sets how close to expiry a token is reported as expiring soon.
func WithExpiryWarning(window time.Duration) StoreOption {
	return func(s *Store) {
		s.expiryWarning = window
	}
}

func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// Open loads the persisted credentials from repo.
func Open(ctx context.Context, repo Repo, options ...StoreOption) (*Store, error) {
	s := &Store{
		repo:          repo,
		expiryWarning: defaultExpiryWarning,
		nowFunc:       time.Now,
	}
	for _, opt := range options {
		opt(s)
	}

	creds, err := repo.Load(ctx)
	if err != nil {
		return nil, autherrors.Wrapf(err, "credentials.Open")
	}
	s.creds = creds
	return s, nil
}

func (s *Store) Snapshot() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.UserID
}

func (s *Store) IsOnboarded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.Onboarded
}

func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.RefreshToken
}

func (s *Store) TokenExpiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.TokenExpiry
}

// IsTokenValid reports whether an access token is present and not yet expired.
func (s *Store) IsTokenValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken != "" && s.nowFunc().Before(s.creds.TokenExpiry)
}

// IsTokenExpiringSoon reports whether an access token is present and expires within
// the warning window. Already expired tokens count as expiring soon.
func (s *Store) IsTokenExpiringSoon() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds.AccessToken == "" {
		return false
	}
	return !s.nowFunc().Add(s.expiryWarning).Before(s.creds.TokenExpiry)
}

func (s *Store) SetUserID(ctx context.Context, userID string) error {
	return s.update(ctx, func(c *Credentials) {
		c.UserID = strings.TrimSpace(userID)
	})
}

func (s *Store) SetOnboarded(ctx context.Context, onboarded bool) error {
	return s.update(ctx, func(c *Credentials) {
		c.Onboarded = onboarded
	})
}

// SaveTokens stores a new token pair that expires lifetime from now.
func (s *Store) SaveTokens(ctx context.Context, access, refresh string, lifetime time.Duration) error {
	if access == "" {
		return autherrors.Wrapf(autherrors.ErrStorage, "access token is required")
	}
	return s.update(ctx, func(c *Credentials) {
		c.AccessToken = access
		c.RefreshToken = refresh
		c.TokenExpiry = s.nowFunc().Add(lifetime)
	})
}

// ClearAuth drops identity and tokens. The onboarding flag is an app-level setting
// and survives logout. Tokens saved by a refresh that began before the clear are
// rejected, see SaveTokensIfCurrent.
func (s *Store) ClearAuth(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Credentials{Onboarded: s.creds.Onboarded}
	if next.Onboarded {
		if err := s.repo.Save(ctx, next); err != nil {
			return autherrors.Wrapf(err, "credentials.ClearAuth Save")
		}
	} else if err := s.repo.Clear(ctx); err != nil {
		return autherrors.Wrapf(err, "credentials.ClearAuth Clear")
	}
	s.creds = next
	s.generation++
	return nil
}

// Generation identifies the current sign-in; it changes on every ClearAuth.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// SaveTokensIfCurrent is SaveTokens for a refresh started at generation. It returns
// ErrNotSignedIn without writing when the auth was cleared in the meantime.
func (s *Store) SaveTokensIfCurrent(ctx context.Context, generation uint64, access, refresh string, lifetime time.Duration) error {
	if access == "" {
		return autherrors.Wrapf(autherrors.ErrStorage, "access token is required")
	}
	return s.updateIf(ctx, &generation, func(c *Credentials) {
		c.AccessToken = access
		c.RefreshToken = refresh
		c.TokenExpiry = s.nowFunc().Add(lifetime)
	})
}

func (s *Store) update(ctx context.Context, mutate func(*Credentials)) error {
	return s.updateIf(ctx, nil, mutate)
}

func (s *Store) updateIf(ctx context.Context, generation *uint64, mutate func(*Credentials)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != nil && *generation != s.generation {
		return autherrors.Wrapf(autherrors.ErrNotSignedIn, "credentials cleared during refresh")
	}

	next := s.creds
	mutate(&next)
	if err := s.repo.Save(ctx, next); err != nil {
		return autherrors.Wrapf(err, "credentials.Store Save")
	}
	s.creds = next
	return nil
}
