package session

import "context"

// CredentialStore is the cached identity and token bookkeeping the manager reads.
// *credentials.Store satisfies it.
type CredentialStore interface {
	UserID() string
	IsOnboarded() bool
	IsTokenValid() bool
	IsTokenExpiringSoon() bool
}

// Refresher renews the access credential against the backend.
type Refresher interface {
	RefreshToken(ctx context.Context) (string, error)
}

// RefresherProvider resolves the Refresher when a refresh is due rather than at
// construction, so a refresher that itself depends on the manager can be built after it.
type RefresherProvider func() Refresher

// StaticRefresher wraps an already constructed Refresher.
func StaticRefresher(r Refresher) RefresherProvider {
	return func() Refresher { return r }
}
