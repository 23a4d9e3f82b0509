package credentials

import (
	"context"
	"time"
)

// ProviderManagedRefreshToken marks an access token that is renewed through the
// identity provider rather than the Habitate backend.
const ProviderManagedRefreshToken = "provider_refresh_managed"

// Credentials are the cached identity fields that survive a process restart.
type Credentials struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	Onboarded    bool
}

// Repo persists a single Credentials record.
// Load on an empty repo returns zero Credentials and no error.
type Repo interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}
