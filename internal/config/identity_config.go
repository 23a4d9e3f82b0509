package config

type Identity struct{}

var _ IdentityConfig = Identity{}

func (Identity) GetIssuerURL() string {
	return GetEnv("OIDC_ISSUER_URL", "")
}

func (Identity) GetClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (Identity) GetClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}

// GetAPIBaseURL is the Habitate backend that issues and refreshes API tokens
func (Identity) GetAPIBaseURL() string {
	return GetEnv("API_BASE_URL", "http://localhost:8080")
}

// GetIDToken is an optional raw ID token used to sign in at startup
func (Identity) GetIDToken() string {
	return GetEnv("ID_TOKEN", "")
}

// GetRefreshToken is an optional provider refresh token paired with ID_TOKEN
func (Identity) GetRefreshToken() string {
	return GetEnv("OIDC_REFRESH_TOKEN", "")
}
