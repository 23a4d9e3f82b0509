package config

import "time"

type Session struct{}

var _ SessionConfig = Session{}

// GetRefreshCheckInterval is how often the proactive refresh loop wakes
func (Session) GetRefreshCheckInterval() time.Duration {
	return GetDurationEnv("REFRESH_CHECK_INTERVAL", 10*time.Minute)
}

// GetExpiryWarningWindow is how close to expiry a token counts as expiring soon
func (Session) GetExpiryWarningWindow() time.Duration {
	return GetDurationEnv("EXPIRY_WARNING_WINDOW", 2*time.Minute)
}

func (Session) GetRefreshTimeout() time.Duration {
	return GetDurationEnv("REFRESH_TIMEOUT", 10*time.Second)
}

func (Session) GetMaxAuthAttempts() int {
	return GetIntEnv("MAX_AUTH_ATTEMPTS", 3)
}

// GetBackendTokenLifetime is assumed when a backend token response carries no expiry
func (Session) GetBackendTokenLifetime() time.Duration {
	return GetDurationEnv("BACKEND_TOKEN_LIFETIME", 15*time.Minute)
}

// GetProviderTokenLifetime is assumed for a provider ID token without an exp claim
func (Session) GetProviderTokenLifetime() time.Duration {
	return GetDurationEnv("PROVIDER_TOKEN_LIFETIME", 1*time.Hour)
}
