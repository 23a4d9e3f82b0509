package config

import "time"

type Config interface {
	EnvConfig
	SessionConfig
	StorageConfig
	IdentityConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type SessionConfig interface {
	GetRefreshCheckInterval() time.Duration
	GetExpiryWarningWindow() time.Duration
	GetRefreshTimeout() time.Duration
	GetMaxAuthAttempts() int
	GetBackendTokenLifetime() time.Duration
	GetProviderTokenLifetime() time.Duration
}

type StorageConfig interface {
	GetDatabasePath() string
	GetRedisAddr() string
	GetRedisKeyPrefix() string
	GetCredentialKey() string
}

type IdentityConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetAPIBaseURL() string
	GetIDToken() string
	GetRefreshToken() string
}

type mainConfig struct {
	EnvVars
	Session
	Storage
	Identity
}

func New() Config {
	return mainConfig{}
}
