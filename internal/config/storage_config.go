package config

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetDatabasePath() string {
	return GetEnv("DATABASE_PATH", "./data/credentials.db")
}

// GetRedisAddr selects the Redis credential repo when set
func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "")
}

func (Storage) GetRedisKeyPrefix() string {
	return GetEnv("REDIS_KEY_PREFIX", "habitate:credentials")
}

// GetCredentialKey returns the hex encoded 32 byte key used to seal tokens at rest.
// Tokens are stored unsealed when it is empty.
func (Storage) GetCredentialKey() string {
	return GetEnv("CREDENTIAL_KEY", "")
}
