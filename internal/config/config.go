package config

import "time"

type Config interface {
	EnvConfig
	OAuthConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type OAuthConfig interface {
	GetIssuer() string
	GetClientID() string
	GetClientSecret() string
	GetClientName() string
	GetScopes() []string
	GetTokenType() string
	GetCallbackPort() int
	GetCallbackPath() string
	GetLoginTimeout() time.Duration
	GetIssuerCacheTTL() time.Duration
	GetRefreshMargin() time.Duration
}

type StorageConfig interface {
	GetStorageBackend() string
	GetDataFolder() string
	GetRedisAddr() string
	GetRedisPassword() string
}

type mainConfig struct {
	EnvVars
	OAuth
	Storage
}

// New returns a Config backed by environment variables and built-in defaults.
func New() Config {
	fileValues = nil
	return mainConfig{}
}
