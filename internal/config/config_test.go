package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("OIDC_ISSUER", "")
	t.Setenv("SCOPES", "")
	t.Setenv("TOKEN_TYPE", "")
	t.Setenv("STORAGE_BACKEND", "")
	c := config.New()

	require.Equal(t, "", c.GetIssuer())
	require.Equal(t, []string{"openid", "offline_access", "webid"}, c.GetScopes())
	require.Equal(t, "DPoP", c.GetTokenType())
	require.Equal(t, "/callback", c.GetCallbackPath())
	require.Equal(t, 10*time.Minute, c.GetLoginTimeout())
	require.Equal(t, config.StorageBackendMemory, c.GetStorageBackend())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OIDC_ISSUER", "https://idp.example.com")
	t.Setenv("SCOPES", "openid,email")
	t.Setenv("TOKEN_TYPE", "bearer")
	t.Setenv("CALLBACK_PORT", "9999")
	t.Setenv("STORAGE_BACKEND", "bbolt")
	c := config.New()

	require.Equal(t, "https://idp.example.com", c.GetIssuer())
	require.Equal(t, []string{"openid", "email"}, c.GetScopes())
	require.Equal(t, "Bearer", c.GetTokenType())
	require.Equal(t, 9999, c.GetCallbackPort())
	require.Equal(t, config.StorageBackendBBolt, c.GetStorageBackend())
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
appName: Pod Browser
oauth:
  issuer: https://file.example.com
  clientId: file-client
  scopes: [openid, webid]
  callbackPort: 4000
  loginTimeout: 2m
storage:
  backend: redis
`), 0600))

	t.Setenv("OIDC_ISSUER", "")
	t.Setenv("CLIENT_ID", "env-client")
	t.Setenv("SCOPES", "")
	t.Setenv("CALLBACK_PORT", "")
	t.Setenv("LOGIN_TIMEOUT", "")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("APP_NAME", "")

	c, err := config.NewFromFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { config.New() })

	require.Equal(t, "Pod Browser", c.GetAppName())
	require.Equal(t, "https://file.example.com", c.GetIssuer())
	require.Equal(t, "env-client", c.GetClientID(), "environment wins over file")
	require.Equal(t, []string{"openid", "webid"}, c.GetScopes())
	require.Equal(t, 4000, c.GetCallbackPort())
	require.Equal(t, 2*time.Minute, c.GetLoginTimeout())
	require.Equal(t, config.StorageBackendRedis, c.GetStorageBackend())
}

func TestNewFromFileMissing(t *testing.T) {
	_, err := config.NewFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
