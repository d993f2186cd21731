package config

import (
	"time"

	"github.com/jrsteele09/go-auth-client/oauth2"
)

const (
	issuerVar        = "OIDC_ISSUER"
	clientIDVar      = "CLIENT_ID"
	clientSecretVar  = "CLIENT_SECRET"
	clientNameVar    = "CLIENT_NAME"
	scopesVar        = "SCOPES"
	tokenTypeVar     = "TOKEN_TYPE"
	callbackPortVar  = "CALLBACK_PORT"
	callbackPathVar  = "CALLBACK_PATH"
	loginTimeoutVar  = "LOGIN_TIMEOUT"
	issuerCacheVar   = "ISSUER_CACHE_TTL"
	refreshMarginVar = "REFRESH_MARGIN"
)

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetIssuer() string {
	return GetEnv(issuerVar, "")
}

func (OAuth) GetClientID() string {
	return GetEnv(clientIDVar, "")
}

func (OAuth) GetClientSecret() string {
	return GetEnv(clientSecretVar, "")
}

func (OAuth) GetClientName() string {
	return GetEnv(clientNameVar, "")
}

func (OAuth) GetScopes() []string {
	return getEnvList(scopesVar, oauth2.DefaultScopes)
}

func (OAuth) GetTokenType() string {
	return string(oauth2.ParseTokenType(GetEnv(tokenTypeVar, string(oauth2.DefaultTokenType))))
}

func (OAuth) GetCallbackPort() int {
	return getEnvInt(callbackPortVar, 8765)
}

func (OAuth) GetCallbackPath() string {
	return GetEnv(callbackPathVar, "/callback")
}

func (OAuth) GetLoginTimeout() time.Duration {
	return getEnvDuration(loginTimeoutVar, 10*time.Minute)
}

func (OAuth) GetIssuerCacheTTL() time.Duration {
	return getEnvDuration(issuerCacheVar, 1*time.Hour)
}

// GetRefreshMargin is how long before access token expiry a refresh is attempted.
func (OAuth) GetRefreshMargin() time.Duration {
	return getEnvDuration(refreshMarginVar, 5*time.Second)
}
