package auth

import (
	"github.com/jrsteele09/go-auth-client/clients"
	"github.com/jrsteele09/go-auth-client/issuer"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/redirector"
)

// LoginOptions are given per login attempt and never persisted as such.
type LoginOptions struct {
	SessionID  string
	OidcIssuer string
	// RedirectURL is ignored: the host's callback URL is the only one registered with the
	// identity provider.
	RedirectURL  string
	TokenType    oauth2.TokenType // DPoP unless set
	ClientID     string
	ClientName   string // Falls back to ClientID
	ClientSecret string
	Prompt       oauth2.Prompt // consent unless set; none keeps the stored client
	Scopes       []string      // openid offline_access webid unless set
	// DisableKeepAlive stops the session from refreshing its tokens in the background.
	DisableKeepAlive bool
}

func (o LoginOptions) prompt() oauth2.Prompt {
	if o.Prompt == "" {
		return oauth2.DefaultPrompt
	}
	return o.Prompt
}

func (o LoginOptions) scopes() []string {
	if len(o.Scopes) == 0 {
		return oauth2.DefaultScopes
	}
	return oauth2.SplitScopes(oauth2.JoinScopes(o.Scopes))
}

func (o LoginOptions) tokenType() oauth2.TokenType {
	if o.TokenType == "" {
		return oauth2.DefaultTokenType
	}
	return o.TokenType
}

// OidcOptions are the login options once the issuer and client are known.
type OidcOptions struct {
	LoginOptions
	IssuerConfig *issuer.Config
	Client       *clients.Client
	DPoP         bool
}

// PendingFlow is an authorization request whose redirect has not come back yet.
type PendingFlow struct {
	SessionID        string
	State            string
	CodeVerifier     string
	RedirectURL      string
	AuthorizationURL string
}

type LoginResult = redirector.LoginResult
