package token

import (
	"net/url"
	"time"

	"github.com/jrsteele09/go-auth-client/dpop"
	"github.com/jrsteele09/go-auth-client/oauth2"
)

// TokenSet is what a successful code exchange or refresh yields.
type TokenSet struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	TokenType    oauth2.TokenType
	ExpiresAt    time.Time // zero when the server did not say
	Subject      string
	WebID        string
	ClientID     string
	DPoPKey      *dpop.KeyPair // set for DPoP-bound tokens
}

// ExpiresIn is the remaining lifetime at now, or zero when unknown or already expired.
func (ts *TokenSet) ExpiresIn(now time.Time) time.Duration {
	if ts.ExpiresAt.IsZero() || !ts.ExpiresAt.After(now) {
		return 0
	}
	return ts.ExpiresAt.Sub(now)
}

type idTokenClaims struct {
	Subject string `json:"sub"`
	WebID   string `json:"webid"`
}

// webID prefers the webid claim and falls back to a subject that is itself a URL.
func (c idTokenClaims) webID() string {
	if c.WebID != "" {
		return c.WebID
	}
	if u, err := url.Parse(c.Subject); err == nil && u.IsAbs() && u.Host != "" {
		return c.Subject
	}
	return ""
}
