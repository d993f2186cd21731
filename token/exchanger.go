package token

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-client/clients"
	"github.com/jrsteele09/go-auth-client/dpop"
	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/issuer"
	"github.com/jrsteele09/go-auth-client/oauth2"
)

// CodeRequest carries what the authorization response and the persisted flow provide.
type CodeRequest struct {
	Code         string
	CodeVerifier string
	RedirectURL  string
	Scopes       []string
}

// CodeExchanger redeems an authorization code.
type CodeExchanger interface {
	Exchange(ctx context.Context, req CodeRequest, issuerConfig *issuer.Config, client *clients.Client, dpopBound bool) (*TokenSet, error)
}

type Exchanger struct {
	httpClient *http.Client
	nowTime    func() time.Time
}

var _ CodeExchanger = (*Exchanger)(nil)

type Option func(*options)

type options struct {
	httpClient *http.Client
	nowTime    func() time.Time
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithNowTime(now func() time.Time) Option {
	return func(o *options) { o.nowTime = now }
}

func newOptions(opts []Option) options {
	o := options{httpClient: http.DefaultClient, nowTime: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewExchanger(opts ...Option) *Exchanger {
	o := newOptions(opts)
	return &Exchanger{httpClient: o.httpClient, nowTime: o.nowTime}
}

// Exchange redeems the code with its PKCE verifier and verifies the returned ID token.
// A DPoP exchange generates the session key and proves possession of it to the token endpoint.
func (e *Exchanger) Exchange(ctx context.Context, req CodeRequest, issuerConfig *issuer.Config, client *clients.Client, dpopBound bool) (*TokenSet, error) {
	var key *dpop.KeyPair
	httpClient := e.httpClient
	if dpopBound {
		var err error
		if key, err = dpop.GenerateKeyPair(); err != nil {
			return nil, errors.Wrap(err, "[Exchanger.Exchange] generating DPoP key")
		}
		httpClient = dpopClient(e.httpClient, key)
	}

	cfg := oauthConfig(issuerConfig, client, req.RedirectURL, req.Scopes)
	tok, err := cfg.Exchange(context.WithValue(ctx, xoauth2.HTTPClient, httpClient), req.Code, xoauth2.VerifierOption(req.CodeVerifier))
	if err != nil {
		return nil, tokenEndpointError("[Exchanger.Exchange]", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, internalerrors.Wrapf(internalerrors.ErrInvalidToken, "token response from %s has no id_token", issuerConfig.Issuer)
	}
	idToken, err := issuerConfig.Verifier(ctx, client.ID).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, internalerrors.Wrapf(internalerrors.ErrInvalidToken, "id token verification failed: %v", err)
	}
	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[Exchanger.Exchange] decoding id token claims")
	}

	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		IDToken:      rawIDToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    oauth2.ParseTokenType(tok.Type()),
		ExpiresAt:    tok.Expiry,
		Subject:      claims.Subject,
		WebID:        claims.webID(),
		ClientID:     client.ID,
		DPoPKey:      key,
	}
	if dpopBound && ts.TokenType != oauth2.DPoPTokenType {
		log.Warn().Str("issuer", issuerConfig.Issuer).Str("tokenType", tok.Type()).Msg("DPoP was requested but the issuer returned a different token type")
		ts.DPoPKey = nil
	}
	if ts.DPoPKey != nil {
		// the issuer puts the same value in the access token's cnf.jkt claim
		if jkt, err := ts.DPoPKey.Thumbprint(); err == nil {
			log.Debug().Str("issuer", issuerConfig.Issuer).Str("jkt", jkt).Msg("access token bound to DPoP key")
		}
	}
	return ts, nil
}

func oauthConfig(issuerConfig *issuer.Config, client *clients.Client, redirectURL string, scopes []string) *xoauth2.Config {
	endpoint := issuerConfig.Endpoint()
	endpoint.AuthStyle = xoauth2.AuthStyleInHeader
	if client.IsPublic() {
		endpoint.AuthStyle = xoauth2.AuthStyleInParams
	}
	return &xoauth2.Config{
		ClientID:     client.ID,
		ClientSecret: client.Secret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	}
}

func dpopClient(base *http.Client, key *dpop.KeyPair) *http.Client {
	c := *base
	c.Transport = dpop.NewRoundTripper(key, base.Transport)
	return &c
}

// tokenEndpointError keeps the OAuth error code of a failed token request in the message.
func tokenEndpointError(where string, err error) error {
	var re *xoauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		desc := oauth2.ErrorResponse{Error: re.ErrorCode, ErrorDescription: re.ErrorDescription}.Description()
		return errors.Wrapf(err, "%s token endpoint rejected the request (%s)", where, desc)
	}
	return errors.Wrapf(err, "%s token request failed", where)
}
