package token

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	xoauth2 "golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-client/clients"
	"github.com/jrsteele09/go-auth-client/dpop"
	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/issuer"
	"github.com/jrsteele09/go-auth-client/oauth2"
)

type RefreshRequest struct {
	RefreshToken string
	IssuerConfig *issuer.Config
	Client       *clients.Client
	DPoPKey      *dpop.KeyPair // keeps the renewed token bound to the same key
}

// TokenRefresher renews an access token with a refresh token.
type TokenRefresher interface {
	Refresh(ctx context.Context, req RefreshRequest) (*TokenSet, error)
}

type Refresher struct {
	httpClient *http.Client
	nowTime    func() time.Time
}

var _ TokenRefresher = (*Refresher)(nil)

func NewRefresher(opts ...Option) *Refresher {
	o := newOptions(opts)
	return &Refresher{httpClient: o.httpClient, nowTime: o.nowTime}
}

// Refresh returns the renewed tokens. The refresh token is the rotated one when the server
// issued a new one, otherwise the one that was used.
func (r *Refresher) Refresh(ctx context.Context, req RefreshRequest) (*TokenSet, error) {
	if req.RefreshToken == "" {
		return nil, internalerrors.Wrapf(internalerrors.ErrInvalidRequest, "no refresh token")
	}
	httpClient := r.httpClient
	if req.DPoPKey != nil {
		httpClient = dpopClient(r.httpClient, req.DPoPKey)
	}

	cfg := oauthConfig(req.IssuerConfig, req.Client, "", nil)
	expired := &xoauth2.Token{RefreshToken: req.RefreshToken, Expiry: r.nowTime().Add(-time.Minute)}
	tok, err := cfg.TokenSource(context.WithValue(ctx, xoauth2.HTTPClient, httpClient), expired).Token()
	if err != nil {
		return nil, tokenEndpointError("[Refresher.Refresh]", err)
	}

	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    oauth2.ParseTokenType(tok.Type()),
		ExpiresAt:    tok.Expiry,
		ClientID:     req.Client.ID,
		DPoPKey:      req.DPoPKey,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	if ts.AccessToken == "" {
		return nil, errors.Wrap(internalerrors.ErrInvalidToken, "[Refresher.Refresh] empty access token")
	}
	return ts, nil
}
