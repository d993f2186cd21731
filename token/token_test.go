package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	xoauth2 "golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-client/clients"
	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/idpfake"
	"github.com/jrsteele09/go-auth-client/issuer"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/token"
)

const redirectURL = "http://127.0.0.1:8765/callback"

type testFixture struct {
	idp    *idpfake.Server
	config *issuer.Config
	client *clients.Client
}

func setupTestFixture(t *testing.T, opts ...idpfake.Option) *testFixture {
	idp := idpfake.New(t, opts...)
	cfg, err := issuer.NewFetcher().FetchConfig(context.Background(), idp.Issuer())
	require.NoError(t, err)
	return &testFixture{
		idp:    idp,
		config: cfg,
		client: &clients.Client{ID: "client-1", Secret: "secret-1", Type: clients.ClientTypeConfidential},
	}
}

// authorize runs the front channel half of the flow and returns the code and verifier.
func (f *testFixture) authorize(t *testing.T) (string, string) {
	t.Helper()
	verifier := xoauth2.GenerateVerifier()
	cfg := xoauth2.Config{ClientID: f.client.ID, Endpoint: f.config.Endpoint(), RedirectURL: redirectURL}
	callback, err := f.idp.Authorize(cfg.AuthCodeURL("state-1", xoauth2.S256ChallengeOption(verifier)))
	require.NoError(t, err)
	code := mustQuery(t, callback, "code")
	return code, verifier
}

func TestExchangeBearer(t *testing.T) {
	f := setupTestFixture(t, idpfake.WithWebID("https://pod.example/profile#me"))
	code, verifier := f.authorize(t)

	ts, err := token.NewExchanger().Exchange(context.Background(),
		token.CodeRequest{Code: code, CodeVerifier: verifier, RedirectURL: redirectURL}, f.config, f.client, false)
	require.NoError(t, err)
	require.Equal(t, oauth2.BearerTokenType, ts.TokenType)
	require.Equal(t, "https://pod.example/profile#me", ts.WebID)
	require.Equal(t, "user-1", ts.Subject)
	require.NotEmpty(t, ts.AccessToken)
	require.NotEmpty(t, ts.RefreshToken)
	require.Nil(t, ts.DPoPKey)
	require.InDelta(t, 300, ts.ExpiresIn(time.Now()).Seconds(), 5)
	require.Empty(t, f.idp.Proofs())
}

func TestExchangeDPoP(t *testing.T) {
	f := setupTestFixture(t, idpfake.WithSubject("https://pod.example/profile#me"), idpfake.WithDPoPNonce("nonce-1"))
	code, verifier := f.authorize(t)

	ts, err := token.NewExchanger().Exchange(context.Background(),
		token.CodeRequest{Code: code, CodeVerifier: verifier, RedirectURL: redirectURL}, f.config, f.client, true)
	require.NoError(t, err)
	require.Equal(t, oauth2.DPoPTokenType, ts.TokenType)
	require.NotNil(t, ts.DPoPKey)
	require.Equal(t, "https://pod.example/profile#me", ts.WebID, "a URL subject is the WebID")

	proofs := f.idp.Proofs()
	require.Len(t, proofs, 1)
	require.Equal(t, "nonce-1", proofs[0]["nonce"])
}

func TestExchangeWrongVerifier(t *testing.T) {
	f := setupTestFixture(t)
	code, _ := f.authorize(t)

	_, err := token.NewExchanger().Exchange(context.Background(),
		token.CodeRequest{Code: code, CodeVerifier: xoauth2.GenerateVerifier(), RedirectURL: redirectURL}, f.config, f.client, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid_grant")
}

func TestRefresh(t *testing.T) {
	f := setupTestFixture(t)
	code, verifier := f.authorize(t)
	ts, err := token.NewExchanger().Exchange(context.Background(),
		token.CodeRequest{Code: code, CodeVerifier: verifier, RedirectURL: redirectURL}, f.config, f.client, true)
	require.NoError(t, err)

	refreshed, err := token.NewRefresher().Refresh(context.Background(), token.RefreshRequest{
		RefreshToken: ts.RefreshToken,
		IssuerConfig: f.config,
		Client:       f.client,
		DPoPKey:      ts.DPoPKey,
	})
	require.NoError(t, err)
	require.NotEqual(t, ts.AccessToken, refreshed.AccessToken)
	require.NotEqual(t, ts.RefreshToken, refreshed.RefreshToken, "rotated")
	require.Same(t, ts.DPoPKey, refreshed.DPoPKey)
	require.Equal(t, oauth2.DPoPTokenType, refreshed.TokenType)

	f.idp.SetRefreshFails(true)
	_, err = token.NewRefresher().Refresh(context.Background(), token.RefreshRequest{
		RefreshToken: refreshed.RefreshToken, IssuerConfig: f.config, Client: f.client,
	})
	require.Error(t, err)
}

func TestRefreshWithoutToken(t *testing.T) {
	_, err := token.NewRefresher().Refresh(context.Background(), token.RefreshRequest{})
	require.ErrorIs(t, err, internalerrors.ErrInvalidRequest)
}
