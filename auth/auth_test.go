package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/clients"
	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/fetch"
	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/idpfake"
	"github.com/jrsteele09/go-auth-client/issuer"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/redirector"
	"github.com/jrsteele09/go-auth-client/redirector/hostfake"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/storage/memory"
	"github.com/jrsteele09/go-auth-client/token"
)

const (
	sessionID   = "session-1"
	callbackURL = "http://127.0.0.1:8765/callback"
)

type testFixture struct {
	idp       *idpfake.Server
	host      *hostfake.Host
	storage   *storage.Utility
	sessions  *sessions.InfoManager
	redirect  *auth.RedirectHandler
	flow      *auth.WebAuthFlowHandler
	auth      *auth.ClientAuthentication
	authorize hostfake.AuthorizeFunc
}

func setupTestFixture(t *testing.T, opts ...idpfake.Option) *testFixture {
	t.Helper()
	f := &testFixture{idp: idpfake.New(t, opts...)}
	f.authorize = f.idp.Authorize
	f.host = hostfake.New(callbackURL, func(authURL string) (string, error) {
		return f.authorize(authURL)
	})
	f.storage = storage.NewUtility(memory.New(), memory.New())
	f.sessions = sessions.NewInfoManager(f.storage)

	issuers := issuer.NewFetcher()
	registrar := clients.NewRegistrar(f.storage)
	var err error
	f.redirect, err = auth.NewRedirectHandler(auth.RedirectHandlerDeps{
		Sessions:  f.sessions,
		Issuers:   issuers,
		Clients:   registrar,
		Exchanger: token.NewExchanger(),
		Refresher: token.NewRefresher(),
	})
	require.NoError(t, err)
	f.flow = auth.NewWebAuthFlowHandler(redirector.New(f.host), f.sessions, f.redirect)
	f.auth, err = auth.NewClientAuthentication(
		auth.NewOidcLoginHandler(issuers, registrar, f.flow),
		auth.NewLogoutHandler(f.sessions),
		f.sessions,
	)
	require.NoError(t, err)
	t.Cleanup(f.auth.Close)
	return f
}

func (f *testFixture) login(opts auth.LoginOptions) (*sessions.Info, error) {
	if opts.SessionID == "" {
		opts.SessionID = sessionID
	}
	if opts.OidcIssuer == "" {
		opts.OidcIssuer = f.idp.Issuer()
	}
	return f.auth.Login(context.Background(), opts, events.NewBus())
}

type resourceEcho struct {
	Authorization string `json:"authorization"`
	DPoP          string `json:"dpop"`
}

func (f *testFixture) fetchResource(t *testing.T) resourceEcho {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.idp.ResourceURL(), nil)
	require.NoError(t, err)
	resp, err := f.auth.Fetch(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var echo resourceEcho
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&echo))
	return echo
}

func TestLoginDPoP(t *testing.T) {
	f := setupTestFixture(t, idpfake.WithWebID("https://pod.example/profile#me"))

	info, err := f.login(auth.LoginOptions{})
	require.NoError(t, err)
	require.True(t, info.IsLoggedIn)
	require.Equal(t, sessionID, info.SessionID)
	require.Equal(t, "https://pod.example/profile#me", info.WebID)
	require.Equal(t, "dynamic-client-1", info.ClientAppID)
	require.False(t, info.ExpirationDate.IsZero())
	require.True(t, fetch.IsAuthenticated(f.auth.Transport()))

	requests := f.idp.AuthRequests()
	require.Len(t, requests, 1)
	require.Equal(t, "consent", requests[0].Get("prompt"))
	require.Equal(t, "S256", requests[0].Get("code_challenge_method"))
	require.Equal(t, callbackURL, requests[0].Get("redirect_uri"))
	require.Equal(t, "openid offline_access webid", requests[0].Get("scope"))

	echo := f.fetchResource(t)
	require.Regexp(t, "^DPoP ", echo.Authorization)
	require.NotEmpty(t, echo.DPoP)

	stored, err := f.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.True(t, stored.IsLoggedIn)
	require.Equal(t, info.WebID, stored.WebID)
	require.Equal(t, info.ClientAppID, stored.ClientAppID)
	require.WithinDuration(t, info.ExpirationDate, stored.ExpirationDate, time.Millisecond)

	refreshToken, err := f.sessions.RefreshToken(context.Background(), sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, refreshToken)
}

func TestLoginBearer(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.login(auth.LoginOptions{TokenType: oauth2.BearerTokenType, ClientID: "static-client", ClientSecret: "static-secret"})
	require.NoError(t, err)
	require.Empty(t, f.idp.Registrations())

	echo := f.fetchResource(t)
	require.Regexp(t, "^Bearer ", echo.Authorization)
	require.Empty(t, echo.DPoP)
}

func TestLoginPersistsFlowBeforeLaunch(t *testing.T) {
	f := setupTestFixture(t)
	var atLaunch *sessions.FlowRecord
	var stateSession string
	f.host.OnLaunch = func(details redirector.FlowDetails) {
		u, _ := url.Parse(details.URL)
		atLaunch, _ = f.sessions.LoadFlow(context.Background(), sessionID)
		stateSession, _ = f.sessions.SessionForState(context.Background(), u.Query().Get("state"))
	}

	_, err := f.login(auth.LoginOptions{})
	require.NoError(t, err)
	require.NotNil(t, atLaunch)
	require.NotEmpty(t, atLaunch.CodeVerifier)
	require.Equal(t, f.idp.Issuer(), atLaunch.Issuer)
	require.Equal(t, callbackURL, atLaunch.RedirectURL)
	require.True(t, atLaunch.DPoP)
	require.Equal(t, sessionID, stateSession)

	_, err = f.sessions.LoadFlow(context.Background(), sessionID)
	require.Error(t, err, "the flow is consumed by the redirect")
}

func TestLoginIgnoresCallerRedirectURL(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.login(auth.LoginOptions{RedirectURL: "https://app.example/elsewhere"})
	require.NoError(t, err)
	require.Equal(t, callbackURL, f.idp.AuthRequests()[0].Get("redirect_uri"))
	require.Equal(t, []any{callbackURL}, f.idp.Registrations()[0]["redirect_uris"])
}

func TestSilentLoginKeepsClient(t *testing.T) {
	f := setupTestFixture(t)

	first, err := f.login(auth.LoginOptions{})
	require.NoError(t, err)
	second, err := f.login(auth.LoginOptions{Prompt: oauth2.PromptNone})
	require.NoError(t, err)

	require.Equal(t, first.ClientAppID, second.ClientAppID)
	require.Len(t, f.idp.Registrations(), 1)
	require.Equal(t, "none", f.idp.AuthRequests()[1].Get("prompt"))
}

func TestLoginUnsupportedGrant(t *testing.T) {
	f := setupTestFixture(t, idpfake.WithGrantTypes("implicit"))

	_, err := f.login(auth.LoginOptions{})
	require.ErrorIs(t, err, internalerrors.ErrInvalidRequest)
	require.Empty(t, f.host.Launches())
	require.Empty(t, f.idp.Registrations())
	_, err = f.sessions.LoadFlow(context.Background(), sessionID)
	require.Error(t, err)
}

func TestLoginWithoutClientAndRegistration(t *testing.T) {
	f := setupTestFixture(t, idpfake.WithoutRegistration())

	_, err := f.login(auth.LoginOptions{})
	require.ErrorIs(t, err, internalerrors.ErrInvalidClient)
	require.Empty(t, f.host.Launches())
}

func TestLoginDenied(t *testing.T) {
	f := setupTestFixture(t)
	f.idp.Deny("access_denied")

	info, err := f.login(auth.LoginOptions{})
	require.ErrorIs(t, err, internalerrors.ErrRedirectHandling)
	require.Contains(t, err.Error(), "access_denied")
	require.Nil(t, info)
	require.False(t, fetch.IsAuthenticated(f.auth.Transport()))

	requests := f.idp.AuthRequests()
	require.Len(t, requests, 1)
	_, err = f.sessions.SessionForState(context.Background(), requests[0].Get("state"))
	require.ErrorIs(t, err, internalerrors.ErrNotFound)
}

func TestLoginWithoutS256ChallengeRejected(t *testing.T) {
	f := setupTestFixture(t)
	f.authorize = func(authURL string) (string, error) {
		u, _ := url.Parse(authURL)
		q := u.Query()
		q.Set("code_challenge_method", "plain")
		u.RawQuery = q.Encode()
		return f.idp.Authorize(u.String())
	}

	_, err := f.login(auth.LoginOptions{})
	require.ErrorIs(t, err, internalerrors.ErrRedirectHandling)
	require.Contains(t, err.Error(), "invalid_request")
	require.Empty(t, f.idp.TokenRequests())
}

func TestLoginHostFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.authorize = func(string) (string, error) {
		return "", context.Canceled
	}

	_, err := f.login(auth.LoginOptions{})
	require.ErrorIs(t, err, internalerrors.ErrHostFlowFailure)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoginIssuerMismatch(t *testing.T) {
	f := setupTestFixture(t)
	f.authorize = func(authURL string) (string, error) {
		back, err := f.idp.Authorize(authURL)
		if err != nil {
			return "", err
		}
		u, _ := url.Parse(back)
		q := u.Query()
		q.Set("iss", "https://evil.example")
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	_, err := f.login(auth.LoginOptions{})
	require.ErrorIs(t, err, auth.IssuerMismatchErr)
	require.Empty(t, f.idp.TokenRequests())
}

func TestFailedRedirectClearsState(t *testing.T) {
	f := setupTestFixture(t)
	var redirectURL, state string
	f.authorize = func(authURL string) (string, error) {
		back, err := f.idp.Authorize(authURL)
		if err != nil {
			return "", err
		}
		u, _ := url.Parse(back)
		q := u.Query()
		state = q.Get("state")
		q.Set("iss", "https://evil.example")
		u.RawQuery = q.Encode()
		redirectURL = u.String()
		return redirectURL, nil
	}

	_, err := f.login(auth.LoginOptions{})
	require.ErrorIs(t, err, auth.IssuerMismatchErr)
	require.NotEmpty(t, state)

	_, err = f.sessions.SessionForState(context.Background(), state)
	require.ErrorIs(t, err, internalerrors.ErrNotFound)

	_, err = f.redirect.Handle(context.Background(), redirectURL, events.NewBus())
	require.ErrorIs(t, err, internalerrors.ErrRedirectHandling)
	require.Empty(t, f.idp.TokenRequests())
}

func TestLoginDisableKeepAlive(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.login(auth.LoginOptions{DisableKeepAlive: true})
	require.NoError(t, err)
	refreshToken, err := f.sessions.RefreshToken(context.Background(), sessionID)
	require.NoError(t, err)
	require.Empty(t, refreshToken)
}

// Both logins share a session. The second overwrites the first's verifier and client
// before the first redirect returns, so only the second succeeds.
func TestOverlappingLoginsLastWriterWins(t *testing.T) {
	f := setupTestFixture(t)
	firstLaunched := make(chan struct{})
	secondLaunched := make(chan struct{})
	firstDone := make(chan struct{})
	var launches atomic.Int32
	f.authorize = func(authURL string) (string, error) {
		if launches.Add(1) == 1 {
			close(firstLaunched)
			<-secondLaunched
		} else {
			close(secondLaunched)
			<-firstDone
		}
		return f.idp.Authorize(authURL)
	}

	var wg sync.WaitGroup
	var firstErr, secondErr error
	var second *sessions.Info
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.login(auth.LoginOptions{})
		close(firstDone)
	}()
	<-firstLaunched
	wg.Add(1)
	go func() {
		defer wg.Done()
		second, secondErr = f.login(auth.LoginOptions{})
	}()
	wg.Wait()

	require.ErrorIs(t, firstErr, internalerrors.ErrRedirectHandling)
	require.NoError(t, secondErr)
	require.True(t, second.IsLoggedIn)
	require.Equal(t, "dynamic-client-2", second.ClientAppID)
	require.True(t, fetch.IsAuthenticated(f.auth.Transport()))
}

func TestLogoutResetsTransport(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.login(auth.LoginOptions{})
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(context.Background(), sessionID))
	require.False(t, fetch.IsAuthenticated(f.auth.Transport()))
	info, err := f.auth.SessionInfo(context.Background(), sessionID)
	require.NoError(t, err)
	require.Nil(t, info)

	echo := f.fetchResource(t)
	require.Empty(t, echo.Authorization)
}

type stubLogin struct {
	result *auth.LoginResult
	err    error
}

func (s stubLogin) Handle(context.Context, auth.LoginOptions, *events.Bus) (*auth.LoginResult, error) {
	return s.result, s.err
}

type stubLogout struct{ err error }

func (s stubLogout) Handle(context.Context, string) error { return s.err }

func TestLoginWithoutResult(t *testing.T) {
	im := sessions.NewInfoManager(storage.NewDefaultUtility())
	ca, err := auth.NewClientAuthentication(stubLogin{}, stubLogout{}, im)
	require.NoError(t, err)

	_, err = ca.Login(context.Background(), auth.LoginOptions{SessionID: sessionID}, events.NewBus())
	require.ErrorIs(t, err, internalerrors.ErrUnexpectedLoginFailure)
}

func TestLogoutHandlerFailureStillResets(t *testing.T) {
	im := sessions.NewInfoManager(storage.NewDefaultUtility())
	authenticated := fetch.NewAuthenticated(fetch.AuthenticatedOptions{
		Tokens: &token.TokenSet{AccessToken: "at", TokenType: oauth2.BearerTokenType},
	})
	ca, err := auth.NewClientAuthentication(
		stubLogin{result: &auth.LoginResult{Info: sessions.Info{SessionID: sessionID, IsLoggedIn: true}, Transport: authenticated}},
		stubLogout{err: internalerrors.ErrNotFound},
		im,
	)
	require.NoError(t, err)

	_, err = ca.Login(context.Background(), auth.LoginOptions{SessionID: sessionID}, events.NewBus())
	require.NoError(t, err)
	require.True(t, fetch.IsAuthenticated(ca.Transport()))

	err = ca.Logout(context.Background(), sessionID)
	require.ErrorIs(t, err, internalerrors.ErrNotFound)
	require.False(t, fetch.IsAuthenticated(ca.Transport()))
}

type spyStore struct {
	storage.Store
	calls atomic.Int32
}

func (s *spyStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.calls.Add(1)
	return s.Store.Get(ctx, key)
}

func (s *spyStore) Set(ctx context.Context, key, value string) error {
	s.calls.Add(1)
	return s.Store.Set(ctx, key, value)
}

func (s *spyStore) Delete(ctx context.Context, key string) error {
	s.calls.Add(1)
	return s.Store.Delete(ctx, key)
}

func TestRedirectWithoutCodeOrStateTouchesNoStorage(t *testing.T) {
	secure, insecure := &spyStore{Store: memory.New()}, &spyStore{Store: memory.New()}
	h, err := auth.NewRedirectHandler(auth.RedirectHandlerDeps{
		Sessions:  sessions.NewInfoManager(storage.NewUtility(secure, insecure)),
		Issuers:   issuer.NewFetcher(),
		Clients:   clients.NewRegistrar(storage.NewUtility(secure, insecure)),
		Exchanger: token.NewExchanger(),
	})
	require.NoError(t, err)

	for _, u := range []string{
		callbackURL + "?state=abc",
		callbackURL + "?code=abc",
		callbackURL,
	} {
		require.False(t, h.CanHandle(u), u)
		_, err := h.Handle(context.Background(), u, events.NewBus())
		require.ErrorIs(t, err, auth.MissingCallbackArgErr, u)
	}
	require.Zero(t, secure.calls.Load())
	require.Zero(t, insecure.calls.Load())
}

func TestRedirectUnknownState(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.redirect.Handle(context.Background(), callbackURL+"?code=c&state=unknown", events.NewBus())
	require.ErrorIs(t, err, internalerrors.ErrRedirectHandling)
	require.Empty(t, f.idp.TokenRequests())
}

func TestBeginLoginDoesNotTouchHost(t *testing.T) {
	f := setupTestFixture(t)
	cfg, err := issuer.NewFetcher().FetchConfig(context.Background(), f.idp.Issuer())
	require.NoError(t, err)

	pending, err := f.flow.BeginLogin(context.Background(), auth.OidcOptions{
		LoginOptions: auth.LoginOptions{SessionID: sessionID, OidcIssuer: f.idp.Issuer()},
		IssuerConfig: cfg,
		Client:       &clients.Client{ID: "client-1"},
	})
	require.NoError(t, err)
	require.Empty(t, f.host.Launches())
	require.Equal(t, callbackURL, pending.RedirectURL)
	require.Len(t, pending.State, 32)

	u, err := url.Parse(pending.AuthorizationURL)
	require.NoError(t, err)
	require.Equal(t, pending.State, u.Query().Get("state"))
	require.Equal(t, "client-1", u.Query().Get("client_id"))
}
