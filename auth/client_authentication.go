package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/fetch"
	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/sessions"
)

// ClientAuthentication orchestrates login and logout and owns the transport requests are
// sent through: unauthenticated until a login succeeds, and again after logout.
type ClientAuthentication struct {
	loginHandler  LoginHandler
	logoutHandler SessionLogout
	sessions      *sessions.InfoManager
	httpClient    *http.Client

	mu        sync.RWMutex
	transport fetch.Transport
}

type ClientAuthenticationOption func(*ClientAuthentication)

func WithUnauthenticatedClient(c *http.Client) ClientAuthenticationOption {
	return func(ca *ClientAuthentication) {
		ca.httpClient = c
	}
}

func NewClientAuthentication(login LoginHandler, logout SessionLogout, infoManager *sessions.InfoManager, options ...ClientAuthenticationOption) (*ClientAuthentication, error) {
	if login == nil {
		return nil, errors.New("[NewClientAuthentication] login handler is required")
	}
	if logout == nil {
		return nil, errors.New("[NewClientAuthentication] logout handler is required")
	}
	if infoManager == nil {
		return nil, errors.New("[NewClientAuthentication] session info manager is required")
	}
	ca := &ClientAuthentication{
		loginHandler:  login,
		logoutHandler: logout,
		sessions:      infoManager,
		httpClient:    http.DefaultClient,
	}
	for _, opt := range options {
		opt(ca)
	}
	ca.transport = fetch.Unauthenticated(ca.httpClient)
	return ca, nil
}

// Login clears what is stored for the session first, unless the login is silent: a silent
// login needs the client registered by an earlier one.
func (ca *ClientAuthentication) Login(ctx context.Context, opts LoginOptions, bus *events.Bus) (*sessions.Info, error) {
	if opts.Prompt != oauth2.PromptNone {
		if err := ca.sessions.Clear(ctx, opts.SessionID); err != nil {
			return nil, errors.Wrap(err, "[ClientAuthentication.Login] clearing session")
		}
	}
	if opts.ClientName == "" {
		opts.ClientName = opts.ClientID
	}

	result, err := ca.loginHandler.Handle(ctx, opts, bus)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, internalerrors.Wrapf(internalerrors.ErrUnexpectedLoginFailure, "login handler returned no session info for session %s", opts.SessionID)
	}

	transport := result.Transport
	if transport == nil {
		transport = fetch.Unauthenticated(ca.httpClient)
	}
	ca.swap(transport)
	info := result.Info
	return &info, nil
}

// Logout always resets the transport; the logout handler's error is returned.
func (ca *ClientAuthentication) Logout(ctx context.Context, sessionID string) error {
	err := ca.logoutHandler.Handle(ctx, sessionID)
	ca.swap(fetch.Unauthenticated(ca.httpClient))
	return errors.Wrap(err, "[ClientAuthentication.Logout]")
}

// Fetch sends req through the currently bound transport.
func (ca *ClientAuthentication) Fetch(req *http.Request) (*http.Response, error) {
	return ca.Transport().Do(req)
}

func (ca *ClientAuthentication) Transport() fetch.Transport {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.transport
}

// SessionInfo returns what is persisted for the session, or nil.
func (ca *ClientAuthentication) SessionInfo(ctx context.Context, sessionID string) (*sessions.Info, error) {
	return ca.sessions.Get(ctx, sessionID)
}

func (ca *ClientAuthentication) Close() {
	ca.swap(fetch.Unauthenticated(ca.httpClient))
}

func (ca *ClientAuthentication) swap(t fetch.Transport) {
	ca.mu.Lock()
	old := ca.transport
	ca.transport = t
	ca.mu.Unlock()
	if old != nil && old != t {
		old.Close()
	}
}
