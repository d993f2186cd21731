// Package login is the public entry point: a Session logs a user in against an OpenID
// provider and authorizes requests for them until logout or expiry.
package login

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/sessions"
)

type Info = sessions.Info

type LoginOptions = auth.LoginOptions

// Authenticator logs sessions in and out and sends requests on their behalf.
type Authenticator interface {
	Login(ctx context.Context, opts auth.LoginOptions, bus *events.Bus) (*sessions.Info, error)
	Logout(ctx context.Context, sessionID string) error
	Fetch(req *http.Request) (*http.Response, error)
	SessionInfo(ctx context.Context, sessionID string) (*sessions.Info, error)
}

type Options struct {
	ClientAuthentication Authenticator
	// SessionInfo seeds the session id and WebID. A seeded session always starts logged out.
	SessionInfo *sessions.Info
	Now         func() time.Time
}

// Session is the long lived state of one user's login. Info returns snapshots; the
// session replaces its info wholesale on every transition.
type Session struct {
	auth    Authenticator
	bus     *events.Bus
	nowTime func() time.Time

	mu       sync.RWMutex
	info     sessions.Info
	extended sync.Once
	closers  []func() error
}

// NewSession creates a logged out session. Without a ClientAuthentication, the default
// stack is built from the environment.
func NewSession(opts Options) (*Session, error) {
	if opts.ClientAuthentication != nil {
		return newSession(opts), nil
	}
	var stackOpts []StackOption
	if opts.SessionInfo != nil {
		stackOpts = append(stackOpts, WithSessionInfo(*opts.SessionInfo))
	}
	s, err := New(nil, stackOpts...)
	if err != nil {
		return nil, err
	}
	if opts.Now != nil {
		s.nowTime = opts.Now
	}
	return s, nil
}

func newSession(opts Options) *Session {
	s := &Session{
		auth:    opts.ClientAuthentication,
		bus:     events.NewBus(),
		nowTime: opts.Now,
	}
	if s.nowTime == nil {
		s.nowTime = time.Now
	}
	s.info = sessions.Unauthenticated(uuid.NewString())
	if opts.SessionInfo != nil {
		if opts.SessionInfo.SessionID != "" {
			s.info.SessionID = opts.SessionInfo.SessionID
		}
		s.info.WebID = opts.SessionInfo.WebID
	}

	// the provider ending the session is not a user logout, so no Logout event.
	// A failing refresh emits Error then SessionExpired; only the first one logs out.
	s.bus.OnSessionExpired(func() {
		if s.markLoggedOut() {
			s.internalLogout(context.Background())
		}
	})
	s.bus.OnError(func(tag string, err error) {
		if !s.markLoggedOut() {
			return
		}
		log.Debug().Str("sessionId", s.Info().SessionID).Str("tag", tag).AnErr("cause", err).Msg("logging out after error")
		s.internalLogout(context.Background())
	})
	return s
}

// Info is a snapshot; later transitions do not change it.
func (s *Session) Info() sessions.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Events is the session's bus. Listeners stay registered until Close.
func (s *Session) Events() *events.Bus {
	return s.bus
}

// Login runs a login for this session. It blocks until the identity provider's redirect has
// been handled. Errors are returned and also emitted as an Error event tagged "login".
func (s *Session) Login(ctx context.Context, opts LoginOptions) error {
	opts.SessionID = s.Info().SessionID
	if opts.TokenType == "" {
		opts.TokenType = oauth2.DefaultTokenType
	}

	info, err := s.auth.Login(ctx, opts, s.bus)
	if err != nil {
		s.internalLogout(ctx)
		s.bus.Emit(events.Error{Tag: "login", Err: err})
		return err
	}

	s.setInfo(*info)
	if !info.IsLoggedIn {
		return nil
	}
	s.extended.Do(func() {
		s.bus.OnSessionExtended(func(expiresIn time.Duration) {
			s.mu.Lock()
			s.info.ExpirationDate = s.nowTime().Add(expiresIn)
			s.mu.Unlock()
		})
	})
	log.Info().Str("sessionId", info.SessionID).Str("webId", info.WebID).Msg("logged in")
	s.bus.Emit(events.Login{})
	return nil
}

// Logout clears the session locally. It emits Logout every time it succeeds, logged in or
// not.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.auth.Logout(ctx, s.Info().SessionID); err != nil {
		return err
	}
	s.setLoggedOut()
	s.bus.Emit(events.Logout{})
	return nil
}

// Fetch sends req with the session's credentials once logged in, and unauthenticated
// otherwise.
func (s *Session) Fetch(req *http.Request) (*http.Response, error) {
	return s.auth.Fetch(req)
}

// StoredInfo reads what the storage backend holds for this session, which may come from an
// earlier process.
func (s *Session) StoredInfo(ctx context.Context) (*sessions.Info, error) {
	return s.auth.SessionInfo(ctx, s.Info().SessionID)
}

// Close drops every listener and releases the stack the session was built with.
func (s *Session) Close() error {
	s.bus.Close()
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Session) internalLogout(ctx context.Context) {
	if err := s.auth.Logout(ctx, s.Info().SessionID); err != nil {
		log.Err(err).Str("sessionId", s.Info().SessionID).Msg("silent logout failed")
	}
	s.setLoggedOut()
}

func (s *Session) setInfo(info sessions.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

func (s *Session) setLoggedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.IsLoggedIn = false
}

// markLoggedOut reports whether the session was logged in before the call.
func (s *Session) markLoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.info.IsLoggedIn
	s.info.IsLoggedIn = false
	return was
}
