package fetch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/clients"
	"github.com/jrsteele09/go-auth-client/dpop"
	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/issuer"
	"github.com/jrsteele09/go-auth-client/token"
)

const (
	defaultRefreshMargin = 5 * time.Second
	refreshTimeout       = 30 * time.Second
)

type AuthenticatedOptions struct {
	Tokens        *token.TokenSet
	HTTPClient    *http.Client
	Refresher     token.TokenRefresher
	IssuerConfig  *issuer.Config
	Client        *clients.Client
	Events        *events.Bus
	RefreshMargin time.Duration
	NowTime       func() time.Time
	// OnRefresh receives renewed tokens, e.g. to persist a rotated refresh token.
	OnRefresh func(*token.TokenSet)
}

// Authenticated authorizes requests with the session's access token, adding a DPoP proof
// to each request when the token is DPoP-bound. It renews the token ahead of expiry when it
// can, and emits SessionExpired when it cannot.
type Authenticated struct {
	opts   AuthenticatedOptions
	client *http.Client

	mu     sync.RWMutex
	tokens *token.TokenSet
	timer  *time.Timer
	closed bool
}

var _ Transport = (*Authenticated)(nil)

func NewAuthenticated(opts AuthenticatedOptions) *Authenticated {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.NowTime == nil {
		opts.NowTime = time.Now
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = defaultRefreshMargin
	}
	a := &Authenticated{opts: opts, tokens: opts.Tokens}

	c := *opts.HTTPClient
	if opts.Tokens.DPoPKey != nil {
		rt := dpop.NewRoundTripper(opts.Tokens.DPoPKey, c.Transport)
		rt.AccessToken = a.accessToken
		c.Transport = rt
	} else {
		c.Transport = &bearerTransport{base: c.Transport, accessToken: a.accessToken}
	}
	a.client = &c

	a.schedule(opts.Tokens)
	return a
}

func (a *Authenticated) Do(req *http.Request) (*http.Response, error) {
	return a.client.Do(req)
}

// Tokens returns the tokens currently in use.
func (a *Authenticated) Tokens() token.TokenSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return *a.tokens
}

func (a *Authenticated) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
	}
}

func (a *Authenticated) accessToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tokens.AccessToken
}

func (a *Authenticated) canRefresh(ts *token.TokenSet) bool {
	return a.opts.Refresher != nil && ts.RefreshToken != "" && a.opts.IssuerConfig != nil && a.opts.Client != nil
}

func (a *Authenticated) schedule(ts *token.TokenSet) {
	if ts.ExpiresAt.IsZero() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	until := ts.ExpiresAt.Sub(a.opts.NowTime())
	if a.canRefresh(ts) {
		a.timer = time.AfterFunc(max(until-a.opts.RefreshMargin, 0), a.refresh)
		return
	}
	a.timer = time.AfterFunc(max(until, 0), a.expire)
}

func (a *Authenticated) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

func (a *Authenticated) expire() {
	if a.isClosed() {
		return
	}
	log.Info().Msg("access token expired")
	a.opts.Events.Emit(events.SessionExpired{})
}

func (a *Authenticated) refresh() {
	if a.isClosed() {
		return
	}
	a.mu.RLock()
	current := *a.tokens
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	renewed, err := a.opts.Refresher.Refresh(ctx, token.RefreshRequest{
		RefreshToken: current.RefreshToken,
		IssuerConfig: a.opts.IssuerConfig,
		Client:       a.opts.Client,
		DPoPKey:      current.DPoPKey,
	})
	if a.isClosed() {
		return
	}
	if err != nil {
		log.Err(err).Msg("refreshing access token failed")
		a.opts.Events.Emit(events.Error{Tag: "refresh", Err: err})
		a.opts.Events.Emit(events.SessionExpired{})
		return
	}

	// the refresh response carries no identity
	renewed.WebID = current.WebID
	renewed.Subject = current.Subject
	if renewed.IDToken == "" {
		renewed.IDToken = current.IDToken
	}
	a.mu.Lock()
	a.tokens = renewed
	a.mu.Unlock()

	if a.opts.OnRefresh != nil {
		a.opts.OnRefresh(renewed)
	}
	log.Debug().Time("expiresAt", renewed.ExpiresAt).Msg("access token refreshed")
	a.opts.Events.Emit(events.SessionExtended{ExpiresIn: renewed.ExpiresIn(a.opts.NowTime())})
	a.schedule(renewed)
}

type bearerTransport struct {
	base        http.RoundTripper
	accessToken func() string
}

func (b *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := b.base
	if base == nil {
		base = http.DefaultTransport
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+b.accessToken())
	return base.RoundTrip(out)
}
