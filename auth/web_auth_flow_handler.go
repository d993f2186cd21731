package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/redirector"
	"github.com/jrsteele09/go-auth-client/sessions"
)

// RedirectURLHandler completes a login from the identity provider's redirect.
type RedirectURLHandler interface {
	CanHandle(redirectURL string) bool
	Handle(ctx context.Context, redirectURL string, bus *events.Bus) (*LoginResult, error)
}

// WebAuthFlowHandler drives the authorization code flow with PKCE through the host's
// interactive authentication capability.
type WebAuthFlowHandler struct {
	redirector      *redirector.Redirector
	sessions        *sessions.InfoManager
	redirectHandler RedirectURLHandler
	validator       *Validator
	nowTime         func() time.Time
}

type WebAuthFlowHandlerOption func(*WebAuthFlowHandler)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) WebAuthFlowHandlerOption {
	return func(h *WebAuthFlowHandler) {
		h.nowTime = nowFunc
	}
}

func NewWebAuthFlowHandler(r *redirector.Redirector, infoManager *sessions.InfoManager, redirectHandler RedirectURLHandler, options ...WebAuthFlowHandlerOption) *WebAuthFlowHandler {
	h := &WebAuthFlowHandler{
		redirector:      r,
		sessions:        infoManager,
		redirectHandler: redirectHandler,
		validator:       NewValidator(),
		nowTime:         time.Now,
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// CallbackURL is the redirect URL every authorization request is sent with.
func (h *WebAuthFlowHandler) CallbackURL() string {
	return h.redirector.Host().CallbackURL()
}

func (h *WebAuthFlowHandler) CanHandle(opts OidcOptions) bool {
	return h.validator.ValidateOidcOptions(opts, h.CallbackURL()) == nil
}

// BeginLogin builds the authorization request and persists what the redirect handler needs
// to finish it. Nothing is persisted when validation fails.
func (h *WebAuthFlowHandler) BeginLogin(ctx context.Context, opts OidcOptions) (*PendingFlow, error) {
	redirectURL := h.CallbackURL()
	if err := h.validator.ValidateOidcOptions(opts, redirectURL); err != nil {
		return nil, err
	}
	if opts.RedirectURL != "" && opts.RedirectURL != redirectURL {
		log.Debug().Str("sessionId", opts.SessionID).Msg("ignoring caller redirect url in favour of the host callback url")
	}

	verifier := xoauth2.GenerateVerifier()
	state := strings.ReplaceAll(uuid.NewString(), "-", "")
	cfg := xoauth2.Config{
		ClientID:    opts.Client.ID,
		Endpoint:    opts.IssuerConfig.Endpoint(),
		RedirectURL: redirectURL,
		Scopes:      opts.scopes(),
	}
	authURL := cfg.AuthCodeURL(state,
		xoauth2.S256ChallengeOption(verifier),
		xoauth2.SetAuthURLParam("prompt", string(opts.prompt())),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.sessions.SaveState(gctx, state, sessions.StateRecord{SessionID: opts.SessionID})
	})
	g.Go(func() error {
		return h.sessions.SaveFlow(gctx, opts.SessionID, sessions.FlowRecord{
			CodeVerifier: verifier,
			RedirectURL:  redirectURL,
			Issuer:       opts.IssuerConfig.Issuer,
			DPoP:         opts.DPoP,
			KeepAlive:    !opts.DisableKeepAlive,
			StartedAt:    h.nowTime(),
		})
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "[WebAuthFlowHandler.BeginLogin] persisting flow")
	}

	log.Debug().Str("sessionId", opts.SessionID).Str("issuer", opts.IssuerConfig.Issuer).Str("prompt", string(opts.prompt())).Msg("authorization request prepared")
	return &PendingFlow{
		SessionID:        opts.SessionID,
		State:            state,
		CodeVerifier:     verifier,
		RedirectURL:      redirectURL,
		AuthorizationURL: authURL,
	}, nil
}

// CompleteLogin finishes a flow started by BeginLogin from the final redirect URL.
func (h *WebAuthFlowHandler) CompleteLogin(ctx context.Context, callbackURL string, bus *events.Bus) (*LoginResult, error) {
	return h.redirectHandler.Handle(ctx, callbackURL, bus)
}

type flowOutcome struct {
	result *LoginResult
	err    error
}

// Handle runs a whole login: BeginLogin, the host round trip, and CompleteLogin. It blocks
// until the host flow ends; a pending host flow cannot be cancelled from here.
func (h *WebAuthFlowHandler) Handle(ctx context.Context, opts OidcOptions, bus *events.Bus) (*LoginResult, error) {
	pending, err := h.BeginLogin(ctx, opts)
	if err != nil {
		return nil, err
	}

	done := make(chan flowOutcome, 1)
	h.redirector.Redirect(ctx, pending.AuthorizationURL, redirector.Options{
		SessionID: opts.SessionID,
		HandleRedirect: func(ctx context.Context, redirectURL string) (*LoginResult, error) {
			return h.CompleteLogin(ctx, redirectURL, bus)
		},
		AfterRedirect: func(result *LoginResult, err error) {
			done <- flowOutcome{result: result, err: err}
		},
	})
	outcome := <-done
	return outcome.result, outcome.err
}
