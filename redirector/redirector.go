// Package redirector hands the user to an identity provider through the host's interactive
// authentication capability and resumes the login once the host returns the final redirect URL.
package redirector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/fetch"
	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/sessions"
)

type FlowDetails struct {
	URL         string
	Interactive bool
}

// Host is the environment's interactive authentication capability: a browser extension's
// identity API, or a desktop loopback listener.
type Host interface {
	// LaunchAuthFlow shows URL to the user and returns the URL the identity provider
	// finally redirected to.
	LaunchAuthFlow(ctx context.Context, details FlowDetails) (string, error)
	// CallbackURL is the redirect URL registered with the identity provider for this host.
	CallbackURL() string
}

// LoginResult is the outcome of a completed redirect: the session info and the transport
// that authenticates as that session.
type LoginResult struct {
	Info      sessions.Info
	Transport fetch.Transport
}

type Options struct {
	// SessionID names the session in the unauthenticated result of a failed flow.
	SessionID string
	// HandleRedirect turns the final redirect URL into a login result.
	HandleRedirect func(ctx context.Context, redirectURL string) (*LoginResult, error)
	// AfterRedirect is called exactly once per Redirect.
	AfterRedirect func(result *LoginResult, err error)
}

type Redirector struct {
	host Host
}

func New(host Host) *Redirector {
	return &Redirector{host: host}
}

func (r *Redirector) Host() Host {
	return r.host
}

// Redirect returns immediately. The flow is never retried: on any failure AfterRedirect
// receives an unauthenticated result and the error.
func (r *Redirector) Redirect(ctx context.Context, targetURL string, opts Options) {
	go func() {
		result, err := r.run(ctx, targetURL, opts)
		if err != nil {
			log.Err(err).Str("sessionId", opts.SessionID).Msg("redirect failed")
			opts.AfterRedirect(&LoginResult{
				Info:      sessions.Unauthenticated(opts.SessionID),
				Transport: fetch.Unauthenticated(nil),
			}, err)
			return
		}
		opts.AfterRedirect(result, nil)
	}()
}

func (r *Redirector) run(ctx context.Context, targetURL string, opts Options) (result *LoginResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, internalerrors.Wrapf(internalerrors.ErrRedirectHandling, "redirect handler panicked: %v", p)
		}
	}()

	redirectURL, err := r.host.LaunchAuthFlow(ctx, FlowDetails{URL: targetURL, Interactive: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrHostFlowFailure, err)
	}
	return opts.HandleRedirect(ctx, redirectURL)
}
