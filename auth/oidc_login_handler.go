package auth

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/clients"
	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/issuer"
	"github.com/jrsteele09/go-auth-client/oauth2"
)

// LoginHandler performs a login for the given options.
type LoginHandler interface {
	Handle(ctx context.Context, opts LoginOptions, bus *events.Bus) (*LoginResult, error)
}

// LoginFlow is a login mechanism that can run once issuer and client are resolved.
type LoginFlow interface {
	CallbackURL() string
	CanHandle(opts OidcOptions) bool
	Handle(ctx context.Context, opts OidcOptions, bus *events.Bus) (*LoginResult, error)
}

// OidcLoginHandler resolves the issuer configuration and the client, then hands the login
// to the flow.
type OidcLoginHandler struct {
	issuers   issuer.ConfigFetcher
	clients   clients.Resolver
	flow      LoginFlow
	validator *Validator
}

var _ LoginHandler = (*OidcLoginHandler)(nil)

func NewOidcLoginHandler(issuers issuer.ConfigFetcher, resolver clients.Resolver, flow LoginFlow) *OidcLoginHandler {
	return &OidcLoginHandler{issuers: issuers, clients: resolver, flow: flow, validator: NewValidator()}
}

func (h *OidcLoginHandler) CanHandle(opts LoginOptions) bool {
	return opts.OidcIssuer != ""
}

func (h *OidcLoginHandler) Handle(ctx context.Context, opts LoginOptions, bus *events.Bus) (*LoginResult, error) {
	if err := h.validator.ValidateLoginOptions(opts); err != nil {
		return nil, err
	}

	issuerConfig, err := h.issuers.FetchConfig(ctx, opts.OidcIssuer)
	if err != nil {
		return nil, errors.Wrap(err, "[OidcLoginHandler.Handle] fetching issuer configuration")
	}

	oidcOpts := OidcOptions{
		LoginOptions: opts,
		IssuerConfig: issuerConfig,
		DPoP:         opts.tokenType() == oauth2.DPoPTokenType,
	}
	if oidcOpts.DPoP && !issuerConfig.SupportsDPoP() {
		log.Warn().Str("issuer", issuerConfig.Issuer).Msg("issuer does not accept ES256 DPoP proofs, falling back to bearer tokens")
		oidcOpts.DPoP = false
	}
	// the flow must be viable before a client is registered
	if !h.flow.CanHandle(oidcOpts) {
		return nil, h.validator.ValidateOidcOptions(oidcOpts, h.flow.CallbackURL())
	}

	oidcOpts.Client, err = h.clients.GetClient(ctx, clients.Options{
		SessionID:    opts.SessionID,
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		ClientName:   opts.ClientName,
		RedirectURL:  h.flow.CallbackURL(),
		Scopes:       opts.scopes(),
	}, issuerConfig)
	if err != nil {
		return nil, errors.Wrap(err, "[OidcLoginHandler.Handle] resolving client")
	}
	return h.flow.Handle(ctx, oidcOpts, bus)
}
