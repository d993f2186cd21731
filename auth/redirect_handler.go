package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/clients"
	"github.com/jrsteele09/go-auth-client/events"
	"github.com/jrsteele09/go-auth-client/fetch"
	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/issuer"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
)

// RedirectHandler completes the authorization code flow: it recovers the session from the
// state parameter, redeems the code, and binds an authenticated transport to the session.
type RedirectHandler struct {
	sessions      *sessions.InfoManager
	issuers       issuer.ConfigFetcher
	clients       clients.Resolver
	exchanger     token.CodeExchanger
	refresher     token.TokenRefresher
	validator     *Validator
	httpClient    *http.Client
	refreshMargin time.Duration
}

var _ RedirectURLHandler = (*RedirectHandler)(nil)

type RedirectHandlerDeps struct {
	Sessions  *sessions.InfoManager
	Issuers   issuer.ConfigFetcher
	Clients   clients.Resolver
	Exchanger token.CodeExchanger
	Refresher token.TokenRefresher // nil disables background refresh
}

type RedirectHandlerOption func(*RedirectHandler)

func WithHTTPClient(c *http.Client) RedirectHandlerOption {
	return func(h *RedirectHandler) {
		h.httpClient = c
	}
}

func WithRefreshMargin(d time.Duration) RedirectHandlerOption {
	return func(h *RedirectHandler) {
		h.refreshMargin = d
	}
}

func NewRedirectHandler(deps RedirectHandlerDeps, options ...RedirectHandlerOption) (*RedirectHandler, error) {
	if deps.Sessions == nil {
		return nil, errors.New("[NewRedirectHandler] Sessions is required")
	}
	if deps.Issuers == nil {
		return nil, errors.New("[NewRedirectHandler] Issuers is required")
	}
	if deps.Clients == nil {
		return nil, errors.New("[NewRedirectHandler] Clients is required")
	}
	if deps.Exchanger == nil {
		return nil, errors.New("[NewRedirectHandler] Exchanger is required")
	}
	h := &RedirectHandler{
		sessions:   deps.Sessions,
		issuers:    deps.Issuers,
		clients:    deps.Clients,
		exchanger:  deps.Exchanger,
		refresher:  deps.Refresher,
		validator:  NewValidator(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range options {
		opt(h)
	}
	return h, nil
}

func (h *RedirectHandler) CanHandle(redirectURL string) bool {
	_, err := h.validator.ParseCallback(redirectURL)
	return err == nil
}

func (h *RedirectHandler) Handle(ctx context.Context, redirectURL string, bus *events.Bus) (_ *LoginResult, err error) {
	params, err := h.validator.ParseCallback(redirectURL)
	if err != nil {
		if params != nil && params.State != "" {
			h.clearState(ctx, params.State)
		}
		return nil, err
	}

	sessionID, err := h.sessions.SessionForState(ctx, params.State)
	if err != nil {
		return nil, fmt.Errorf("%w: no pending login for this state: %w", internalerrors.ErrRedirectHandling, err)
	}
	// a state is single use, whether or not its login completes
	defer func() {
		if err != nil {
			h.clearState(ctx, params.State)
		}
	}()
	flow, err := h.sessions.LoadFlow(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrRedirectHandling, err)
	}
	if params.Issuer != "" && params.Issuer != flow.Issuer {
		return nil, IssuerMismatchErr
	}

	issuerConfig, err := h.issuers.FetchConfig(ctx, flow.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrRedirectHandling, err)
	}
	client, err := h.clients.GetClient(ctx, clients.Options{SessionID: sessionID, RedirectURL: flow.RedirectURL}, issuerConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrRedirectHandling, err)
	}

	tokens, err := h.exchanger.Exchange(ctx, token.CodeRequest{
		Code:         params.Code,
		CodeVerifier: flow.CodeVerifier,
		RedirectURL:  flow.RedirectURL,
	}, issuerConfig, client, flow.DPoP)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrRedirectHandling, err)
	}

	if err := h.sessions.ClearFlow(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := h.sessions.ClearState(ctx, params.State); err != nil {
		return nil, err
	}

	info := sessions.Info{
		SessionID:      sessionID,
		IsLoggedIn:     true,
		WebID:          tokens.WebID,
		ClientAppID:    client.ID,
		ExpirationDate: tokens.ExpiresAt,
	}
	if err := h.sessions.Update(ctx, info); err != nil {
		return nil, err
	}

	var refresher token.TokenRefresher
	if flow.KeepAlive && h.refresher != nil {
		refresher = h.refresher
		if err := h.sessions.SaveRefreshToken(ctx, sessionID, tokens.RefreshToken); err != nil {
			return nil, err
		}
	}

	log.Info().Str("sessionId", sessionID).Str("webId", info.WebID).Str("tokenType", string(tokens.TokenType)).Msg("login completed")
	return &LoginResult{
		Info: info,
		Transport: fetch.NewAuthenticated(fetch.AuthenticatedOptions{
			Tokens:        tokens,
			HTTPClient:    h.httpClient,
			Refresher:     refresher,
			IssuerConfig:  issuerConfig,
			Client:        client,
			Events:        bus,
			RefreshMargin: h.refreshMargin,
			OnRefresh:     h.persistRefresh(sessionID),
		}),
	}, nil
}

func (h *RedirectHandler) clearState(ctx context.Context, state string) {
	if err := h.sessions.ClearState(context.WithoutCancel(ctx), state); err != nil {
		log.Err(err).Str("state", state).Msg("clearing state after failed redirect")
	}
}

func (h *RedirectHandler) persistRefresh(sessionID string) func(*token.TokenSet) {
	return func(ts *token.TokenSet) {
		ctx := context.Background()
		if err := h.sessions.SaveRefreshToken(ctx, sessionID, ts.RefreshToken); err != nil {
			log.Err(err).Str("sessionId", sessionID).Msg("storing rotated refresh token")
		}
		info, err := h.sessions.Get(ctx, sessionID)
		if err != nil || info == nil {
			return
		}
		info.ExpirationDate = ts.ExpiresAt
		if err := h.sessions.Update(ctx, *info); err != nil {
			log.Err(err).Str("sessionId", sessionID).Msg("storing session expiry")
		}
	}
}
