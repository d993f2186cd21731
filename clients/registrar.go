package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/issuer"
	"github.com/jrsteele09/go-auth-client/oauth2"
	"github.com/jrsteele09/go-auth-client/storage"
)

// Storage keys written for a registered client.
const (
	KeyClientID     = "clientId"
	KeyClientSecret = "clientSecret"
	KeyClientName   = "clientName"
	KeyClientType   = "clientType"
)

// Options identify the session a client is resolved for and any statically configured client.
type Options struct {
	SessionID    string
	ClientID     string
	ClientSecret string
	ClientName   string
	RedirectURL  string
	Scopes       []string
}

// Resolver resolves the client a login should use.
type Resolver interface {
	GetClient(ctx context.Context, opts Options, issuerConfig *issuer.Config) (*Client, error)
}

// Registrar reuses a client stored for the session, falls back to a statically configured
// client, and finally registers a new client dynamically (RFC 7591).
type Registrar struct {
	storage    *storage.Utility
	httpClient *http.Client
}

var _ Resolver = (*Registrar)(nil)

type RegistrarOption func(*Registrar)

func WithHTTPClient(c *http.Client) RegistrarOption {
	return func(r *Registrar) {
		r.httpClient = c
	}
}

func NewRegistrar(s *storage.Utility, opts ...RegistrarOption) *Registrar {
	r := &Registrar{storage: s, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registrar) GetClient(ctx context.Context, opts Options, issuerConfig *issuer.Config) (*Client, error) {
	stored, err := r.storedClient(ctx, opts.SessionID)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		log.Debug().Str("sessionId", opts.SessionID).Msg("reusing stored client")
		return stored, nil
	}

	if opts.ClientID != "" {
		client := newClient(opts.ClientID, opts.ClientSecret, opts.ClientName)
		return client, r.persist(ctx, opts.SessionID, client)
	}

	if issuerConfig.RegistrationEndpoint == "" {
		return nil, internalerrors.Wrapf(internalerrors.ErrInvalidClient,
			"no client id was supplied and %s does not support dynamic registration", issuerConfig.Issuer)
	}
	client, err := r.register(ctx, opts, issuerConfig)
	if err != nil {
		return nil, err
	}
	return client, r.persist(ctx, opts.SessionID, client)
}

func (r *Registrar) storedClient(ctx context.Context, sessionID string) (*Client, error) {
	data, err := r.storage.GetUserData(ctx, sessionID, storage.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "[Registrar.storedClient] reading client")
	}
	if data[KeyClientID] == "" {
		return nil, nil
	}
	secret, err := r.storage.GetForUser(ctx, sessionID, KeyClientSecret, storage.Options{Secure: true})
	if err != nil {
		return nil, errors.Wrap(err, "[Registrar.storedClient] reading client secret")
	}
	client := newClient(data[KeyClientID], secret, data[KeyClientName])
	if t := ClientType(data[KeyClientType]); t != "" {
		client.Type = t
	}
	return client, nil
}

func (r *Registrar) persist(ctx context.Context, sessionID string, client *Client) error {
	if err := r.storage.SetForUser(ctx, sessionID, map[string]string{
		KeyClientID:   client.ID,
		KeyClientName: client.Name,
		KeyClientType: string(client.Type),
	}, storage.Options{}); err != nil {
		return errors.Wrap(err, "[Registrar.persist] storing client")
	}
	if client.Secret == "" {
		return nil
	}
	if err := r.storage.SetForUser(ctx, sessionID, map[string]string{KeyClientSecret: client.Secret}, storage.Options{Secure: true}); err != nil {
		return errors.Wrap(err, "[Registrar.persist] storing client secret")
	}
	return nil
}

type registrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	ApplicationType         string   `json:"application_type"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope,omitempty"`
}

type registrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	ClientName   string `json:"client_name"`
}

func (r *Registrar) register(ctx context.Context, opts Options, issuerConfig *issuer.Config) (*Client, error) {
	body, err := json.Marshal(registrationRequest{
		ClientName:              opts.ClientName,
		ApplicationType:         "native",
		RedirectURIs:            []string{opts.RedirectURL},
		GrantTypes:              []string{string(oauth2.AuthorizationCodeGrant), string(oauth2.RefreshTokenGrant)},
		ResponseTypes:           []string{string(oauth2.CodeResponseType)},
		TokenEndpointAuthMethod: "client_secret_basic",
		Scope:                   oauth2.JoinScopes(opts.Scopes),
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Registrar.register] json.Marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, issuerConfig.RegistrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "[Registrar.register] http.NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "[Registrar.register] registering with %s", issuerConfig.RegistrationEndpoint)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "[Registrar.register] reading response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var oauthErr oauth2.ErrorResponse
		_ = json.Unmarshal(raw, &oauthErr)
		return nil, internalerrors.Wrapf(internalerrors.ErrInvalidClient,
			"dynamic registration failed with status %d %s", resp.StatusCode, oauthErr.Description())
	}

	var reg registrationResponse
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, errors.Wrap(err, "[Registrar.register] decoding response")
	}
	if reg.ClientID == "" {
		return nil, internalerrors.Wrapf(internalerrors.ErrInvalidClient, "registration response from %s has no client_id", issuerConfig.Issuer)
	}
	name := reg.ClientName
	if name == "" {
		name = opts.ClientName
	}
	log.Info().Str("issuer", issuerConfig.Issuer).Str("clientId", reg.ClientID).Msg("registered client")
	return newClient(reg.ClientID, reg.ClientSecret, name), nil
}
