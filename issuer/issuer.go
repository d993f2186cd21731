// Package issuer discovers and caches OpenID provider metadata.
package issuer

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/go-auth-client/oauth2"
)

// Config is the subset of the OpenID provider metadata the login flow needs.
type Config struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	DPoPSigningAlgValuesSupported     []string `json:"dpop_signing_alg_values_supported"`

	provider *oidc.Provider
}

// SupportsGrant applies the discovery default (authorization_code, implicit) when the
// issuer does not advertise its grant types.
func (c *Config) SupportsGrant(g oauth2.GrantType) bool {
	if len(c.GrantTypesSupported) == 0 {
		return slices.Contains(oauth2.DefaultGrantTypes, g)
	}
	return slices.Contains(c.GrantTypesSupported, string(g))
}

// SupportsDPoP reports whether the issuer advertises ES256 DPoP proofs. Issuers that
// do not publish dpop_signing_alg_values_supported are assumed to accept them.
func (c *Config) SupportsDPoP() bool {
	if len(c.DPoPSigningAlgValuesSupported) == 0 {
		return true
	}
	return slices.Contains(c.DPoPSigningAlgValuesSupported, "ES256")
}

func (c *Config) Endpoint() xoauth2.Endpoint {
	return xoauth2.Endpoint{AuthURL: c.AuthorizationEndpoint, TokenURL: c.TokenEndpoint}
}

// Provider is the go-oidc provider the metadata was discovered with. It is nil for
// configs that were built by hand.
func (c *Config) Provider() *oidc.Provider {
	return c.provider
}

// Verifier returns an ID token verifier for clientID backed by the issuer's JWKS.
func (c *Config) Verifier(ctx context.Context, clientID string) *oidc.IDTokenVerifier {
	cfg := &oidc.Config{ClientID: clientID}
	if c.provider != nil {
		return c.provider.Verifier(cfg)
	}
	return oidc.NewVerifier(c.Issuer, oidc.NewRemoteKeySet(ctx, c.JWKSURI), cfg)
}

// ConfigFetcher resolves issuer metadata.
type ConfigFetcher interface {
	FetchConfig(ctx context.Context, issuer string) (*Config, error)
}

type cachedConfig struct {
	config    *Config
	fetchedAt time.Time
}

type Fetcher struct {
	ttl        time.Duration
	nowTime    func() time.Time
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]cachedConfig
	group singleflight.Group
}

var _ ConfigFetcher = (*Fetcher)(nil)

type FetcherOption func(*Fetcher)

func WithTTL(ttl time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.ttl = ttl
	}
}

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

func WithNowTime(now func() time.Time) FetcherOption {
	return func(f *Fetcher) {
		f.nowTime = now
	}
}

func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		ttl:     time.Hour,
		nowTime: time.Now,
		cache:   make(map[string]cachedConfig),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) FetchConfig(ctx context.Context, issuerURL string) (*Config, error) {
	f.mu.RLock()
	cached, ok := f.cache[issuerURL]
	f.mu.RUnlock()
	if ok && f.nowTime().Sub(cached.fetchedAt) < f.ttl {
		return cached.config, nil
	}

	v, err, shared := f.group.Do(issuerURL, func() (interface{}, error) {
		return f.discover(ctx, issuerURL)
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("issuer", issuerURL).Bool("shared", shared).Msg("issuer metadata discovered")
	return v.(*Config), nil
}

func (f *Fetcher) discover(ctx context.Context, issuerURL string) (*Config, error) {
	if f.httpClient != nil {
		ctx = oidc.ClientContext(ctx, f.httpClient)
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, errors.Wrapf(err, "[Fetcher.discover] discovery failed for %s", issuerURL)
	}
	cfg := &Config{provider: provider}
	if err := provider.Claims(cfg); err != nil {
		return nil, errors.Wrapf(err, "[Fetcher.discover] decoding metadata for %s", issuerURL)
	}

	f.mu.Lock()
	f.cache[issuerURL] = cachedConfig{config: cfg, fetchedAt: f.nowTime()}
	f.mu.Unlock()
	return cfg, nil
}
