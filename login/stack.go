package login

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/clients"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/issuer"
	"github.com/jrsteele09/go-auth-client/redirector"
	"github.com/jrsteele09/go-auth-client/redirector/loopback"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/jrsteele09/go-auth-client/storage/bbolt"
	"github.com/jrsteele09/go-auth-client/storage/enclave"
	"github.com/jrsteele09/go-auth-client/storage/memory"
	"github.com/jrsteele09/go-auth-client/storage/redis"
	"github.com/jrsteele09/go-auth-client/storage/sealed"
	"github.com/jrsteele09/go-auth-client/token"
)

const (
	dbFileName        = "login.db"
	redisPrefix       = "oidc-login:"
	redisSecurePrefix = "oidc-login:secure:"
)

type stackOptions struct {
	host        redirector.Host
	httpClient  *http.Client
	storage     *storage.Utility
	sessionInfo *sessions.Info
}

type StackOption func(*stackOptions)

// WithHost replaces the loopback host, e.g. with a host backed by an embedded browser.
func WithHost(h redirector.Host) StackOption {
	return func(o *stackOptions) { o.host = h }
}

func WithHTTPClient(c *http.Client) StackOption {
	return func(o *stackOptions) { o.httpClient = c }
}

// WithStorage replaces the configured storage backend.
func WithStorage(u *storage.Utility) StackOption {
	return func(o *stackOptions) { o.storage = u }
}

// WithSessionInfo resumes a known session id.
func WithSessionInfo(info sessions.Info) StackOption {
	return func(o *stackOptions) { o.sessionInfo = &info }
}

// New builds a Session on the default stack: storage from the configured backend, the
// loopback host, cached issuer discovery, the client registrar, and the token exchanger and
// refresher. A nil cfg reads the environment.
func New(cfg config.Config, opts ...StackOption) (*Session, error) {
	if cfg == nil {
		cfg = config.New()
	}
	o := stackOptions{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}

	var closers []func() error
	if o.storage == nil {
		u, closer, err := NewStorage(cfg)
		if err != nil {
			return nil, err
		}
		o.storage = u
		if closer != nil {
			closers = append(closers, closer)
		}
	}
	if o.host == nil {
		o.host = loopback.New(
			loopback.WithPort(cfg.GetCallbackPort()),
			loopback.WithPath(cfg.GetCallbackPath()),
			loopback.WithTimeout(cfg.GetLoginTimeout()),
			loopback.WithAppName(cfg.GetAppName()),
		)
	}

	infoManager := sessions.NewInfoManager(o.storage)
	issuers := issuer.NewFetcher(issuer.WithTTL(cfg.GetIssuerCacheTTL()), issuer.WithHTTPClient(o.httpClient))
	registrar := clients.NewRegistrar(o.storage, clients.WithHTTPClient(o.httpClient))
	redirectHandler, err := auth.NewRedirectHandler(auth.RedirectHandlerDeps{
		Sessions:  infoManager,
		Issuers:   issuers,
		Clients:   registrar,
		Exchanger: token.NewExchanger(token.WithHTTPClient(o.httpClient)),
		Refresher: token.NewRefresher(token.WithHTTPClient(o.httpClient)),
	}, auth.WithHTTPClient(o.httpClient), auth.WithRefreshMargin(cfg.GetRefreshMargin()))
	if err != nil {
		return nil, errors.Wrap(err, "[login.New] creating redirect handler")
	}
	flow := auth.NewWebAuthFlowHandler(redirector.New(o.host), infoManager, redirectHandler)
	clientAuth, err := auth.NewClientAuthentication(
		auth.NewOidcLoginHandler(issuers, registrar, flow),
		auth.NewLogoutHandler(infoManager),
		infoManager,
		auth.WithUnauthenticatedClient(o.httpClient),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[login.New] creating client authentication")
	}

	s := newSession(Options{ClientAuthentication: clientAuth, SessionInfo: o.sessionInfo})
	s.closers = append(closers, func() error {
		clientAuth.Close()
		return nil
	})
	return s, nil
}

// NewStorage opens the configured backend. Secrets never reach a backend in plaintext:
// memory and bbolt keep them in memguard enclaves, redis gets them sealed with a
// per-process key. The returned closer is nil when there is nothing to release.
func NewStorage(cfg config.StorageConfig) (*storage.Utility, func() error, error) {
	switch cfg.GetStorageBackend() {
	case config.StorageBackendBBolt:
		path := filepath.Join(cfg.GetDataFolder(), dbFileName)
		store, err := bbolt.NewStoreFromFile(path, nil)
		if err != nil {
			return nil, nil, errors.Wrap(err, "[login.NewStorage] opening bbolt store")
		}
		log.Debug().Str("path", path).Msg("using bbolt session storage")
		return storage.NewUtility(enclave.New(), store), store.Close, nil
	case config.StorageBackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(err, "[login.NewStorage] connecting to redis")
		}
		log.Debug().Str("addr", cfg.GetRedisAddr()).Msg("using redis session storage")
		secure := sealed.New(redis.NewStore(client, redisSecurePrefix, 0))
		return storage.NewUtility(secure, redis.NewStore(client, redisPrefix, 0)), client.Close, nil
	default:
		return storage.NewUtility(enclave.New(), memory.New()), nil, nil
	}
}
