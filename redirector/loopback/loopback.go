// Package loopback is the desktop redirector.Host: it opens the authorization URL in the
// system browser and receives redirects on a listener bound to 127.0.0.1 that lives while
// any launch is pending.
package loopback

import (
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/redirector"
)

const (
	DefaultPort    = 8765
	DefaultPath    = "/callback"
	DefaultTimeout = 10 * time.Minute
)

var (
	//go:embed templates/callback_success.html
	callbackSuccessHTML string
	//go:embed templates/callback_error.html
	callbackErrorHTML string

	successTemplate = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

type Host struct {
	port        int
	path        string
	timeout     time.Duration
	appName     string
	openBrowser func(url string) error

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	waiters  map[string]chan string // by state
	active   int
}

var _ redirector.Host = (*Host)(nil)

type Option func(*Host)

// WithPort binds the listener to port. Port 0 picks a free port on first use.
func WithPort(port int) Option {
	return func(h *Host) { h.port = port }
}

func WithPath(path string) Option {
	return func(h *Host) { h.path = path }
}

func WithTimeout(d time.Duration) Option {
	return func(h *Host) { h.timeout = d }
}

func WithAppName(name string) Option {
	return func(h *Host) { h.appName = name }
}

// WithBrowser replaces the system browser launcher.
func WithBrowser(open func(url string) error) Option {
	return func(h *Host) { h.openBrowser = open }
}

func New(opts ...Option) *Host {
	h := &Host{
		port:        DefaultPort,
		path:        DefaultPath,
		timeout:     DefaultTimeout,
		appName:     "the application",
		openBrowser: browser.OpenURL,
		waiters:     make(map[string]chan string),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CallbackURL binds the listener if needed, so that a random port is known before the
// authorization request is built.
func (h *Host) CallbackURL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.listen(); err != nil {
		log.Err(err).Int("port", h.port).Msg("binding callback listener")
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", h.port, h.path)
}

// listen must be called with h.mu held.
func (h *Host) listen() (net.Listener, error) {
	if h.listener != nil {
		return h.listener, nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", h.port))
	if err != nil {
		return nil, fmt.Errorf("failed to start callback listener on port %d: %w", h.port, err)
	}
	h.listener = ln
	h.port = ln.Addr().(*net.TCPAddr).Port
	return ln, nil
}

// register adds a waiter for state and starts the callback server for the first one.
func (h *Host) register(state string) (chan string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.waiters[state]; ok {
		return nil, fmt.Errorf("a login with state %q is already pending", state)
	}
	ln, err := h.listen()
	if err != nil {
		return nil, err
	}
	if h.server == nil {
		r := chi.NewRouter()
		r.Use(middleware.Recoverer, securityHeaders)
		r.Get(h.path, h.handleCallback)
		h.server = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func(srv *http.Server) {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.Err(err).Msg("callback listener stopped")
			}
		}(h.server)
	}
	ch := make(chan string, 1)
	h.waiters[state] = ch
	h.active++
	return ch, nil
}

// unregister drops the waiter. The last one out stops the server so the next flow rebinds.
func (h *Host) unregister(state string) {
	h.mu.Lock()
	delete(h.waiters, state)
	h.active--
	if h.active > 0 || h.server == nil {
		h.mu.Unlock()
		return
	}
	srv := h.server
	_ = h.listener.Close()
	h.server, h.listener = nil, nil
	h.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// take hands out the waiter for state once; later callbacks with the same state get nil.
func (h *Host) take(state string) chan string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.waiters[state]
	delete(h.waiters, state)
	return ch
}

func (h *Host) handleCallback(w http.ResponseWriter, req *http.Request) {
	ch := h.take(req.URL.Query().Get("state"))
	if ch == nil {
		http.Error(w, "No login is waiting for this callback", http.StatusBadRequest)
		return
	}
	h.renderResult(w, req)
	ch <- fmt.Sprintf("http://%s%s", req.Host, req.URL.RequestURI())
}

// LaunchAuthFlow opens the browser and waits for the callback carrying the state of
// details.URL. Overlapping flows share one listener; each gets only its own callback.
func (h *Host) LaunchAuthFlow(ctx context.Context, details redirector.FlowDetails) (string, error) {
	state, err := stateOf(details.URL)
	if err != nil {
		return "", err
	}
	resultCh, err := h.register(state)
	if err != nil {
		return "", err
	}
	defer h.unregister(state)

	if err := h.openBrowser(details.URL); err != nil {
		return "", fmt.Errorf("failed to open browser: %w", err)
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case u := <-resultCh:
		return u, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("no callback received within %s", h.timeout)
	}
}

func stateOf(authURL string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", fmt.Errorf("parsing authorization url: %w", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		return "", fmt.Errorf("authorization url has no state parameter")
	}
	return state, nil
}

func (h *Host) renderResult(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	data := map[string]string{"AppName": h.appName}
	tmpl := successTemplate
	if e := query.Get("error"); e != "" {
		tmpl = errorTemplate
		data["Error"] = e
		data["Description"] = query.Get("error_description")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
