package dpop

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RoundTripper attaches a DPoP proof to every request. When AccessToken returns a token
// the request is also authorized with "Authorization: DPoP <token>".
// Nonces handed out by servers are remembered per origin, and a request rejected with a
// nonce challenge is retried once with the new nonce.
type RoundTripper struct {
	Key         *KeyPair
	Base        http.RoundTripper
	AccessToken func() string

	mu     sync.Mutex
	nonces map[string]string
}

var _ http.RoundTripper = (*RoundTripper)(nil)

func NewRoundTripper(key *KeyPair, base http.RoundTripper) *RoundTripper {
	return &RoundTripper{Key: key, Base: base}
}

func (rt *RoundTripper) base() http.RoundTripper {
	if rt.Base != nil {
		return rt.Base
	}
	return http.DefaultTransport
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.send(req)
	if err != nil {
		return nil, err
	}
	if !isNonceChallenge(resp) {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	log.Debug().Str("origin", origin(req)).Msg("retrying request with server issued DPoP nonce")
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "[RoundTripper.RoundTrip] replaying request body")
		}
		retry.Body = body
	}
	return rt.send(retry)
}

func (rt *RoundTripper) send(req *http.Request) (*http.Response, error) {
	var token string
	if rt.AccessToken != nil {
		token = rt.AccessToken()
	}

	var opts []ProofOption
	if nonce := rt.nonce(origin(req)); nonce != "" {
		opts = append(opts, WithNonce(nonce))
	}
	proof, err := rt.Key.Proof(req.Method, req.URL.String(), token, opts...)
	if err != nil {
		return nil, err
	}

	out := req.Clone(req.Context())
	out.Header.Set(HeaderName, proof)
	if token != "" {
		out.Header.Set("Authorization", "DPoP "+token)
	}

	resp, err := rt.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if nonce := resp.Header.Get(NonceHeaderName); nonce != "" {
		rt.setNonce(origin(req), nonce)
	}
	return resp, nil
}

func (rt *RoundTripper) nonce(origin string) string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.nonces[origin]
}

func (rt *RoundTripper) setNonce(origin, nonce string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.nonces == nil {
		rt.nonces = make(map[string]string)
	}
	rt.nonces[origin] = nonce
}

// isNonceChallenge matches token endpoint (400 use_dpop_nonce) and resource server
// (401 with a DPoP WWW-Authenticate challenge) nonce demands.
func isNonceChallenge(resp *http.Response) bool {
	if resp.Header.Get(NonceHeaderName) == "" {
		return false
	}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return true
	case http.StatusUnauthorized:
		return strings.Contains(resp.Header.Get("WWW-Authenticate"), "use_dpop_nonce")
	default:
		return false
	}
}

func origin(req *http.Request) string {
	return req.URL.Scheme + "://" + req.URL.Host
}
