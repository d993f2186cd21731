// Package idpfake is an in-process OpenID provider for tests. It serves discovery, JWKS,
// authorization (through Authorize, which plays the user's browser), token, dynamic
// registration and a protected resource that echoes the credentials it received.
package idpfake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jrsteele09/go-auth-client/oauth2"
)

const keyID = "idpfake-key"

type codeGrant struct {
	clientID    string
	redirectURI string
	challenge   string
	scope       string
}

type Server struct {
	*httptest.Server

	key *rsa.PrivateKey

	mu               sync.Mutex
	subject          string
	webID            string
	grantTypes       []string
	noRegistration   bool
	expiresIn        int
	refreshFails     bool
	denyWith         string
	requiredNonce    string
	codes            map[string]codeGrant
	refreshTokens    map[string]string
	authRequests     []url.Values
	tokenRequests    []url.Values
	proofs           []jwt.MapClaims
	registrations    []map[string]any
	resourceRequests []http.Header
}

type Option func(*Server)

func WithSubject(sub string) Option {
	return func(s *Server) { s.subject = sub }
}

// WithWebID adds a webid claim to issued ID tokens.
func WithWebID(webID string) Option {
	return func(s *Server) { s.webID = webID }
}

func WithGrantTypes(grants ...string) Option {
	return func(s *Server) { s.grantTypes = grants }
}

func WithoutRegistration() Option {
	return func(s *Server) { s.noRegistration = true }
}

func WithExpiresIn(seconds int) Option {
	return func(s *Server) { s.expiresIn = seconds }
}

// WithDPoPNonce makes the token endpoint demand proofs carrying nonce.
func WithDPoPNonce(nonce string) Option {
	return func(s *Server) { s.requiredNonce = nonce }
}

func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating idp key: %v", err)
	}
	s := &Server{
		key:           key,
		subject:       "user-1",
		grantTypes:    []string{"authorization_code", "refresh_token"},
		expiresIn:     300,
		codes:         make(map[string]codeGrant),
		refreshTokens: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.discovery)
	mux.HandleFunc("/jwks", s.jwks)
	mux.HandleFunc("/token", s.token)
	mux.HandleFunc("/register", s.register)
	mux.HandleFunc("/resource", s.resource)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Issuer() string {
	return s.URL
}

func (s *Server) TokenEndpoint() string {
	return s.URL + "/token"
}

func (s *Server) ResourceURL() string {
	return s.URL + "/resource"
}

// SetRefreshFails makes every refresh_token grant fail with invalid_grant.
func (s *Server) SetRefreshFails(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFails = fail
}

// Deny makes Authorize answer with the given OAuth error instead of a code.
func (s *Server) Deny(oauthErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyWith = oauthErr
}

func (s *Server) AuthRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.authRequests...)
}

func (s *Server) TokenRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.tokenRequests...)
}

// Proofs are the verified DPoP proof claims the token endpoint accepted.
func (s *Server) Proofs() []jwt.MapClaims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jwt.MapClaims(nil), s.proofs...)
}

func (s *Server) Registrations() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.registrations...)
}

func (s *Server) ResourceRequests() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.resourceRequests...)
}

// Authorize plays the user agent: it accepts the authorization URL and returns the URL the
// provider would redirect back to.
func (s *Server) Authorize(authURL string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		return "", fmt.Errorf("authorization request has no redirect_uri")
	}
	back, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.authRequests = append(s.authRequests, q)

	result := back.Query()
	result.Set("state", q.Get("state"))
	result.Set("iss", s.URL)
	switch {
	case s.denyWith != "":
		result.Set("error", s.denyWith)
		result.Set("error_description", "the user declined")
	case q.Get("code_challenge_method") != string(oauth2.CodeMethodTypeS256):
		result.Set("error", "invalid_request")
		result.Set("error_description", "PKCE with S256 is required")
	default:
		code := uuid.NewString()
		s.codes[code] = codeGrant{
			clientID:    q.Get("client_id"),
			redirectURI: redirectURI,
			challenge:   q.Get("code_challenge"),
			scope:       q.Get("scope"),
		}
		result.Set("code", code)
	}
	back.RawQuery = result.Encode()
	return back.String(), nil
}

func (s *Server) discovery(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := map[string]any{
		"issuer":                                s.URL,
		"authorization_endpoint":                s.URL + "/authorize",
		"token_endpoint":                        s.URL + "/token",
		"jwks_uri":                              s.URL + "/jwks",
		"end_session_endpoint":                  s.URL + "/logout",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      []string{"openid", "offline_access", "webid"},
		"grant_types_supported":                 s.grantTypes,
		"dpop_signing_alg_values_supported":     []string{"ES256"},
	}
	if !s.noRegistration {
		doc["registration_endpoint"] = s.URL + "/register"
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) jwks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.key.PublicKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client_metadata"})
		return
	}
	s.mu.Lock()
	s.registrations = append(s.registrations, body)
	n := len(s.registrations)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":     fmt.Sprintf("dynamic-client-%d", n),
		"client_secret": fmt.Sprintf("dynamic-secret-%d", n),
		"client_name":   body["client_name"],
	})
}

func (s *Server) resource(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.resourceRequests = append(s.resourceRequests, r.Header.Clone())
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{
		"authorization": r.Header.Get("Authorization"),
		"dpop":          r.Header.Get("DPoP"),
	})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	form := r.PostForm
	clientID := form.Get("client_id")
	if id, _, ok := r.BasicAuth(); ok {
		clientID, _ = url.QueryUnescape(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenRequests = append(s.tokenRequests, form)

	dpopBound := false
	if proof := r.Header.Get("DPoP"); proof != "" {
		claims, err := s.verifyProof(proof, r.Method, s.URL+"/token")
		if err != nil {
			oauthError(w, http.StatusBadRequest, "invalid_dpop_proof")
			return
		}
		if s.requiredNonce != "" && claims["nonce"] != s.requiredNonce {
			w.Header().Set("DPoP-Nonce", s.requiredNonce)
			oauthError(w, http.StatusBadRequest, "use_dpop_nonce")
			return
		}
		s.proofs = append(s.proofs, claims)
		dpopBound = true
	}

	switch form.Get("grant_type") {
	case "authorization_code":
		grant, ok := s.codes[form.Get("code")]
		if !ok {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		delete(s.codes, form.Get("code"))
		if grant.redirectURI != form.Get("redirect_uri") || grant.clientID != clientID {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		sum := sha256.Sum256([]byte(form.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != grant.challenge {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		s.issueTokens(w, clientID, dpopBound)
	case "refresh_token":
		if s.refreshFails {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		owner, ok := s.refreshTokens[form.Get("refresh_token")]
		if !ok || owner != clientID {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		delete(s.refreshTokens, form.Get("refresh_token"))
		s.issueTokens(w, clientID, dpopBound)
	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

// issueTokens must be called with s.mu held.
func (s *Server) issueTokens(w http.ResponseWriter, clientID string, dpopBound bool) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": s.URL,
		"sub": s.subject,
		"aud": clientID,
		"azp": clientID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if s.webID != "" {
		claims["webid"] = s.webID
	}
	idToken := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	idToken.Header["kid"] = keyID
	signed, err := idToken.SignedString(s.key)
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error")
		return
	}

	refresh := uuid.NewString()
	s.refreshTokens[refresh] = clientID
	tokenType := oauth2.BearerTokenType
	if dpopBound {
		tokenType = oauth2.DPoPTokenType
	}
	writeJSON(w, http.StatusOK, oauth2.TokenResponse{
		AccessToken:  uuid.NewString(),
		IDToken:      signed,
		RefreshToken: refresh,
		TokenType:    string(tokenType),
		ExpiresIn:    s.expiresIn,
		Scope:        "openid offline_access webid",
	})
}

func (s *Server) verifyProof(proof, method, htu string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(proof, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Header["typ"] != "dpop+jwt" {
			return nil, fmt.Errorf("unexpected typ %v", t.Header["typ"])
		}
		raw, err := json.Marshal(t.Header["jwk"])
		if err != nil {
			return nil, err
		}
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		if !jwk.IsPublic() {
			return nil, fmt.Errorf("proof carries a private key")
		}
		return jwk.Key, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		return nil, err
	}
	if claims["htm"] != method || claims["htu"] != htu || claims["jti"] == nil {
		return nil, fmt.Errorf("proof does not match request")
	}
	return claims, nil
}

func oauthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, oauth2.ErrorResponse{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
