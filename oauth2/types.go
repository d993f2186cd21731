package oauth2

import "strings"

// ResponseType represents the OAuth 2.0 response type requested at the authorization endpoint.
type ResponseType string

const (
	// CodeResponseType requests an authorization code.
	// Used in: Authorization Code Flow (the only flow this client drives)
	// Example: /authorize?response_type=code&client_id=...
	CodeResponseType ResponseType = "code"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
type CodeMethodType string

const (
	// CodeMethodTypeS256 indicates SHA-256 hashing is used for the code challenge.
	// Client sends: code_challenge = BASE64URL(SHA256(code_verifier))
	// Client later proves possession by sending the raw code_verifier to the token endpoint.
	CodeMethodTypeS256 CodeMethodType = "S256"
)

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	// Token request includes: code, client_id, redirect_uri, code_verifier
	// Returns: access_token, id_token, refresh_token (if offline_access was granted)
	AuthorizationCodeGrant GrantType = "authorization_code"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	// Used in: keeping a session alive without user interaction
	// Returns: new access_token, id_token, and possibly a rotated refresh_token
	RefreshTokenGrant GrantType = "refresh_token"

	// ImplicitGrant is only listed because OIDC discovery defaults to it when an
	// issuer omits grant_types_supported. This client never uses it.
	ImplicitGrant GrantType = "implicit"
)

// DefaultGrantTypes is the value OpenID Connect Discovery 1.0 mandates when an issuer
// does not advertise grant_types_supported.
var DefaultGrantTypes = []GrantType{AuthorizationCodeGrant, ImplicitGrant}

// TokenType selects how the access token is bound to the requests it authorizes.
type TokenType string

const (
	// DPoPTokenType binds the access token to a key pair held by the client.
	// Every request carries a signed DPoP proof; a stolen token is useless without the key.
	// Header: "Authorization: DPoP <access_token>" plus "DPoP: <proof>"
	DPoPTokenType TokenType = "DPoP"

	// BearerTokenType is a plain bearer token.
	// Header: "Authorization: Bearer <access_token>"
	BearerTokenType TokenType = "Bearer"
)

// DefaultTokenType is used whenever a login does not ask for a specific token type.
const DefaultTokenType = DPoPTokenType

// ParseTokenType maps a case-insensitive name onto a TokenType, falling back to DPoP.
func ParseTokenType(s string) TokenType {
	if strings.EqualFold(s, string(BearerTokenType)) {
		return BearerTokenType
	}
	return DefaultTokenType
}

// Prompt is the OIDC prompt parameter sent with the authorization request.
type Prompt string

const (
	// PromptConsent asks the identity provider to show its consent screen.
	// Default for interactive logins.
	PromptConsent Prompt = "consent"

	// PromptNone asks for a silent login: the identity provider must not show any UI
	// and answers with error=login_required when the user has no session there.
	// Silent logins keep the previously stored state (e.g. a dynamically registered client).
	PromptNone Prompt = "none"

	// PromptLogin forces re-authentication at the identity provider.
	PromptLogin Prompt = "login"
)

// DefaultPrompt is applied when a login does not specify one.
const DefaultPrompt = PromptConsent

// Standard scopes requested by default.
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
	ScopeWebID         = "webid"
)

// DefaultScopes is requested when the caller supplies none.
var DefaultScopes = []string{ScopeOpenID, ScopeOfflineAccess, ScopeWebID}

// JoinScopes space-joins scopes, preserving their order and dropping empty entries and repeats.
func JoinScopes(scopes []string) string {
	seen := make(map[string]struct{}, len(scopes))
	result := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		result = append(result, s)
	}
	return strings.Join(result, " ")
}

// SplitScopes splits a space separated scope string, dropping empty entries.
func SplitScopes(scopes string) []string {
	return strings.Fields(scopes)
}
