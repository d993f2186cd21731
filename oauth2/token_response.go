package oauth2

// TokenResponse represents the response from an OAuth2 token request.
// This is the standard OAuth2 token endpoint response format as defined in RFC 6749,
// extended with the OpenID Connect id_token.
type TokenResponse struct {
	// AccessToken authorizes requests to resource servers.
	// Usage: "Authorization: Bearer <access_token>" or "Authorization: DPoP <access_token>"
	AccessToken string `json:"access_token"`

	// IDToken is the OpenID Connect ID token carrying the user's identity claims.
	// Only present: When "openid" scope was requested
	IDToken string `json:"id_token,omitempty"`

	// TokenType is "Bearer" or "DPoP" depending on how the token is bound.
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token.
	// Note: This is a hint - the client schedules refresh from it
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is used to obtain new access tokens without user interaction.
	// Only present: When "offline_access" was granted
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope indicates the access token's granted permissions (space-separated).
	Scope string `json:"scope,omitempty"`
}

// ErrorResponse is the body an authorization server returns when a token or
// registration request fails (RFC 6749 section 5.2).
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// Description renders the error code and description for logs and wrapped errors.
func (e ErrorResponse) Description() string {
	switch {
	case e.Error == "":
		return ""
	case e.ErrorDescription == "":
		return e.Error
	default:
		return e.Error + ": " + e.ErrorDescription
	}
}
