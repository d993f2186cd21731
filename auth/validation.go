package auth

import (
	"net/url"

	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauth2"
)

// Validator holds the checks that must pass before a flow has any side effect.
type Validator struct{}

// NewValidator creates a new Validator instance
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) ValidateLoginOptions(opts LoginOptions) error {
	if opts.SessionID == "" {
		return MissingSessionIDErr
	}
	if opts.OidcIssuer == "" {
		return MissingIssuerErr
	}
	if u, err := url.Parse(opts.OidcIssuer); err != nil || !u.IsAbs() || u.Host == "" {
		return internalerrors.Wrapf(internalerrors.ErrInvalidRequest, "issuer %q is not an absolute url", opts.OidcIssuer)
	}
	switch opts.tokenType() {
	case oauth2.DPoPTokenType, oauth2.BearerTokenType:
	default:
		return internalerrors.Wrapf(internalerrors.ErrInvalidRequest, "unsupported token type %q", opts.TokenType)
	}
	return nil
}

// ValidateOidcOptions checks the issuer supports the flow and that a redirect URL exists.
func (v *Validator) ValidateOidcOptions(opts OidcOptions, redirectURL string) error {
	if opts.IssuerConfig == nil || !opts.IssuerConfig.SupportsGrant(oauth2.AuthorizationCodeGrant) {
		return UnsupportedGrantErr
	}
	if redirectURL == "" {
		return MissingRedirectURLErr
	}
	return nil
}

// CallbackParameters are the parameters of an authorization response.
type CallbackParameters struct {
	Code             string
	State            string
	Issuer           string
	Error            string
	ErrorDescription string
}

// ParseCallback reads an authorization response. It fails on identity provider errors and
// on responses without code or state. An identity provider error still returns the parsed
// parameters.
func (v *Validator) ParseCallback(rawURL string) (*CallbackParameters, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, internalerrors.Wrapf(internalerrors.ErrRedirectHandling, "malformed redirect url")
	}
	q := u.Query()
	p := &CallbackParameters{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Issuer:           q.Get("iss"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	if p.Error != "" {
		desc := oauth2.ErrorResponse{Error: p.Error, ErrorDescription: p.ErrorDescription}.Description()
		return p, internalerrors.Wrapf(internalerrors.ErrRedirectHandling, "identity provider returned %s", desc)
	}
	if p.Code == "" || p.State == "" {
		return nil, MissingCallbackArgErr
	}
	return p, nil
}
