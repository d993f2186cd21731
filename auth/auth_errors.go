package auth

import (
	"fmt"

	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

var (
	MissingIssuerErr      = fmt.Errorf("%w: an oidc issuer is required", internalerrors.ErrInvalidRequest)
	MissingSessionIDErr   = fmt.Errorf("%w: a session id is required", internalerrors.ErrInvalidRequest)
	UnsupportedGrantErr   = fmt.Errorf("%w: the issuer does not support the authorization code grant", internalerrors.ErrInvalidRequest)
	MissingRedirectURLErr = fmt.Errorf("%w: no redirect url could be resolved", internalerrors.ErrInvalidRequest)
	MissingCallbackArgErr = fmt.Errorf("%w: the redirect url is missing the code or state parameter", internalerrors.ErrRedirectHandling)
	IssuerMismatchErr     = fmt.Errorf("%w: the redirect came from a different issuer than the flow was started with", internalerrors.ErrRedirectHandling)
)
