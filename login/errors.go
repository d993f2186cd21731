package login

import (
	internalerrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

var (
	ErrInvalidRequest         = internalerrors.ErrInvalidRequest
	ErrHostFlowFailure        = internalerrors.ErrHostFlowFailure
	ErrRedirectHandling       = internalerrors.ErrRedirectHandling
	ErrUnexpectedLoginFailure = internalerrors.ErrUnexpectedLoginFailure
	ErrInvalidToken           = internalerrors.ErrInvalidToken
	ErrTokenExpired           = internalerrors.ErrTokenExpired
	ErrInvalidClient          = internalerrors.ErrInvalidClient
	ErrNotFound               = internalerrors.ErrNotFound
	ErrUnsupported            = internalerrors.ErrUnsupported
)
