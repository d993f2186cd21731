package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the login client
var (
	// Login flow errors
	ErrInvalidRequest         = errors.New("invalid request")
	ErrHostFlowFailure        = errors.New("host authentication flow failed")
	ErrRedirectHandling       = errors.New("redirect handling failed")
	ErrUnexpectedLoginFailure = errors.New("unexpected login failure")

	// Token errors
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Client errors
	ErrInvalidClient = errors.New("invalid client")

	// Storage errors
	ErrNotFound = errors.New("not found")

	// General errors
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
