package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session core
var (
	// Refresh errors
	ErrRefreshFailed       = errors.New("token refresh failed")
	ErrNoRefreshCredential = errors.New("no refresh credential available")

	// Identity errors
	ErrInvalidIDToken = errors.New("invalid id token")
	ErrNotSignedIn    = errors.New("not signed in")

	// Credential store errors
	ErrInvalidKey = errors.New("invalid sealing key")
	ErrSealed     = errors.New("sealed value could not be opened")
	ErrStorage    = errors.New("credential storage failure")

	// General errors
	ErrInvalidConfig = errors.New("invalid configuration")
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
