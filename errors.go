package authkit

import (
	"errors"
	"fmt"

	"github.com/panyam/authkit/internal/errdefs"
)

// ErrorCode is a stable, machine readable error code.
type ErrorCode string

// Adapter error codes.
const (
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeDuplicateUser        ErrorCode = "DUPLICATE_USER"
	ErrCodeDuplicateEmail       ErrorCode = "DUPLICATE_EMAIL"
	ErrCodeAccountAlreadyLinked ErrorCode = "ACCOUNT_ALREADY_LINKED"
)

// Error codes carried in the error query parameter of sign-in redirects.
const (
	ErrorCredentialsSignin     = "CredentialsSignin"
	ErrorAccessDenied          = "AccessDenied"
	ErrorOAuthCallback         = "OAuthCallbackError"
	ErrorOAuthAccountNotLinked = "OAuthAccountNotLinked"
	ErrorVerification          = "Verification"
	ErrorConfiguration         = "Configuration"
)

// AdapterError is returned by persistence adapters.
type AdapterError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NewAdapterError creates an AdapterError with a formatted message.
func NewAdapterError(code ErrorCode, format string, args ...any) *AdapterError {
	return &AdapterError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HasCode reports whether err wraps an *AdapterError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Code == code
}

// IsNotFound reports whether err is a NOT_FOUND adapter error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// ConfigurationError reports a setup problem: a missing secret, an adapter
// without a required extension, an unlinked password algorithm.
type ConfigurationError = errdefs.ConfigurationError

func configError(dependency, format string, args ...any) error {
	return &ConfigurationError{Dependency: dependency, Message: fmt.Sprintf(format, args...)}
}
