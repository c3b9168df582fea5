package fedauth

import (
	"errors"
	"net/http"
)

// Errors returned by the core. Callers match them with errors.Is.
var (
	ErrDuplicateUsername         = errors.New("username already registered")
	ErrLoginFailed               = errors.New("login failed")
	ErrNoSuchUser                = loginError("no such user")
	ErrInvalidCredential         = loginError("invalid credential")
	ErrProviderUnreachable       = errors.New("identity provider unreachable")
	ErrProviderRejected          = errors.New("identity provider rejected the request")
	ErrProviderProfileIncomplete = errors.New("identity provider returned no stable id")
	ErrSessionExpiredOrInvalid   = errors.New("session expired or invalid")
	ErrStoreUnavailable          = errors.New("store unavailable")

	ErrUserNotFound          = errors.New("user not found")
	ErrUnknownProvider       = errors.New("unknown provider")
	ErrWeakPassword          = errors.New("password does not meet policy")
	ErrInvalidUsername       = errors.New("username does not meet policy")
	ErrExternalIDTaken       = errors.New("external account is linked to another user")
	ErrProviderAlreadyLinked = errors.New("user already linked to a different account on this provider")
	ErrCredentialExists      = errors.New("user already has a local credential")
)

// loginError builds an error that also matches ErrLoginFailed so handlers
// can treat both login failure modes as one.
func loginError(msg string) error {
	return &collapsedError{msg: msg}
}

type collapsedError struct{ msg string }

func (e *collapsedError) Error() string        { return e.msg }
func (e *collapsedError) Is(target error) bool { return target == ErrLoginFailed }

// Error codes for structured error responses
const (
	ErrCodeInvalidCreds        = "invalid_credentials"
	ErrCodeUsernameTaken       = "username_taken"
	ErrCodeInvalidUsername     = "invalid_username"
	ErrCodeWeakPassword        = "weak_password"
	ErrCodeMissingField        = "missing_field"
	ErrCodeProviderUnreachable = "provider_unreachable"
	ErrCodeProviderRejected    = "provider_rejected"
	ErrCodeProfileIncomplete   = "profile_incomplete"
	ErrCodeUnknownProvider     = "unknown_provider"
	ErrCodeSessionInvalid      = "session_invalid"
	ErrCodeAccountLinked       = "account_linked_elsewhere"
	ErrCodeAlreadyLinked       = "provider_already_linked"
	ErrCodeCredentialExists    = "credential_exists"
	ErrCodeUnavailable         = "unavailable"
	ErrCodeInternal            = "internal_error"
)

// AuthError is the user visible form of an auth failure.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *AuthError) Error() string {
	return e.Message
}

func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field}
}

// ToAuthError maps an error from the core to its user visible form.
// NoSuchUser and InvalidCredential deliberately share one code and message.
func ToAuthError(err error) *AuthError {
	var authErr *AuthError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &authErr):
		return authErr
	case errors.Is(err, ErrLoginFailed):
		return NewAuthError(ErrCodeInvalidCreds, "Invalid username or password", "password")
	case errors.Is(err, ErrDuplicateUsername):
		return NewAuthError(ErrCodeUsernameTaken, "Username is already taken", "username")
	case errors.Is(err, ErrInvalidUsername):
		return NewAuthError(ErrCodeInvalidUsername, err.Error(), "username")
	case errors.Is(err, ErrWeakPassword):
		return NewAuthError(ErrCodeWeakPassword, err.Error(), "password")
	case errors.Is(err, ErrProviderUnreachable):
		return NewAuthError(ErrCodeProviderUnreachable, "Could not reach the identity provider", "")
	case errors.Is(err, ErrProviderRejected):
		return NewAuthError(ErrCodeProviderRejected, "Sign in was not completed", "")
	case errors.Is(err, ErrProviderProfileIncomplete):
		return NewAuthError(ErrCodeProfileIncomplete, "The identity provider did not return an account id", "")
	case errors.Is(err, ErrUnknownProvider):
		return NewAuthError(ErrCodeUnknownProvider, "Unknown identity provider", "")
	case errors.Is(err, ErrSessionExpiredOrInvalid):
		return NewAuthError(ErrCodeSessionInvalid, "Please sign in again", "")
	case errors.Is(err, ErrExternalIDTaken):
		return NewAuthError(ErrCodeAccountLinked, "That account is already linked to another user", "")
	case errors.Is(err, ErrProviderAlreadyLinked):
		return NewAuthError(ErrCodeAlreadyLinked, "A different account on this provider is already linked", "")
	case errors.Is(err, ErrCredentialExists):
		return NewAuthError(ErrCodeCredentialExists, "A password is already set for this account", "")
	case errors.Is(err, ErrStoreUnavailable):
		return NewAuthError(ErrCodeUnavailable, "Service temporarily unavailable", "")
	}
	return NewAuthError(ErrCodeInternal, "Internal error", "")
}

// StatusCode returns the HTTP status that best describes the error code.
func (e *AuthError) StatusCode() int {
	switch e.Code {
	case ErrCodeInvalidCreds, ErrCodeSessionInvalid:
		return http.StatusUnauthorized
	case ErrCodeUsernameTaken, ErrCodeAccountLinked, ErrCodeAlreadyLinked, ErrCodeCredentialExists:
		return http.StatusConflict
	case ErrCodeProviderUnreachable:
		return http.StatusBadGateway
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeInternal:
		return http.StatusInternalServerError
	case ErrCodeUnknownProvider:
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
