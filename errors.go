package authcore

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore/permission"
)

var (
	// ErrInvalidCredentials is returned for any failed password check. It
	// never reveals whether the email exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while an account's lock is in effect.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnverified is returned at login when verification is required.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrUserNotFound is returned by UserStore implementations.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnauthenticated is returned when no credential was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTokenExpired is returned for access or refresh tokens at or past
	// their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned for access tokens that do not parse.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenSignature is returned for access tokens with a bad signature.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrTokenRevoked is returned for refresh tokens that were already
	// rotated or revoked.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenNotFound is returned for refresh tokens with no server record.
	ErrTokenNotFound = errors.New("token not found")

	ErrInsufficientRole       = errors.New("insufficient role")
	ErrInsufficientPermission = errors.New("insufficient permission")

	// ErrStoreUnavailable wraps failures of a backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrRateLimited is returned when a fixed window budget is spent. The
	// concrete error is a *RateLimitError.
	ErrRateLimited = errors.New("rate limited")

	ErrPasswordPolicy = errors.New("password policy violation")
	ErrPasswordReuse  = errors.New("new password must be different from current password")
	// ErrSessionInvalidationFailed is returned when a credential change was
	// persisted but revoking existing refresh tokens failed.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	ErrResetTokenInvalid         = errors.New("password reset token invalid")
	ErrPasswordResetDisabled     = errors.New("password reset disabled")

	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError carries the decision behind an ErrRateLimited rejection.
type RateLimitError struct {
	Decision RateLimitDecision
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// StatusCode maps err to the HTTP status a transport should return.
// Credential and token failures are 401, unmet requirements are 403 and
// unclassified errors are 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenSignature),
		errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrTokenNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInsufficientRole),
		errors.Is(err, ErrInsufficientPermission),
		errors.Is(err, ErrAccountUnverified):
		return http.StatusForbidden
	case errors.Is(err, ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrPasswordReuse),
		errors.Is(err, ErrResetTokenInvalid),
		errors.Is(err, permission.ErrInvalidName),
		errors.Is(err, permission.ErrUnknownPermission),
		errors.Is(err, permission.ErrRoleInactive):
		return http.StatusBadRequest
	case errors.Is(err, permission.ErrRoleNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPasswordResetDisabled):
		return http.StatusNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode maps err to the stable wire code exposed to clients. Internal
// detail never crosses this boundary; ErrUserNotFound reports as
// invalid_credentials.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserNotFound):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountUnverified):
		return "account_unverified"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, ErrTokenSignature):
		return "token_signature"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, ErrInsufficientRole):
		return "insufficient_role"
	case errors.Is(err, ErrInsufficientPermission):
		return "insufficient_permission"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrPasswordPolicy):
		return "password_policy"
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse"
	case errors.Is(err, ErrResetTokenInvalid):
		return "reset_token_invalid"
	case errors.Is(err, ErrPasswordResetDisabled):
		return "not_found"
	case errors.Is(err, permission.ErrInvalidName), errors.Is(err, permission.ErrUnknownPermission):
		return "invalid_permission"
	case errors.Is(err, permission.ErrRoleNotFound):
		return "role_not_found"
	case errors.Is(err, permission.ErrRoleInactive):
		return "role_inactive"
	case errors.Is(err, ErrSessionInvalidationFailed):
		return "session_invalidation_failed"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal_error"
	}
}
