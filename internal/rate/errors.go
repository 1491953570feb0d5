package rate

import "errors"

var (
	// ErrRateLimited is returned by callers translating a denied Decision.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps counter store failures.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
