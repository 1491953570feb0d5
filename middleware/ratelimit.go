package middleware

import (
	"net/http"
	"strconv"

	"github.com/MrEthical07/authcore"
)

// KeyFunc extracts the rate limit identity of a request.
type KeyFunc func(r *http.Request) string

// ByClientIP keys requests by remote address.
func ByClientIP(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// ByIdentity keys authenticated requests by user id and falls back to the
// client IP.
func ByIdentity(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return "user:" + id.UserID
	}
	return ByClientIP(r)
}

// RateLimit counts each request against class. Every enforced response
// carries X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset
// (unix seconds). Rejected requests get 429 and Retry-After and never
// reach next. When the counter store is down requests pass without
// headers.
func RateLimit(engine *authcore.Engine, class authcore.LimitClass, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ByClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			d := engine.CheckRateLimit(r.Context(), class, key(r))
			if d.Enforced {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}
			if !d.Allowed {
				retry := d.RetryAfter(engine.Now())
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
				writeError(w, &authcore.RateLimitError{Decision: d})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
