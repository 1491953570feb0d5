package authcore

import "context"

// requestKey indexes the request metadata carried into audit entries.
type requestKey uint8

const (
	keyClientIP requestKey = iota
	keyUserAgent
	keyActorID
)

// WithClientIP attaches the caller's IP address to ctx for audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, keyClientIP, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit entries.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, keyUserAgent, userAgent)
}

// WithActorID attaches the id of the administrator performing an operation
// on another user's behalf. It is recorded as the admin actor of audit
// entries.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, keyActorID, actorID)
}

func requestValue(ctx context.Context, k requestKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(k).(string)
	return v
}

func clientIPFromContext(ctx context.Context) string  { return requestValue(ctx, keyClientIP) }
func userAgentFromContext(ctx context.Context) string { return requestValue(ctx, keyUserAgent) }
func actorIDFromContext(ctx context.Context) string   { return requestValue(ctx, keyActorID) }
