// Package authcore is a session and authorization core for HTTP services.
//
// It issues short-lived JWT access tokens carrying a snapshot of the
// caller's roles and permissions, and long-lived opaque refresh tokens that
// rotate on every use. Rotation is a single atomic compare-and-swap in the
// session store, so a refresh token can be redeemed once no matter how
// many processes race on it.
//
// Engine methods are safe for concurrent use after [Builder.Build]. All
// state shared between requests lives in the configured stores: a
// [UserStore] supplied by the application, a permission store, a refresh
// token store (Redis by default) and a key-value store used by the
// permission cache, the rate limiter and password reset tokens.
//
// # Failure behavior
//
// A permission store failure denies access: resolution yields an empty
// role and permission set and the result is never cached. A rate limiter
// store failure allows the request and is logged and counted.
//
// HTTP integration lives in the middleware package; [StatusCode] and
// [ErrorCode] map engine errors to responses.
package authcore
