// Package middleware adapts an authcore.Engine to net/http.
//
//   - [Authenticate] verifies the access token and stores the caller's
//     identity in the request context. Failures are 401.
//   - [Require], [RequirePermissions] and [RequireRoles] check an
//     authenticated identity against a route requirement. Failures are 403.
//   - [RateLimit] applies a fixed window budget and sets the
//     X-RateLimit-* headers. Exhausted budgets are 429 with Retry-After.
//
// Errors are written as {"error": "<code>"} using authcore.ErrorCode.
// Decisions are made by the Engine; this package only translates HTTP.
package middleware
