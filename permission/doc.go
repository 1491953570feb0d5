// Package permission resolves what a user may do.
//
// # Model
//
// Permissions are flat "resource:action" strings such as "projects:read".
// There is no wildcard or hierarchy: "projects:*" is not a permission and
// holding "projects:write" does not imply "projects:read". Roles group
// permissions; users hold roles through assignments that may expire.
//
// # Resolution
//
// [Service.Resolve] unions the permissions of every active, unexpired
// assignment of an active role. Results are cached in a [kv.Store] for a
// bounded TTL and invalidated explicitly when assignments or role
// permissions change. A store failure yields an empty result, so callers
// deny by default.
package permission
