package middleware

import (
	"fmt"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/permission"
)

// Require rejects requests whose identity does not satisfy req. It must be
// mounted behind Authenticate; a request without an identity is 401.
//
// Permission names are checked against the engine's declared catalog when
// the middleware is built, and an undeclared name panics so route tables
// fail at startup.
func Require(engine *authcore.Engine, req permission.Requirement) func(http.Handler) http.Handler {
	if engine == nil {
		panic("middleware: nil engine")
	}
	if err := engine.CheckRequirement(req); err != nil {
		panic(fmt.Sprintf("middleware: invalid requirement: %v", err))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, authcore.ErrUnauthenticated)
				return
			}
			if err := engine.Authorize(r.Context(), id, req); err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermissions is Require with a permission-only requirement.
func RequirePermissions(engine *authcore.Engine, mode permission.Mode, perms ...string) func(http.Handler) http.Handler {
	return Require(engine, permission.Requirement{Permissions: perms, PermissionMode: mode})
}

// RequireRoles is Require with a role-only requirement.
func RequireRoles(engine *authcore.Engine, mode permission.Mode, roles ...string) func(http.Handler) http.Handler {
	return Require(engine, permission.RolesOf(mode, roles...))
}

// RequireAdmin admits identities holding both the admin role and the
// admin:manage permission.
func RequireAdmin(engine *authcore.Engine) func(http.Handler) http.Handler {
	return Require(engine, permission.Requirement{
		Roles:       []string{authcore.AdminRole},
		Permissions: []string{authcore.AdminPermission},
	})
}
