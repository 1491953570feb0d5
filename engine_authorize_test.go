package authcore_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/permission"
)

func TestInvestorEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.addUser(t, "investor@test.com")
	role := env.addRole(t, "investor", "portfolio:read")
	if err := env.engine.AssignRole(ctx, user.ID, role.ID, permissionOpts()); err != nil {
		t.Fatal(err)
	}

	res := env.login(t, "investor@test.com")
	id, err := env.engine.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	tests := []struct {
		name string
		req  permission.Requirement
		want error
	}{
		{"own permission", permission.AllOf("portfolio:read"), nil},
		{"any with one held", permission.AnyOf("portfolio:write", "portfolio:read"), nil},
		{"all with one missing", permission.AllOf("portfolio:read", "portfolio:write"), authcore.ErrInsufficientPermission},
		{"admin permission", permission.AnyOf("admin:manage"), authcore.ErrInsufficientPermission},
		{"admin role", permission.RolesOf(permission.ModeAll, "admin"), authcore.ErrInsufficientRole},
		{"empty requirement", permission.Requirement{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.engine.Authorize(ctx, id, tt.req)
			if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
				t.Fatalf("Authorize = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestInvestorClaimsCarryExactlyGrantedPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.addUser(t, "investor@test.com")
	role := env.addRole(t, "investor", "projects:read", "investments:create")
	if err := env.engine.AssignRole(ctx, user.ID, role.ID, permissionOpts()); err != nil {
		t.Fatal(err)
	}

	res := env.login(t, "investor@test.com")

	parts := strings.Split(res.AccessToken, ".")
	if len(parts) != 3 {
		t.Fatalf("expected three token segments, got %d", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var claims struct {
		Roles       []string `json:"roles"`
		Permissions []string `json:"permissions"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	want := []string{"investments:create", "projects:read"}
	if !slices.Equal(claims.Permissions, want) {
		t.Fatalf("permissions claim = %v, want exactly %v", claims.Permissions, want)
	}
	if !slices.Equal(claims.Roles, []string{"investor"}) {
		t.Fatalf("roles claim = %v", claims.Roles)
	}

	id, err := env.engine.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !slices.Equal(id.Permissions, want) {
		t.Fatalf("identity permissions = %v, want %v", id.Permissions, want)
	}

	err = env.engine.Authorize(ctx, id, permission.AllOf("projects:create"))
	if !errors.Is(err, authcore.ErrInsufficientPermission) || authcore.StatusCode(err) != 403 {
		t.Fatalf("projects:create: err = %v status = %d, want 403", err, authcore.StatusCode(err))
	}
	if err := env.engine.Authorize(ctx, id, permission.AllOf("projects:read")); err != nil {
		t.Fatalf("projects:read should be allowed: %v", err)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, "tokens@test.com")
	res := env.login(t, "tokens@test.com")

	if _, err := env.engine.Authenticate(ctx, ""); !errors.Is(err, authcore.ErrUnauthenticated) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, "abc.def"); !errors.Is(err, authcore.ErrTokenMalformed) {
		t.Fatalf("malformed: %v", err)
	}
	tampered := res.AccessToken[:len(res.AccessToken)-2] + "xx"
	if _, err := env.engine.Authenticate(ctx, tampered); !errors.Is(err, authcore.ErrTokenSignature) && !errors.Is(err, authcore.ErrTokenMalformed) {
		t.Fatalf("tampered: %v", err)
	}

	env.clock.Advance(15*time.Minute + time.Second)
	if _, err := env.engine.Authenticate(ctx, res.AccessToken); !errors.Is(err, authcore.ErrTokenExpired) {
		t.Fatalf("expired: %v", err)
	}
}

func TestFreshAuthorizationDeniesWhenStoreFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.addUser(t, "fresh@test.com")
	role := env.addRole(t, "investor", "portfolio:read")
	if err := env.engine.AssignRole(ctx, user.ID, role.ID, permissionOpts()); err != nil {
		t.Fatal(err)
	}
	res := env.login(t, "fresh@test.com")
	id, _ := env.engine.Authenticate(ctx, res.AccessToken)

	fresh := permission.AllOf("portfolio:read")
	fresh.Fresh = true

	// Drop the cached resolution so the next read reaches the store.
	if err := env.engine.RemoveRole(ctx, user.ID, role.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.engine.Authorize(ctx, id, fresh); !errors.Is(err, authcore.ErrInsufficientPermission) {
		t.Fatalf("removed role: expected denial, got %v", err)
	}
	if err := env.engine.Authorize(ctx, id, permission.AllOf("portfolio:read")); err != nil {
		t.Fatalf("snapshot should still allow until refresh: %v", err)
	}

	if err := env.engine.AssignRole(ctx, user.ID, role.ID, permissionOpts()); err != nil {
		t.Fatal(err)
	}
	env.perms.setFail(true)
	if err := env.engine.Authorize(ctx, id, fresh); !errors.Is(err, authcore.ErrInsufficientPermission) {
		t.Fatalf("store failure must deny, got %v", err)
	}
	if _, err := env.engine.ResolvePermissions(ctx, user.ID); !errors.Is(err, authcore.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	env.perms.setFail(false)
	if err := env.engine.Authorize(ctx, id, fresh); err != nil {
		t.Fatalf("recovered store should allow: %v", err)
	}
	if env.engine.MetricsSnapshot().Counters[authcore.MetricPermissionStoreDegraded] == 0 {
		t.Fatal("degraded resolution not counted")
	}
}

func TestSetRolePermissionsRejectsUndeclared(t *testing.T) {
	env := newTestEnv(t)
	ctx := authcore.WithActorID(context.Background(), "admin-1")
	role := env.addRole(t, "analyst", "portfolio:read")

	if err := env.engine.SetRolePermissions(ctx, role.ID, []string{"portfolio:read", "reports:export"}); err == nil {
		t.Fatal("undeclared permission should be rejected")
	}
	if err := env.engine.SetRolePermissions(ctx, role.ID, []string{"portfolio:read", "users:read"}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if err := env.engine.CheckRequirement(permission.AnyOf("reports:export")); err == nil {
		t.Fatal("CheckRequirement should reject undeclared permission")
	}
}

func TestLoginSurvivesPermissionStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "degraded@test.com")
	env.perms.setFail(true)

	res := env.login(t, "degraded@test.com")
	if len(res.User.Roles) != 0 || len(res.User.Permissions) != 0 {
		t.Fatalf("degraded login must carry no grants: %+v", res.User)
	}
	if len(env.logs.AllEntries()) == 0 {
		t.Fatal("degraded resolution should be logged")
	}
}

func TestAPIRateLimitFailsOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := env.engine.CheckRateLimit(ctx, authcore.LimitAPI, "203.0.113.9")
	if !d.Allowed || !d.Enforced || d.Limit != 300 || d.Remaining != 299 {
		t.Fatalf("unexpected decision %+v", d)
	}

	env.redis.Close()
	d = env.engine.CheckRateLimit(ctx, authcore.LimitAPI, "203.0.113.9")
	if !d.Allowed || d.Enforced {
		t.Fatalf("store failure must allow without enforcement: %+v", d)
	}
	if env.engine.MetricsSnapshot().Counters[authcore.MetricRateLimitFailOpen] != 1 {
		t.Fatal("fail open not counted")
	}
}
