package authcore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
)

// Engine is the session and authorization core. It is safe for concurrent
// use; all cross-request state lives in the configured stores.
type Engine struct {
	config    Config
	users     UserStore
	perms     *permission.Service
	registry  *permission.Registry
	sessions  session.Store
	kv        kv.Store
	limiter   *rate.Limiter
	hasher    *password.Hasher
	dummyHash string
	tokens    *jwt.Manager
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	log       logrus.FieldLogger
	clock     Clock
	random    io.Reader
}

// Close drains pending audit entries.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit entries were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed returns how many audit entries the sink rejected.
func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failed()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// CookieName is the cookie transports fall back to when no bearer header
// is present.
func (e *Engine) CookieName() string {
	return e.config.Transport.CookieName
}

// Now returns the Engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// CheckRequirement validates the names in req against the permission
// catalog, if one was declared.
func (e *Engine) CheckRequirement(req permission.Requirement) error {
	return e.registry.Check(req.Permissions...)
}

/*
====================================
AUTHENTICATION
====================================
*/

// Authenticate verifies an access token and returns the caller's identity.
// Failures are ErrUnauthenticated, ErrTokenExpired, ErrTokenMalformed or
// ErrTokenSignature. No store is consulted.
func (e *Engine) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	started := time.Now()
	defer e.metricObserve(MetricAuthenticateLatency, started)

	token = strings.TrimSpace(token)
	if token == "" {
		e.metricInc(MetricAuthenticateFailure)
		return nil, ErrUnauthenticated
	}

	claims, err := e.tokens.Parse(token)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		switch {
		case errors.Is(err, jwt.ErrExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrBadSignature):
			return nil, ErrTokenSignature
		default:
			return nil, ErrTokenMalformed
		}
	}

	id := &Identity{
		UserID:      claims.UserID,
		Email:       claims.Email,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		TokenID:     claims.ID,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

/*
====================================
AUTHORIZATION
====================================
*/

// Authorize evaluates req against the identity's token snapshot. With
// req.Fresh the roles and permissions are re-resolved through the cached
// permission service instead; a store failure then denies. Returns nil,
// ErrInsufficientRole or ErrInsufficientPermission.
func (e *Engine) Authorize(ctx context.Context, id *Identity, req permission.Requirement) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if id == nil {
		return ErrUnauthenticated
	}

	roles := permission.NewSet(id.Roles...)
	perms := permission.NewSet(id.Permissions...)
	if req.Fresh {
		resolved, err := e.perms.Resolve(ctx, id.UserID)
		if err != nil {
			e.log.WithError(err).WithField("user_id", id.UserID).Warn("fresh authorization degraded to deny")
		}
		roles = resolved.RoleSet()
		perms = resolved.PermissionSet()
	}

	var denied error
	switch req.Evaluate(roles, perms) {
	case permission.Allowed:
		return nil
	case permission.DeniedRole:
		denied = ErrInsufficientRole
	default:
		denied = ErrInsufficientPermission
	}

	e.metricInc(MetricAccessDenied)
	e.emitAudit(ctx, auditRecord{
		action:     AuditAccessDenied,
		actorID:    id.UserID,
		targetType: "requirement",
		err:        denied,
		metadata: func() map[string]string {
			return map[string]string{
				"roles":           strings.Join(req.Roles, ","),
				"role_mode":       req.RoleMode.String(),
				"permissions":     strings.Join(req.Permissions, ","),
				"permission_mode": req.PermissionMode.String(),
				"fresh":           fmt.Sprint(req.Fresh),
			}
		},
	})
	return denied
}

/*
====================================
ROLES AND PERMISSIONS
====================================
*/

// ResolvePermissions returns the user's current roles and permissions. On
// store failure the result is empty and the error wraps ErrStoreUnavailable.
func (e *Engine) ResolvePermissions(ctx context.Context, userID string) (permission.Resolved, error) {
	resolved, err := e.perms.Resolve(ctx, userID)
	if err != nil {
		return resolved, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return resolved, nil
}

func (e *Engine) HasPermission(ctx context.Context, userID, perm string) bool {
	return e.perms.HasPermission(ctx, userID, perm)
}

// HasAnyPermission is true for an empty list.
func (e *Engine) HasAnyPermission(ctx context.Context, userID string, perms ...string) bool {
	return e.perms.HasAnyPermission(ctx, userID, perms...)
}

// HasAllPermissions is true for an empty list.
func (e *Engine) HasAllPermissions(ctx context.Context, userID string, perms ...string) bool {
	return e.perms.HasAllPermissions(ctx, userID, perms...)
}

// AssignRole grants roleID to userID. The acting administrator is read
// from WithActorID. The change reaches the user's access token on its next
// refresh.
func (e *Engine) AssignRole(ctx context.Context, userID, roleID string, opts permission.AssignOptions) error {
	if opts.AssignedBy == "" {
		opts.AssignedBy = actorIDFromContext(ctx)
	}
	err := e.perms.AssignRole(ctx, userID, roleID, opts)
	e.emitAudit(ctx, auditRecord{
		action:     AuditRoleAssigned,
		success:    err == nil,
		actorID:    opts.AssignedBy,
		targetType: "user",
		targetID:   userID,
		err:        err,
		metadata: func() map[string]string {
			m := map[string]string{"role_id": roleID}
			if opts.ExpiresAt != nil {
				m["expires_at"] = opts.ExpiresAt.UTC().Format(time.RFC3339)
			}
			return m
		},
	})
	if err != nil {
		return mapPermissionError(err)
	}
	e.metricInc(MetricRoleAssigned)
	return nil
}

func (e *Engine) RemoveRole(ctx context.Context, userID, roleID string) error {
	err := e.perms.RemoveRole(ctx, userID, roleID)
	e.emitAudit(ctx, auditRecord{
		action:     AuditRoleRemoved,
		success:    err == nil,
		actorID:    actorIDFromContext(ctx),
		targetType: "user",
		targetID:   userID,
		err:        err,
		metadata: func() map[string]string {
			return map[string]string{"role_id": roleID}
		},
	})
	if err != nil {
		return mapPermissionError(err)
	}
	e.metricInc(MetricRoleRemoved)
	return nil
}

// SetRolePermissions atomically replaces the permission set of roleID and
// invalidates every cached resolution.
func (e *Engine) SetRolePermissions(ctx context.Context, roleID string, perms []string) error {
	err := e.perms.ReplaceRolePermissions(ctx, roleID, perms)
	e.emitAudit(ctx, auditRecord{
		action:     AuditPermissionsChanged,
		success:    err == nil,
		actorID:    actorIDFromContext(ctx),
		targetType: "role",
		targetID:   roleID,
		err:        err,
		metadata: func() map[string]string {
			return map[string]string{"permissions": strings.Join(permission.NewSet(perms...).Sorted(), ",")}
		},
	})
	if err != nil {
		return mapPermissionError(err)
	}
	e.metricInc(MetricPermissionsChanged)
	return nil
}

func mapPermissionError(err error) error {
	if errors.Is(err, permission.ErrStoreUnavailable) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

/*
====================================
RATE LIMITING
====================================
*/

// CheckRateLimit counts one request for key in class. A store failure
// allows the request, is logged, and is counted as
// MetricRateLimitFailOpen.
func (e *Engine) CheckRateLimit(ctx context.Context, class LimitClass, key string) RateLimitDecision {
	now := e.clock.Now()
	policy := e.policy(class)
	if e.limiter == nil || policy.Limit <= 0 {
		return RateLimitDecision{Allowed: true, Limit: policy.Limit, ResetAt: now}
	}

	d, err := e.limiter.Check(ctx, class.String(), key, policy)
	out := RateLimitDecision{
		Allowed:   d.Allowed,
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt,
		Enforced:  err == nil,
	}
	if err != nil {
		e.metricInc(MetricRateLimitFailOpen)
		e.log.WithError(err).WithField("class", class.String()).Warn("rate limiter failing open")
		return out
	}
	if !out.Allowed {
		e.metricInc(MetricRateLimitHit)
	}
	return out
}

func (e *Engine) policy(class LimitClass) rate.Policy {
	if class == LimitAPI {
		return rate.Policy{Limit: e.config.RateLimit.APILimit, Window: e.config.RateLimit.APIWindow}
	}
	return rate.Policy{Limit: e.config.RateLimit.AuthLimit, Window: e.config.RateLimit.AuthWindow}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
