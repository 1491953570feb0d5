package authcore

import (
	"context"
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/ids"
)

// Audit actions.
const (
	AuditLoginSuccess           = "login_success"
	AuditLoginFailure           = "login_failure"
	AuditLoginRateLimited       = "login_rate_limited"
	AuditLogout                 = "logout"
	AuditLogoutAll              = "logout_all"
	AuditTokenRefreshed         = "token_refreshed"
	AuditTokenRefreshRejected   = "token_refresh_rejected"
	AuditRoleAssigned           = "role_assigned"
	AuditRoleRemoved            = "role_removed"
	AuditPermissionsChanged     = "permissions_changed"
	AuditAccessDenied           = "access_denied"
	AuditAccountLocked          = "account_locked"
	AuditAccountUnlocked        = "account_unlocked"
	AuditPasswordChanged        = "password_changed"
	AuditPasswordResetRequested = "password_reset_requested"
	AuditPasswordReset          = "password_reset"
)

var auditEventTypes = map[string]string{
	AuditLoginSuccess:           AuditTypeAuthentication,
	AuditLoginFailure:           AuditTypeAuthentication,
	AuditLoginRateLimited:       AuditTypeAuthentication,
	AuditLogout:                 AuditTypeSession,
	AuditLogoutAll:              AuditTypeSession,
	AuditTokenRefreshed:         AuditTypeSession,
	AuditTokenRefreshRejected:   AuditTypeSession,
	AuditRoleAssigned:           AuditTypeAuthorization,
	AuditRoleRemoved:            AuditTypeAuthorization,
	AuditPermissionsChanged:     AuditTypeAuthorization,
	AuditAccessDenied:           AuditTypeAuthorization,
	AuditAccountLocked:          AuditTypeAccount,
	AuditAccountUnlocked:        AuditTypeAccount,
	AuditPasswordChanged:        AuditTypeAccount,
	AuditPasswordResetRequested: AuditTypeAccount,
	AuditPasswordReset:          AuditTypeAccount,
}

// auditRecord is what engine code knows about an event; emitAudit fills in
// identity, time and request metadata.
type auditRecord struct {
	action     string
	success    bool
	actorID    string
	targetType string
	targetID   string
	err        error
	severity   string
	metadata   func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, rec auditRecord) {
	if e == nil || e.audit == nil {
		return
	}

	now := e.clock.Now().UTC()
	entry := AuditEntry{
		ID:           ids.New(now),
		Timestamp:    now,
		EventType:    auditEventTypes[rec.action],
		Action:       rec.action,
		Severity:     rec.severity,
		ActorID:      rec.actorID,
		AdminActorID: actorIDFromContext(ctx),
		TargetType:   rec.targetType,
		TargetID:     rec.targetID,
		IP:           clientIPFromContext(ctx),
		UserAgent:    userAgentFromContext(ctx),
		Success:      rec.success,
	}
	if entry.Severity == "" {
		entry.Severity = defaultSeverity(rec)
	}
	if rec.metadata != nil {
		entry.Metadata = rec.metadata()
	}
	if rec.err != nil {
		entry.Error = auditErrorCode(rec.err)
	}

	// Entries outlive the request; its cancellation must not drop them.
	e.audit.Emit(context.WithoutCancel(ctx), entry)
}

func defaultSeverity(rec auditRecord) string {
	switch {
	case rec.action == AuditAccountLocked, errors.Is(rec.err, ErrTokenRevoked):
		return internalaudit.SeverityCritical
	case rec.success:
		return internalaudit.SeverityInfo
	default:
		return internalaudit.SeverityWarning
	}
}

// auditErrorCode is the audit-side classification. Unlike the wire code it
// keeps distinctions clients must not see, such as unknown users.
func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	default:
		return ErrorCode(err)
	}
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n uint64) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Add(id, n)
}

func (e *Engine) metricObserve(id MetricID, started time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(started))
}
