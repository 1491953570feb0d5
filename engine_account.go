package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// recordFailedLogin counts a password failure and locks the account once
// the configured threshold is reached. Store errors are logged; the login
// still fails with invalid credentials.
func (e *Engine) recordFailedLogin(ctx context.Context, user User) {
	count, err := e.users.IncrementFailedLogins(ctx, user.ID)
	if err != nil {
		e.log.WithError(err).WithField("user_id", user.ID).Warn("failed login counter update failed")
		return
	}
	lk := e.config.Lockout
	if !lk.Enabled || lk.MaxFailedAttempts <= 0 || count < lk.MaxFailedAttempts {
		return
	}

	until := e.clock.Now().Add(lk.Duration)
	if err := e.lock(ctx, user.ID, until, "failed_attempts", count); err != nil {
		e.log.WithError(err).WithField("user_id", user.ID).Error("automatic account lock failed")
	}
}

// LockAccount locks userID until the given time and revokes all of its
// refresh tokens. A zero until locks for the configured lockout duration.
func (e *Engine) LockAccount(ctx context.Context, userID string, until time.Time) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if until.IsZero() {
		until = e.clock.Now().Add(e.config.Lockout.Duration)
	}
	return e.lock(ctx, userID, until, "admin", 0)
}

func (e *Engine) lock(ctx context.Context, userID string, until time.Time, reason string, attempts int) error {
	if err := e.users.SetLockedUntil(ctx, userID, until); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// The lock now carries the penalty; a fresh count starts when it ends.
	if err := e.users.ResetFailedLogins(ctx, userID); err != nil {
		e.log.WithError(err).WithField("user_id", userID).Warn("failed login counter reset on lock failed")
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, userID, e.clock.Now())
	if err != nil {
		e.log.WithError(err).WithField("user_id", userID).Error("session revocation on lock failed")
	}

	e.metricInc(MetricAccountLocked)
	e.emitAudit(ctx, auditRecord{
		action:     AuditAccountLocked,
		success:    true,
		actorID:    actorIDFromContext(ctx),
		targetType: "user",
		targetID:   userID,
		metadata: func() map[string]string {
			m := map[string]string{
				"reason":  reason,
				"until":   until.UTC().Format(time.RFC3339),
				"revoked": strconv.Itoa(revoked),
			}
			if attempts > 0 {
				m["attempts"] = strconv.Itoa(attempts)
			}
			return m
		},
	})

	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}
	return nil
}

// UnlockAccount clears the lock and the failed login counter of userID.
func (e *Engine) UnlockAccount(ctx context.Context, userID string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if err := e.users.SetLockedUntil(ctx, userID, time.Time{}); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.users.ResetFailedLogins(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditRecord{
		action:     AuditAccountUnlocked,
		success:    true,
		actorID:    actorIDFromContext(ctx),
		targetType: "user",
		targetID:   userID,
	})
	return nil
}
