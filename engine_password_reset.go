package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/kv"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
)

const resetKeyPrefix = "reset:"

// ChangePassword replaces the password of userID after verifying the
// current one, then revokes every refresh token of the user. The new
// password must satisfy the length policy and differ from the old one.
//
// If revocation fails after the hash was stored the password change stands
// and ErrSessionInvalidationFailed is returned so the caller can retry
// LogoutAll.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if e == nil || e.hasher == nil {
		return ErrEngineNotReady
	}

	fail := func(reason string, err error) error {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditRecord{
			action:     AuditPasswordChanged,
			actorID:    userID,
			targetType: "user",
			targetID:   userID,
			err:        err,
			metadata: func() map[string]string {
				return map[string]string{"reason": reason}
			},
		})
		return err
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return fail("user_not_found", ErrInvalidCredentials)
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !e.hasher.Verify(oldPassword, user.PasswordHash) {
		return fail("old_password_mismatch", ErrInvalidCredentials)
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return fail("policy", err)
	}
	if newPassword == oldPassword || e.hasher.Verify(newPassword, user.PasswordHash) {
		return fail("reuse", ErrPasswordReuse)
	}

	if err := e.storeNewPassword(ctx, userID, newPassword); err != nil {
		return fail("update", err)
	}
	if err := e.invalidateAfterPasswordChange(ctx, userID); err != nil {
		return fail("session_invalidation", err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditRecord{
		action:     AuditPasswordChanged,
		success:    true,
		actorID:    userID,
		targetType: "user",
		targetID:   userID,
	})
	return nil
}

// ResetPassword sets a new password for userID without the old one. It is
// an administrative operation; the acting administrator is taken from
// WithActorID. Failed login counters are cleared and every session is
// revoked.
func (e *Engine) ResetPassword(ctx context.Context, userID, newPassword string) error {
	if e == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}
	if _, err := e.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.storeNewPassword(ctx, userID, newPassword); err != nil {
		return err
	}
	if err := e.users.ResetFailedLogins(ctx, userID); err != nil {
		e.log.WithError(err).WithField("user_id", userID).Warn("failed login counter reset failed")
	}
	if err := e.invalidateAfterPasswordChange(ctx, userID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditRecord{
		action:     AuditPasswordReset,
		success:    true,
		actorID:    actorIDFromContext(ctx),
		targetType: "user",
		targetID:   userID,
		metadata: func() map[string]string {
			return map[string]string{"method": "admin"}
		},
	})
	return nil
}

// RequestPasswordReset issues a single use reset token for email. The
// token is returned to the caller for out-of-band delivery; only its hash
// is stored. An unknown email returns an empty token and no error.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return "", ErrPasswordResetDisabled
	}
	email = normalizeEmail(email)

	if d := e.CheckRateLimit(ctx, LimitAuth, "reset:"+email); !d.Allowed {
		return "", &RateLimitError{Decision: d}
	}
	e.metricInc(MetricPasswordResetRequest)

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !user.Active {
		return "", nil
	}

	token, err := session.NewToken(e.random)
	if err != nil {
		return "", err
	}
	hash, err := session.HashToken(token)
	if err != nil {
		return "", err
	}
	if err := e.kv.Set(ctx, resetKeyPrefix+hash, []byte(user.ID), e.config.PasswordReset.TTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditRecord{
		action:     AuditPasswordResetRequested,
		success:    true,
		actorID:    user.ID,
		targetType: "user",
		targetID:   user.ID,
	})
	return token, nil
}

// ConfirmPasswordReset consumes a reset token and sets newPassword. The
// policy is checked before the token is consumed, so a rejected password
// leaves the token usable. Consumed, expired and unknown tokens all return
// ErrResetTokenInvalid.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetDisabled
	}

	fail := func(reason string, err error) error {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditRecord{
			action:     AuditPasswordReset,
			targetType: "reset_token",
			err:        err,
			metadata: func() map[string]string {
				return map[string]string{"reason": reason}
			},
		})
		return err
	}

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return fail("policy", err)
	}
	hash, err := session.HashToken(token)
	if err != nil {
		return fail("malformed", ErrResetTokenInvalid)
	}

	raw, err := e.kv.Take(ctx, resetKeyPrefix+hash)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return fail("unknown_token", ErrResetTokenInvalid)
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	userID := string(raw)

	if err := e.storeNewPassword(ctx, userID, newPassword); err != nil {
		return fail("update", err)
	}
	if err := e.users.ResetFailedLogins(ctx, userID); err != nil {
		e.log.WithError(err).WithField("user_id", userID).Warn("failed login counter reset failed")
	}
	if err := e.invalidateAfterPasswordChange(ctx, userID); err != nil {
		return fail("session_invalidation", err)
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditRecord{
		action:     AuditPasswordReset,
		success:    true,
		actorID:    userID,
		targetType: "user",
		targetID:   userID,
		metadata: func() map[string]string {
			return map[string]string{"method": "token"}
		},
	})
	return nil
}

func (e *Engine) checkPasswordPolicy(pw string) error {
	if pw == "" {
		return fmt.Errorf("%w: empty", ErrPasswordPolicy)
	}
	if min := e.config.Password.MinLength; min > 0 && len(pw) < min {
		return fmt.Errorf("%w: shorter than %d bytes", ErrPasswordPolicy, min)
	}
	if max := e.config.Password.MaxLength; max > 0 && len(pw) > max {
		return fmt.Errorf("%w: longer than %d bytes", ErrPasswordPolicy, max)
	}
	return nil
}

func (e *Engine) storeNewPassword(ctx context.Context, userID, pw string) error {
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) || errors.Is(err, password.ErrEmptyPassword) {
			return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) invalidateAfterPasswordChange(ctx context.Context, userID string) error {
	n, err := e.sessions.RevokeAllForUser(ctx, userID, e.clock.Now())
	if err != nil {
		e.log.WithError(err).WithField("user_id", userID).Error("session invalidation after password change failed")
		return fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}
	if n > 0 {
		e.metricAdd(MetricSessionInvalidated, uint64(n))
	}
	return nil
}
