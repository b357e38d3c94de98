package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/audit"
)

type (
	AuditEvent     = audit.Event
	AuditSink      = audit.Sink
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	SlogSink       = audit.SlogSink
	JSONWriterSink = audit.JSONWriterSink
)

var (
	NewChannelSink    = audit.NewChannelSink
	NewSlogSink       = audit.NewSlogSink
	NewJSONWriterSink = audit.NewJSONWriterSink
)

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginRateLimited       = "login_rate_limited"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshRejected        = "refresh_rejected"
	auditEventRefreshRateLimited     = "refresh_rate_limited"
	auditEventLogout                 = "logout"
	auditEventLogoutAll              = "logout_all"
	auditEventPasswordChangeSuccess  = "password_change_success"
	auditEventPasswordChangeFailure  = "password_change_failure"
	auditEventPasswordResetRequest   = "password_reset_request"
	auditEventPasswordResetConfirm   = "password_reset_confirm"
	auditEventEmailVerificationSent  = "email_verification_request"
	auditEventEmailVerificationCheck = "email_verification_confirm"
	auditEventStoreUnavailable       = "store_unavailable"
)

type dropCounter interface {
	Dropped() uint64
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil || !e.config.Audit.Enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	if event.IP == "" {
		event.IP = ClientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) auditOK(ctx context.Context, eventType, subject, jti string) {
	e.emitAudit(ctx, AuditEvent{
		Type:    eventType,
		Subject: subject,
		JTI:     jti,
		Success: true,
	})
}

func (e *Engine) auditFail(ctx context.Context, eventType, subject string, err error) {
	e.emitAudit(ctx, AuditEvent{
		Type:    eventType,
		Subject: subject,
		Success: false,
		Reason:  auditReason(err),
	})
}

// auditReason is a stable code for the failure, never the raw error text.
func auditReason(err error) string {
	if err == nil {
		return ""
	}
	if k := KindOf(err); k != KindNone {
		return k.String()
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse"
	case errors.Is(err, ErrPasswordPolicy):
		return "password_policy"
	case errors.Is(err, ErrPrincipalNotFound):
		return "principal_not_found"
	}
	return "internal"
}
