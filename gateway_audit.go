package tgmux

import (
	"context"
	"errors"
	"time"

	"github.com/tgmux/tgmux/pool"
)

const (
	auditEventCodeSent             = "code_sent"
	auditEventAuthCompleted        = "auth_completed"
	auditEventAuthPasswordRequired = "auth_password_required"
	auditEventAuthFailed           = "auth_failed"
	auditEventSessionValidated     = "session_validated"
	auditEventSessionRevoked       = "session_revoked"
	auditEventSessionRefreshed     = "session_refreshed"
	auditEventSessionsSwept        = "sessions_swept"
)

// AuditErrorCode is the stable, low-cardinality error label carried in
// audit events instead of raw error strings.
type AuditErrorCode string

const (
	auditErrSessionNotFound AuditErrorCode = "session_not_found"
	auditErrSessionExpired  AuditErrorCode = "session_expired"
	auditErrSessionInactive AuditErrorCode = "session_inactive"
	auditErrAuthFailed      AuditErrorCode = "authentication_failed"
	auditErrInvalidPhone    AuditErrorCode = "invalid_phone"
	auditErrAcquireTimeout  AuditErrorCode = "acquire_timeout"
	auditErrPoolShutdown    AuditErrorCode = "pool_shutting_down"
	auditErrConnection      AuditErrorCode = "connection_error"
	auditErrStore           AuditErrorCode = "store_unavailable"
	auditErrGatewayClosed   AuditErrorCode = "gateway_closed"
	auditErrInternal        AuditErrorCode = "internal_error"
)

// emitAudit builds and dispatches one audit event. The metadata builder is
// only invoked when a dispatcher is configured, keeping the disabled path
// allocation-free. Phone numbers are masked here, at the emit boundary.
func (g *Gateway) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	sessionID string,
	userID string,
	phone string,
	conn *pool.Conn,
	err error,
	metadataBuilder func() map[string]string,
) {
	if g == nil || g.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		SessionID: sessionID,
		UserID:    userID,
		Phone:     maskPhone(phone),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if conn != nil {
		event.ConnID = conn.ID()
		event.DCID = conn.Client().DCInfo().ID
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	g.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrSessionInactive):
		return auditErrSessionInactive
	case errors.Is(err, ErrAuthenticationFailed):
		return auditErrAuthFailed
	case errors.Is(err, ErrInvalidPhone):
		return auditErrInvalidPhone
	case errors.Is(err, ErrAcquireTimeout):
		return auditErrAcquireTimeout
	case errors.Is(err, ErrPoolShuttingDown):
		return auditErrPoolShutdown
	case errors.Is(err, ErrConnection):
		return auditErrConnection
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStore
	case errors.Is(err, ErrGatewayClosed):
		return auditErrGatewayClosed
	default:
		return auditErrInternal
	}
}
