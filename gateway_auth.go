package tgmux

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tgmux/tgmux/mtproto"
	"github.com/tgmux/tgmux/pool"
	"github.com/tgmux/tgmux/session"
)

const (
	metaAuthStage             = "auth_stage"
	authStagePasswordRequired = "password_required"
)

// StartAuthFlow requests a verification code for the given phone number.
// No session exists yet, so the connection is acquired unbound and always
// released before returning. The returned code hash must be echoed back to
// [Gateway.CompleteAuth].
func (g *Gateway) StartAuthFlow(ctx context.Context, phone string) (*CodeSent, error) {
	if g == nil || g.closed.Load() {
		return nil, ErrGatewayClosed
	}
	if strings.TrimSpace(phone) == "" {
		return nil, ErrInvalidPhone
	}

	g.metricInc(MetricAuthStarted)

	conn, err := g.acquire(ctx, "", 0)
	if err != nil {
		g.emitAudit(ctx, auditEventCodeSent, false, "", "", phone, nil, err, nil)
		return nil, fmt.Errorf("acquire for auth flow: %w", err)
	}
	defer g.pool.Release(conn)

	sent, err := conn.Client().SendVerificationCode(ctx, phone)
	if err != nil {
		g.metricInc(MetricAuthFailed)
		g.emitAudit(ctx, auditEventCodeSent, false, "", "", phone, conn, err, nil)
		return nil, fmt.Errorf("send verification code: %w", err)
	}

	g.emitAudit(ctx, auditEventCodeSent, true, "", "", phone, conn, nil, func() map[string]string {
		return map[string]string{"delivery_method": sent.DeliveryMethod}
	})

	return &CodeSent{
		CodeHash:       sent.CodeHash,
		Timeout:        sent.Timeout,
		DeliveryMethod: sent.DeliveryMethod,
	}, nil
}

// CompleteAuth submits the verification code. Expected failures come back
// inside the result, never as a panic or stray error: a wrong code yields
// {Success:false, Err}, a second-factor account yields {Success:false,
// RequiresPassword:true} plus a provisional session id for
// [Gateway.Complete2FAAuth]. On success the new session is persisted
// encrypted, the connection is bound to it, and the released slot stays
// preferred for this session's future acquires.
func (g *Gateway) CompleteAuth(ctx context.Context, phone, code, codeHash string) *AuthResult {
	if g == nil || g.closed.Load() {
		return &AuthResult{Err: ErrGatewayClosed}
	}
	if strings.TrimSpace(phone) == "" {
		return &AuthResult{Err: ErrInvalidPhone}
	}
	if code == "" || codeHash == "" {
		return &AuthResult{Err: fmt.Errorf("%w: code and code hash are required", ErrAuthenticationFailed)}
	}

	conn, err := g.acquire(ctx, "", 0)
	if err != nil {
		g.metricInc(MetricAuthFailed)
		g.emitAudit(ctx, auditEventAuthFailed, false, "", "", phone, nil, err, nil)
		return &AuthResult{Err: fmt.Errorf("acquire for sign-in: %w", err)}
	}
	defer g.pool.Release(conn)

	auth, err := conn.Client().SignIn(ctx, phone, codeHash, code)
	if errors.Is(err, mtproto.ErrPasswordNeeded) {
		return g.parkOnPassword(ctx, conn, phone)
	}
	if err != nil {
		g.metricInc(MetricAuthFailed)
		wrapped := fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		g.emitAudit(ctx, auditEventAuthFailed, false, "", "", phone, conn, wrapped, nil)
		return &AuthResult{Err: wrapped}
	}

	dc := conn.Client().DCInfo()
	userID := formatUserID(auth.User.ID)
	rec, err := g.store.Create(ctx, &session.Record{
		UserID:        userID,
		PhoneNumber:   phone,
		AuthSecret:    auth.Credential,
		DCID:          dc.ID,
		ServerAddress: dc.Address,
		Port:          dc.Port,
	}, g.config.Session.TTL)
	if err != nil {
		g.metricInc(MetricStoreError)
		g.emitAudit(ctx, auditEventAuthFailed, false, "", userID, phone, conn, err, nil)
		return &AuthResult{Err: fmt.Errorf("persist session: %w", err)}
	}

	g.pool.Bind(conn.ID(), rec.ID)
	g.metricInc(MetricAuthCompleted)
	g.metricInc(MetricSessionCreated)
	g.emitAudit(ctx, auditEventAuthCompleted, true, rec.ID, userID, phone, conn, nil, nil)

	return &AuthResult{
		Success:   true,
		SessionID: rec.ID,
		UserID:    userID,
		Token:     g.issueToken(rec.ID, userID, dc.ID),
	}
}

// parkOnPassword persists the provisional record that lets Complete2FAAuth
// resume a sign-in stopped at the second factor. The record is inactive and
// short-lived: validation and execution reject it, and the store reaps it
// if the password never arrives.
func (g *Gateway) parkOnPassword(ctx context.Context, conn *pool.Conn, phone string) *AuthResult {
	now := time.Now().UTC()
	dc := conn.Client().DCInfo()
	rec := &session.Record{
		ID:            uuid.NewString(),
		PhoneNumber:   phone,
		DCID:          dc.ID,
		ServerAddress: dc.Address,
		Port:          dc.Port,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(g.config.Session.PendingAuthTTL),
		IsActive:      false,
		Metadata:      map[string]string{metaAuthStage: authStagePasswordRequired},
	}
	if err := g.store.Save(ctx, rec); err != nil {
		g.metricInc(MetricStoreError)
		g.emitAudit(ctx, auditEventAuthFailed, false, "", "", phone, conn, err, nil)
		return &AuthResult{Err: fmt.Errorf("persist pending session: %w", err)}
	}

	g.pool.Bind(conn.ID(), rec.ID)
	g.metricInc(MetricAuthPasswordRequired)
	g.emitAudit(ctx, auditEventAuthPasswordRequired, true, rec.ID, "", phone, conn, nil, nil)

	return &AuthResult{RequiresPassword: true, SessionID: rec.ID}
}

// Complete2FAAuth finishes a sign-in parked on a second-factor password.
// On success the provisional record becomes a full session: user id and
// credential recorded, IsActive set, full TTL granted.
func (g *Gateway) Complete2FAAuth(ctx context.Context, sessionID, password string) *AuthResult {
	if g == nil || g.closed.Load() {
		return &AuthResult{Err: ErrGatewayClosed}
	}
	if password == "" {
		return &AuthResult{Err: fmt.Errorf("%w: password is required", ErrAuthenticationFailed)}
	}

	rec, err := g.store.Get(ctx, sessionID)
	if err != nil {
		g.metricInc(MetricStoreError)
		return &AuthResult{Err: fmt.Errorf("load pending session %s: %w", sessionID, err)}
	}
	if rec == nil {
		return &AuthResult{Err: fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)}
	}
	if rec.Expired(time.Now().UTC()) {
		if _, err := g.store.Delete(ctx, sessionID); err != nil {
			log.Printf("tgmux: delete of expired session %s failed: %v", sessionID, err)
		}
		return &AuthResult{Err: fmt.Errorf("%w: second-factor window elapsed", ErrSessionExpired)}
	}
	if rec.Metadata[metaAuthStage] != authStagePasswordRequired {
		return &AuthResult{Err: fmt.Errorf("%w: session has no pending password challenge", ErrAuthenticationFailed)}
	}

	conn, err := g.acquire(ctx, sessionID, 0)
	if err != nil {
		g.metricInc(MetricAuthFailed)
		g.emitAudit(ctx, auditEventAuthFailed, false, sessionID, "", rec.PhoneNumber, nil, err, nil)
		return &AuthResult{Err: fmt.Errorf("acquire for second factor: %w", err)}
	}
	defer g.pool.Release(conn)

	auth, err := conn.Client().CheckPassword(ctx, password)
	if err != nil {
		// The provisional record stays put: the caller may retry until its
		// short TTL runs out.
		g.metricInc(MetricAuthFailed)
		wrapped := fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		g.emitAudit(ctx, auditEventAuthFailed, false, sessionID, "", rec.PhoneNumber, conn, wrapped, nil)
		return &AuthResult{Err: wrapped}
	}

	userID := formatUserID(auth.User.ID)
	now := time.Now().UTC()
	updated, err := g.store.Update(ctx, sessionID, func(r *session.Record) {
		r.UserID = userID
		r.AuthSecret = auth.Credential
		r.IsActive = true
		r.ExpiresAt = now.Add(g.config.Session.TTL)
		r.LastUsed = now
		delete(r.Metadata, metaAuthStage)
	})
	if err != nil {
		g.metricInc(MetricStoreError)
		g.emitAudit(ctx, auditEventAuthFailed, false, sessionID, userID, rec.PhoneNumber, conn, err, nil)
		return &AuthResult{Err: fmt.Errorf("finalize session %s: %w", sessionID, err)}
	}

	g.metricInc(MetricAuthCompleted)
	g.metricInc(MetricSessionCreated)
	g.emitAudit(ctx, auditEventAuthCompleted, true, sessionID, userID, rec.PhoneNumber, conn, nil, nil)

	return &AuthResult{
		Success:   true,
		SessionID: updated.ID,
		UserID:    userID,
		Token:     g.issueToken(updated.ID, userID, updated.DCID),
	}
}
