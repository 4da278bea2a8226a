package tgmux

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/tgmux/tgmux/mtproto"
	"github.com/tgmux/tgmux/pool"
	"github.com/tgmux/tgmux/session"
)

// loadActiveSession enforces the record-level admission rules shared by
// ValidateSession and ExecuteWithSession: the record must exist, must not
// be expired, and must be active. None of these checks touch the pool.
// Expired records are deleted on sight.
func (g *Gateway) loadActiveSession(ctx context.Context, sessionID string) (*session.Record, error) {
	rec, err := g.store.Get(ctx, sessionID)
	if err != nil {
		g.metricInc(MetricStoreError)
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if rec.Expired(time.Now().UTC()) {
		if _, err := g.store.Delete(ctx, sessionID); err != nil {
			log.Printf("tgmux: delete of expired session %s failed: %v", sessionID, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, sessionID)
	}
	if !rec.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrSessionInactive, sessionID)
	}
	return rec, nil
}

// identityCheck imports the stored credential into the connection and
// confirms the remote side still resolves to the user recorded in the
// session.
func (g *Gateway) identityCheck(ctx context.Context, conn *pool.Conn, rec *session.Record) (*mtproto.User, error) {
	client := conn.Client()
	if rec.AuthSecret != "" {
		if err := client.ImportCredential(rec.AuthSecret); err != nil {
			return nil, fmt.Errorf("import credential: %w", err)
		}
	}

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity check: %w", err)
	}
	if rec.UserID != "" && formatUserID(user.ID) != rec.UserID {
		return nil, fmt.Errorf("%w: remote identity mismatch", ErrAuthenticationFailed)
	}
	return user, nil
}

// ValidateSession checks that a session is usable. Missing, expired, and
// inactive sessions are rejected without touching the pool. Live sessions
// get a remote identity check on their bound connection and, on success, a
// fresh TTL. Failures land in the result; this method never panics.
func (g *Gateway) ValidateSession(ctx context.Context, sessionID string) *ValidationResult {
	if g == nil || g.closed.Load() {
		return &ValidationResult{Err: ErrGatewayClosed}
	}

	rec, err := g.loadActiveSession(ctx, sessionID)
	if err != nil {
		g.metricInc(MetricValidationFailure)
		g.emitAudit(ctx, auditEventSessionValidated, false, sessionID, "", "", nil, err, nil)
		return &ValidationResult{Err: err}
	}

	conn, err := g.acquire(ctx, sessionID, 0)
	if err != nil {
		g.metricInc(MetricValidationFailure)
		g.emitAudit(ctx, auditEventSessionValidated, false, sessionID, rec.UserID, rec.PhoneNumber, nil, err, nil)
		return &ValidationResult{Err: fmt.Errorf("acquire for validation: %w", err)}
	}
	defer g.pool.Release(conn)

	if _, err := g.identityCheck(ctx, conn, rec); err != nil {
		g.metricInc(MetricValidationFailure)
		g.emitAudit(ctx, auditEventSessionValidated, false, sessionID, rec.UserID, rec.PhoneNumber, conn, err, nil)
		return &ValidationResult{Err: err}
	}

	// TTL extension is opportunistic. A store hiccup must not turn a
	// session that just passed its remote check into an invalid one.
	now := time.Now().UTC()
	if ok, err := g.store.Extend(ctx, sessionID, g.config.Session.TTL); err != nil || !ok {
		log.Printf("tgmux: ttl extension for session %s skipped (ok=%v err=%v)", sessionID, ok, err)
	} else {
		rec.UpdatedAt = now
		rec.ExpiresAt = now.Add(g.config.Session.TTL)
	}

	g.metricInc(MetricValidationSuccess)
	g.emitAudit(ctx, auditEventSessionValidated, true, sessionID, rec.UserID, rec.PhoneNumber, conn, nil, nil)

	return &ValidationResult{Valid: true, Session: rec}
}

// ExecuteWithSession runs op against the session's bound connection. The
// session record is checked first: a missing, expired, or inactive session
// fails fast and the pool is never touched. The connection is released even
// when op fails or panics, and op errors come back unwrapped so callers
// keep their own error domains. After a successful op the connection's
// current credential, usage timestamps, and a fresh TTL are persisted in
// one write.
func (g *Gateway) ExecuteWithSession(ctx context.Context, sessionID string, opts ExecOptions, op Operation) error {
	if g == nil || g.closed.Load() {
		return ErrGatewayClosed
	}
	if op == nil {
		return errors.New("operation is required")
	}

	rec, err := g.loadActiveSession(ctx, sessionID)
	if err != nil {
		g.metricInc(MetricOpFailure)
		return err
	}

	conn, err := g.acquire(ctx, sessionID, opts.Priority)
	if err != nil {
		g.metricInc(MetricOpFailure)
		return fmt.Errorf("acquire for session %s: %w", sessionID, err)
	}
	defer g.pool.Release(conn)

	client := conn.Client()
	if rec.AuthSecret != "" {
		if err := client.ImportCredential(rec.AuthSecret); err != nil {
			g.metricInc(MetricOpFailure)
			return fmt.Errorf("import credential: %w", err)
		}
	}

	if err := op(ctx, client); err != nil {
		g.metricInc(MetricOpFailure)
		return err
	}
	g.metricInc(MetricOpExecuted)

	// Remote calls can rotate the credential; persist whatever the
	// connection holds now so a later dial resumes from current state.
	// The same write grants the fresh TTL a successful use earns.
	credential, err := client.ExportCredential()
	if err != nil {
		return fmt.Errorf("export credential for session %s: %w", sessionID, err)
	}
	now := time.Now().UTC()
	if _, err := g.store.Update(ctx, sessionID, func(r *session.Record) {
		r.AuthSecret = credential
		r.LastUsed = now
		r.UpdatedAt = now
		r.ExpiresAt = now.Add(g.config.Session.TTL)
	}); err != nil {
		g.metricInc(MetricStoreError)
		return fmt.Errorf("persist session %s after operation: %w", sessionID, err)
	}

	return nil
}

// RevokeSession deletes a session record. The bool reports whether a
// record was actually removed; revoking an absent session is not an error.
func (g *Gateway) RevokeSession(ctx context.Context, sessionID string) (bool, error) {
	if g == nil || g.closed.Load() {
		return false, ErrGatewayClosed
	}

	deleted, err := g.store.Delete(ctx, sessionID)
	if err != nil {
		g.metricInc(MetricStoreError)
		g.emitAudit(ctx, auditEventSessionRevoked, false, sessionID, "", "", nil, err, nil)
		return false, fmt.Errorf("revoke session %s: %w", sessionID, err)
	}
	if deleted {
		g.metricInc(MetricSessionRevoked)
	}
	g.emitAudit(ctx, auditEventSessionRevoked, deleted, sessionID, "", "", nil, nil, nil)

	return deleted, nil
}

// RefreshSession grants the session a fresh TTL. A non-positive ttl means
// the configured session TTL. Returns false when the session is gone.
func (g *Gateway) RefreshSession(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	if g == nil || g.closed.Load() {
		return false, ErrGatewayClosed
	}
	if ttl <= 0 {
		ttl = g.config.Session.TTL
	}

	extended, err := g.store.Extend(ctx, sessionID, ttl)
	if err != nil {
		g.metricInc(MetricStoreError)
		return false, fmt.Errorf("refresh session %s: %w", sessionID, err)
	}
	if extended {
		g.metricInc(MetricSessionRefreshed)
		g.emitAudit(ctx, auditEventSessionRefreshed, true, sessionID, "", "", nil, nil, func() map[string]string {
			return map[string]string{"ttl": ttl.String()}
		})
	}

	return extended, nil
}

// CleanupExpiredSessions scans every stored record and deletes the ones
// whose expiry has passed, returning how many were removed. Records the
// store already reaped on its own do not count.
func (g *Gateway) CleanupExpiredSessions(ctx context.Context) (int, error) {
	if g == nil || g.closed.Load() {
		return 0, ErrGatewayClosed
	}

	records, err := g.store.ListAll(ctx)
	if err != nil {
		g.metricInc(MetricStoreError)
		return 0, fmt.Errorf("list sessions for sweep: %w", err)
	}

	now := time.Now().UTC()
	deleted := 0
	for _, rec := range records {
		if !rec.Expired(now) {
			continue
		}
		ok, err := g.store.Delete(ctx, rec.ID)
		if err != nil {
			g.metricInc(MetricStoreError)
			return deleted, fmt.Errorf("sweep session %s: %w", rec.ID, err)
		}
		if ok {
			deleted++
			g.metricInc(MetricSessionsSwept)
		}
	}

	if deleted > 0 {
		g.emitAudit(ctx, auditEventSessionsSwept, true, "", "", "", nil, nil, func() map[string]string {
			return map[string]string{"deleted": strconv.Itoa(deleted)}
		})
	}

	return deleted, nil
}

// ListUserSessions returns every live session recorded for a user.
func (g *Gateway) ListUserSessions(ctx context.Context, userID string) ([]*session.Record, error) {
	if g == nil || g.closed.Load() {
		return nil, ErrGatewayClosed
	}

	records, err := g.store.ListForUser(ctx, userID)
	if err != nil {
		g.metricInc(MetricStoreError)
		return nil, fmt.Errorf("list sessions for user %s: %w", userID, err)
	}
	return records, nil
}
