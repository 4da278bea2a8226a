package tgmux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tgmux/tgmux/mtproto"
	"github.com/tgmux/tgmux/session"
)

func TestValidateSessionSuccessExtendsTTL(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, mr, done := newTestGateway(t, net, nil)
	defer done()

	sessionID := authenticate(t, g, testPhone)

	before, err := g.store.Get(context.Background(), sessionID)
	if err != nil || before == nil {
		t.Fatalf("expected stored session, got rec=%v err=%v", before, err)
	}

	time.Sleep(20 * time.Millisecond)

	result := g.ValidateSession(context.Background(), sessionID)
	if result.Err != nil || !result.Valid {
		t.Fatalf("expected valid session, got %+v", result)
	}
	if result.Session == nil || result.Session.UserID != "1001" {
		t.Fatalf("expected session record in result, got %+v", result.Session)
	}

	after, err := g.store.Get(context.Background(), sessionID)
	if err != nil || after == nil {
		t.Fatalf("expected stored session, got rec=%v err=%v", after, err)
	}
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Fatalf("expected expiry to move forward: before=%v after=%v", before.ExpiresAt, after.ExpiresAt)
	}
	if d := result.Session.ExpiresAt.Sub(after.ExpiresAt); d < -time.Second || d > time.Second {
		t.Fatalf("result expiry drifted from stored expiry by %v", d)
	}

	if ttl := mr.TTL("session:" + sessionID); ttl < 59*time.Minute || ttl > time.Hour {
		t.Fatalf("expected refreshed key ttl, got %v", ttl)
	}
	if got := g.MetricValue(MetricValidationSuccess); got != 1 {
		t.Fatalf("expected 1 validation success, got %d", got)
	}
}

func TestValidateSessionMissing(t *testing.T) {
	net := newFakeNet()
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	result := g.ValidateSession(context.Background(), "no-such-session")
	if result.Valid || !errors.Is(result.Err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %+v", result)
	}
	if got := net.dialCount(); got != 0 {
		t.Fatalf("expected no dials for missing session, got %d", got)
	}
	if got := g.MetricValue(MetricValidationFailure); got != 1 {
		t.Fatalf("expected 1 validation failure, got %d", got)
	}
}

func TestValidateExpiredSessionNeverTouchesPool(t *testing.T) {
	net := newFakeNet()
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	now := time.Now().UTC()
	rec := &session.Record{
		ID:        "sess-expired",
		UserID:    "42",
		IsActive:  true,
		CreatedAt: now.Add(-2 * time.Hour),
		UpdatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(50 * time.Millisecond),
	}
	if err := g.store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// The key ttl is floored to a second, so the record is still present in
	// the store but logically expired.
	time.Sleep(80 * time.Millisecond)

	result := g.ValidateSession(context.Background(), "sess-expired")
	if result.Valid || !errors.Is(result.Err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %+v", result)
	}
	if got := net.dialCount(); got != 0 {
		t.Fatalf("expected no dials for expired session, got %d", got)
	}
	if stats := g.PoolStats(); stats.Acquires != 0 {
		t.Fatalf("expected pool untouched, got %+v", stats)
	}

	// Expired records are deleted on sight.
	if rec, _ := g.store.Get(context.Background(), "sess-expired"); rec != nil {
		t.Fatalf("expected expired record to be deleted, got %+v", rec)
	}
}

func TestValidateInactiveSessionRejectedButKept(t *testing.T) {
	net := newFakeNet()
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	now := time.Now().UTC()
	rec := &session.Record{
		ID:        "sess-inactive",
		UserID:    "42",
		IsActive:  false,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := g.store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	result := g.ValidateSession(context.Background(), "sess-inactive")
	if result.Valid || !errors.Is(result.Err, ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %+v", result)
	}
	if rec, _ := g.store.Get(context.Background(), "sess-inactive"); rec == nil {
		t.Fatal("inactive record must not be deleted")
	}
	if got := net.dialCount(); got != 0 {
		t.Fatalf("expected no dials for inactive session, got %d", got)
	}
}

func TestValidateDetectsRemoteIdentityMismatch(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	sessionID := authenticate(t, g, testPhone)

	if _, err := g.store.Update(context.Background(), sessionID, func(r *session.Record) {
		r.UserID = "424242"
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	result := g.ValidateSession(context.Background(), sessionID)
	if result.Valid || !errors.Is(result.Err, ErrAuthenticationFailed) {
		t.Fatalf("expected identity mismatch, got %+v", result)
	}
}

func TestExecuteRunsOnSessionIdentity(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	sessionID := authenticate(t, g, testPhone)

	var seen int64
	err := g.ExecuteWithSession(context.Background(), sessionID, ExecOptions{}, func(ctx context.Context, client mtproto.Client) error {
		user, err := client.CurrentUser(ctx)
		if err != nil {
			return err
		}
		seen = user.ID
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithSession failed: %v", err)
	}
	if seen != 1001 {
		t.Fatalf("operation saw identity %d, want 1001", seen)
	}

	rec, err := g.store.Get(context.Background(), sessionID)
	if err != nil || rec == nil {
		t.Fatalf("expected stored session, got rec=%v err=%v", rec, err)
	}
	if rec.LastUsed.IsZero() {
		t.Fatal("expected last-used timestamp after operation")
	}
	if stats := g.PoolStats(); stats.InUse != 0 {
		t.Fatalf("expected connection released, got %+v", stats)
	}
	if got := g.MetricValue(MetricOpExecuted); got != 1 {
		t.Fatalf("expected 1 executed operation, got %d", got)
	}
}

func TestExecuteMultiplexesSessionsOverOneConnection(t *testing.T) {
	net := newFakeNet()
	net.addAccount("+15551234567", 1001, "")
	net.addAccount("+15557654321", 1002, "")
	g, _, done := newTestGateway(t, net, func(cfg *Config) {
		cfg.Pool.MaxSize = 1
	})
	defer done()

	alice := authenticate(t, g, "+15551234567")
	bob := authenticate(t, g, "+15557654321")

	assertIdentity := func(sessionID string, want int64) {
		t.Helper()
		err := g.ExecuteWithSession(context.Background(), sessionID, ExecOptions{}, func(ctx context.Context, client mtproto.Client) error {
			user, err := client.CurrentUser(ctx)
			if err != nil {
				return err
			}
			if user.ID != want {
				t.Fatalf("operation saw identity %d, want %d", user.ID, want)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("ExecuteWithSession failed: %v", err)
		}
	}

	assertIdentity(alice, 1001)
	assertIdentity(bob, 1002)
	assertIdentity(alice, 1001)

	if got := net.dialCount(); got != 1 {
		t.Fatalf("expected all sessions to share 1 connection, got %d dials", got)
	}
}

func TestExecuteOpErrorPropagatesUnwrapped(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	sessionID := authenticate(t, g, testPhone)

	errBoom := errors.New("boom")
	err := g.ExecuteWithSession(context.Background(), sessionID, ExecOptions{}, func(ctx context.Context, client mtproto.Client) error {
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected operation error back, got %v", err)
	}

	rec, err := g.store.Get(context.Background(), sessionID)
	if err != nil || rec == nil {
		t.Fatalf("expected stored session, got rec=%v err=%v", rec, err)
	}
	if !rec.LastUsed.IsZero() {
		t.Fatal("failed operation must not bump last-used")
	}
	if stats := g.PoolStats(); stats.InUse != 0 {
		t.Fatalf("expected connection released after failure, got %+v", stats)
	}
	if got := g.MetricValue(MetricOpFailure); got != 1 {
		t.Fatalf("expected 1 failed operation, got %d", got)
	}
}

func TestExecutePersistsRotatedCredential(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	sessionID := authenticate(t, g, testPhone)

	err := g.ExecuteWithSession(context.Background(), sessionID, ExecOptions{}, func(ctx context.Context, client mtproto.Client) error {
		return client.ImportCredential("cred:" + testPhone + ":rotated")
	})
	if err != nil {
		t.Fatalf("ExecuteWithSession failed: %v", err)
	}

	rec, err := g.store.Get(context.Background(), sessionID)
	if err != nil || rec == nil {
		t.Fatalf("expected stored session, got rec=%v err=%v", rec, err)
	}
	if rec.AuthSecret != "cred:"+testPhone+":rotated" {
		t.Fatalf("expected rotated credential persisted, got %q", rec.AuthSecret)
	}
}

func TestExecuteExtendsSessionTTL(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	sessionID := authenticate(t, g, testPhone)

	// Shrink the expiry so the post-op extension is observable.
	if _, err := g.store.Update(context.Background(), sessionID, func(r *session.Record) {
		r.ExpiresAt = time.Now().UTC().Add(10 * time.Minute)
	}); err != nil {
		t.Fatalf("shrink expiry: %v", err)
	}

	err := g.ExecuteWithSession(context.Background(), sessionID, ExecOptions{}, func(ctx context.Context, client mtproto.Client) error {
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithSession failed: %v", err)
	}

	rec, err := g.store.Get(context.Background(), sessionID)
	if err != nil || rec == nil {
		t.Fatalf("expected stored session, got rec=%v err=%v", rec, err)
	}
	if remaining := time.Until(rec.ExpiresAt); remaining < 30*time.Minute {
		t.Fatalf("expected a fresh TTL after use, %v remaining", remaining)
	}
	if rec.LastUsed.IsZero() {
		t.Fatal("expected LastUsed to be set after use")
	}
}

func TestExecuteMissingSessionFailsFast(t *testing.T) {
	net := newFakeNet()
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	err := g.ExecuteWithSession(context.Background(), "no-such-session", ExecOptions{}, func(ctx context.Context, client mtproto.Client) error {
		return nil
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if got := net.dialCount(); got != 0 {
		t.Fatalf("expected no dials, got %d", got)
	}
	if got := g.MetricValue(MetricOpFailure); got != 1 {
		t.Fatalf("expected 1 failed operation, got %d", got)
	}
}

func TestExecuteRequiresOperation(t *testing.T) {
	g, _, done := newTestGateway(t, newFakeNet(), nil)
	defer done()

	err := g.ExecuteWithSession(context.Background(), "s", ExecOptions{}, nil)
	if err == nil || err.Error() != "operation is required" {
		t.Fatalf("expected operation-required error, got %v", err)
	}
}

func TestExecuteAcquireTimeout(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, func(cfg *Config) {
		cfg.Pool.MaxSize = 1
		cfg.Pool.AcquireTimeout = 50 * time.Millisecond
	})
	defer done()

	sessionID := authenticate(t, g, testPhone)

	held, err := g.pool.Acquire(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer g.pool.Release(held)

	execErr := g.ExecuteWithSession(context.Background(), sessionID, ExecOptions{}, func(ctx context.Context, client mtproto.Client) error {
		return nil
	})
	if !errors.Is(execErr, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", execErr)
	}
	if got := g.MetricValue(MetricAcquireTimeout); got != 1 {
		t.Fatalf("expected 1 acquire timeout, got %d", got)
	}
}

func TestRevokeSession(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	sessionID := authenticate(t, g, testPhone)

	revoked, err := g.RevokeSession(context.Background(), sessionID)
	if err != nil || !revoked {
		t.Fatalf("expected revocation, got revoked=%v err=%v", revoked, err)
	}
	if rec, _ := g.store.Get(context.Background(), sessionID); rec != nil {
		t.Fatalf("expected record gone, got %+v", rec)
	}

	sessions, err := g.ListUserSessions(context.Background(), "1001")
	if err != nil {
		t.Fatalf("ListUserSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty session list, got %d", len(sessions))
	}

	revoked, err = g.RevokeSession(context.Background(), sessionID)
	if err != nil || revoked {
		t.Fatalf("expected second revoke to be a no-op, got revoked=%v err=%v", revoked, err)
	}
	if got := g.MetricValue(MetricSessionRevoked); got != 1 {
		t.Fatalf("expected 1 revoked session, got %d", got)
	}
}

func TestRefreshSession(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	sessionID := authenticate(t, g, testPhone)

	ok, err := g.RefreshSession(context.Background(), sessionID, 2*time.Hour)
	if err != nil || !ok {
		t.Fatalf("RefreshSession failed: ok=%v err=%v", ok, err)
	}
	rec, _ := g.store.Get(context.Background(), sessionID)
	if rec == nil || time.Until(rec.ExpiresAt) < 90*time.Minute {
		t.Fatalf("expected 2h expiry, got %+v", rec)
	}

	// A non-positive ttl falls back to the configured session ttl.
	ok, err = g.RefreshSession(context.Background(), sessionID, 0)
	if err != nil || !ok {
		t.Fatalf("RefreshSession failed: ok=%v err=%v", ok, err)
	}
	rec, _ = g.store.Get(context.Background(), sessionID)
	if rec == nil || time.Until(rec.ExpiresAt) > 90*time.Minute {
		t.Fatalf("expected configured ttl, got %+v", rec)
	}

	ok, err = g.RefreshSession(context.Background(), "no-such-session", time.Hour)
	if err != nil || ok {
		t.Fatalf("expected miss without error, got ok=%v err=%v", ok, err)
	}
	if got := g.MetricValue(MetricSessionRefreshed); got != 2 {
		t.Fatalf("expected 2 refreshed sessions, got %d", got)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	net := newFakeNet()
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	now := time.Now().UTC()
	expiries := map[string]time.Time{
		"sess-1": now.Add(time.Hour),
		"sess-2": now.Add(50 * time.Millisecond),
		"sess-3": now.Add(time.Hour),
		"sess-4": now.Add(50 * time.Millisecond),
		"sess-5": now.Add(time.Hour),
	}
	for id, expiry := range expiries {
		rec := &session.Record{
			ID:        id,
			UserID:    "42",
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: expiry,
		}
		if err := g.store.Save(context.Background(), rec); err != nil {
			t.Fatalf("Save %s failed: %v", id, err)
		}
	}

	time.Sleep(80 * time.Millisecond)

	deleted, err := g.CleanupExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 swept sessions, got %d", deleted)
	}

	records, err := g.store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 surviving sessions, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Expired(time.Now().UTC()) {
			t.Fatalf("expired record survived sweep: %+v", rec)
		}
	}

	// A second sweep finds nothing.
	deleted, err = g.CleanupExpiredSessions(context.Background())
	if err != nil || deleted != 0 {
		t.Fatalf("expected idle second sweep, got deleted=%d err=%v", deleted, err)
	}
	if got := g.MetricValue(MetricSessionsSwept); got != 2 {
		t.Fatalf("expected 2 swept sessions in metrics, got %d", got)
	}
}

func TestListUserSessions(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	first := authenticate(t, g, testPhone)
	second := authenticate(t, g, testPhone)
	if first == second {
		t.Fatal("expected distinct sessions per sign-in")
	}

	sessions, err := g.ListUserSessions(context.Background(), "1001")
	if err != nil {
		t.Fatalf("ListUserSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	for _, rec := range sessions {
		if rec.ID != first && rec.ID != second {
			t.Fatalf("unexpected session in listing: %+v", rec)
		}
	}
}
