package tgmux

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tgmux/tgmux/audit"
	"github.com/tgmux/tgmux/pool"
	"github.com/tgmux/tgmux/session"
	"github.com/tgmux/tgmux/token"
)

// Gateway multiplexes authenticated end-user sessions onto a bounded pool
// of long-lived network connections. All methods are safe for concurrent
// use after [Builder.Build].
type Gateway struct {
	config  Config
	store   *session.Store
	pool    *pool.Pool
	tokens  *token.Manager
	metrics *Metrics
	audit   *audit.Dispatcher

	closed atomic.Bool
}

// Shutdown stops the gateway: queued acquires are rejected, all pooled
// connections are disconnected best-effort, and the audit dispatcher is
// drained. Idempotent; operations after Shutdown fail with
// [ErrGatewayClosed].
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g == nil {
		return nil
	}
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := g.pool.Shutdown(ctx)
	g.audit.Close()
	return err
}

// Close is Shutdown with a background context.
func (g *Gateway) Close() error {
	return g.Shutdown(context.Background())
}

// Ping round-trips the session store and reports the observed latency.
func (g *Gateway) Ping(ctx context.Context) (time.Duration, error) {
	if g == nil || g.closed.Load() {
		return 0, ErrGatewayClosed
	}
	return g.store.Ping(ctx)
}

// PoolStats returns the pool's counters.
func (g *Gateway) PoolStats() pool.Stats {
	return g.pool.Stats()
}

// PoolDetailedStats returns the pool's counters plus per-connection detail.
func (g *Gateway) PoolDetailedStats() pool.DetailedStats {
	return g.pool.DetailedStats()
}

// MetricsSnapshot copies the gateway's counters and histograms.
func (g *Gateway) MetricsSnapshot() MetricsSnapshot {
	return g.metrics.Snapshot()
}

// MetricValue returns one counter's current value.
func (g *Gateway) MetricValue(id MetricID) uint64 {
	return g.metrics.Value(id)
}

// AuditDropped reports how many audit events were dropped by a full buffer.
func (g *Gateway) AuditDropped() uint64 {
	return g.audit.Dropped()
}

// Tokens returns the session-token manager, or nil when tokens are
// disabled.
func (g *Gateway) Tokens() *token.Manager {
	if g == nil {
		return nil
	}
	return g.tokens
}

func (g *Gateway) metricInc(id MetricID) {
	if g == nil {
		return
	}
	g.metrics.Inc(id)
}

// acquire wraps the pool acquire with latency and timeout accounting.
func (g *Gateway) acquire(ctx context.Context, sessionID string, priority int) (*pool.Conn, error) {
	start := time.Now()
	conn, err := g.pool.Acquire(ctx, sessionID, priority)
	g.metrics.Observe(MetricAcquireLatency, time.Since(start))
	if err != nil {
		if errors.Is(err, pool.ErrAcquireTimeout) {
			g.metricInc(MetricAcquireTimeout)
		}
		return nil, err
	}
	return conn, nil
}

// issueToken signs a session token when a manager is configured. Issuance
// is advisory: a signing failure is logged and the sign-in stays
// successful.
func (g *Gateway) issueToken(sessionID, userID string, dc int) string {
	if g.tokens == nil {
		return ""
	}
	tok, err := g.tokens.Issue(sessionID, userID, dc)
	if err != nil {
		log.Printf("tgmux: token issue for session %s failed: %v", sessionID, err)
		return ""
	}
	return tok
}

func formatUserID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// maskPhone hides the middle digits of a phone number for audit output:
// +15551234567 becomes +1555***4567.
func maskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	if len(phone) < 8 {
		return "***"
	}
	return phone[:len(phone)-7] + "***" + phone[len(phone)-4:]
}
