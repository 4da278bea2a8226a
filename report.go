package tgmux

import (
	"time"

	"github.com/tgmux/tgmux/pool"
)

// Report is a read-only posture snapshot of a running gateway: configured
// bounds, feature toggles, and live pool/audit counters. Served by
// operational endpoints; it performs no store I/O.
type Report struct {
	PoolMinSize         int
	PoolMaxSize         int
	AcquireTimeout      time.Duration
	IdleTimeout         time.Duration
	MaintenanceInterval time.Duration

	SessionTTL     time.Duration
	PendingAuthTTL time.Duration

	RetryMaxAttempts int

	TokensEnabled      bool
	TokenSigningMethod string
	TokenAccessTTL     time.Duration

	AuditEnabled   bool
	AuditDropped   uint64
	MetricsEnabled bool

	Pool pool.Stats
}

// Report assembles the current snapshot.
func (g *Gateway) Report() Report {
	if g == nil {
		return Report{}
	}

	r := Report{
		PoolMinSize:         g.config.Pool.MinSize,
		PoolMaxSize:         g.config.Pool.MaxSize,
		AcquireTimeout:      g.config.Pool.AcquireTimeout,
		IdleTimeout:         g.config.Pool.IdleTimeout,
		MaintenanceInterval: g.config.Pool.MaintenanceInterval,
		SessionTTL:          g.config.Session.TTL,
		PendingAuthTTL:      g.config.Session.PendingAuthTTL,
		RetryMaxAttempts:    g.config.Retry.MaxAttempts,
		TokensEnabled:       g.tokens != nil,
		AuditEnabled:        g.config.Audit.Enabled,
		AuditDropped:        g.audit.Dropped(),
		MetricsEnabled:      g.config.Metrics.Enabled,
		Pool:                g.pool.Stats(),
	}
	if g.tokens != nil {
		r.TokenSigningMethod = g.config.Token.SigningMethod
		r.TokenAccessTTL = g.config.Token.AccessTTL
	}
	return r
}
