package tgmux

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration consumed by [Builder.Build]. Callers
// usually start from [DefaultConfig] and override the handful of fields
// their deployment needs. A Config is treated as immutable after Build.
type Config struct {
	Pool    PoolConfig
	Session SessionConfig
	Crypto  CryptoConfig
	Retry   RetryConfig
	Token   TokenConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
POOL CONFIG
====================================
*/

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	// MinSize is the floor the maintenance loop keeps warm.
	MinSize int
	// MaxSize caps live connections plus in-flight dials.
	MaxSize int
	// AcquireTimeout bounds how long one acquire may queue.
	AcquireTimeout time.Duration
	// IdleTimeout is how long a free connection may sit unused before the
	// maintenance loop may evict it (never below MinSize).
	IdleTimeout time.Duration
	// MaintenanceInterval is the period of the eviction/top-up loop.
	// Zero disables the loop; Maintain can still be driven manually.
	MaintenanceInterval time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig governs session lifetimes and the store key layout.
type SessionConfig struct {
	// TTL is the lifetime granted to authenticated sessions, and re-granted
	// on every successful validation or explicit refresh.
	TTL time.Duration
	// PendingAuthTTL is the short lifetime of the provisional record created
	// when a sign-in is parked on a second-factor password.
	PendingAuthTTL time.Duration
	// RedisPrefix is prepended to every store key. Empty keeps the plain
	// session:<id> / user:sessions:<userID> layout.
	RedisPrefix string
}

/*
====================================
CRYPTO CONFIG
====================================
*/

// CryptoConfig carries the at-rest encryption key for session secrets.
type CryptoConfig struct {
	// EncryptionKey is the AES key (16, 24, or 32 bytes). Loaded once at
	// build time and never logged.
	EncryptionKey []byte
}

/*
====================================
RETRY CONFIG
====================================
*/

// RetryConfig tunes the retry wrapper around every remote network call.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig enables signed session tokens issued after authentication.
type TokenConfig struct {
	Enabled       bool
	SigningMethod string // "hs256" (default) or "ed25519"
	SigningKey    []byte
	VerifyKey     []byte // ed25519 public key; unused for hs256
	AccessTTL     time.Duration
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// AuditConfig sizes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process metrics block.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. The encryption key and
// any token signing keys must still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Pool: PoolConfig{
			MinSize:             2,
			MaxSize:             10,
			AcquireTimeout:      30 * time.Second,
			IdleTimeout:         5 * time.Minute,
			MaintenanceInterval: time.Minute,
		},
		Session: SessionConfig{
			TTL:            24 * time.Hour,
			PendingAuthTTL: 10 * time.Minute,
			RedisPrefix:    "",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
		},
		Token: TokenConfig{
			Enabled:       false,
			SigningMethod: "hs256",
			AccessTTL:     15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Crypto.EncryptionKey = cloneBytes(cfg.Crypto.EncryptionKey)
	out.Token.SigningKey = cloneBytes(cfg.Token.SigningKey)
	out.Token.VerifyKey = cloneBytes(cfg.Token.VerifyKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
LINT
====================================
*/

// LintSeverity ranks configuration warnings.
type LintSeverity int

const (
	// LintInfo marks advisory findings.
	LintInfo LintSeverity = iota
	// LintWarn marks settings that degrade behavior under load.
	LintWarn
	// LintHigh marks settings that are almost certainly misconfigurations.
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintHigh:
		return "HIGH"
	case LintWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// ConfigWarning is one non-fatal configuration smell found by [Config.Lint].
type ConfigWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// ConfigWarnings is the ordered list of warnings from one lint pass.
type ConfigWarnings []ConfigWarning

// Codes returns just the warning codes, in emission order.
func (ws ConfigWarnings) Codes() []string {
	codes := make([]string, len(ws))
	for i, w := range ws {
		codes[i] = w.Code
	}
	return codes
}

// BySeverity filters to warnings at or above min.
func (ws ConfigWarnings) BySeverity(min LintSeverity) ConfigWarnings {
	var out ConfigWarnings
	for _, w := range ws {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError promotes findings at or above min into a single error. Returns nil
// when nothing qualifies, so it can gate startup directly.
func (ws ConfigWarnings) AsError(min LintSeverity) error {
	offending := ws.BySeverity(min)
	if len(offending) == 0 {
		return nil
	}
	return fmt.Errorf("config lint: %s", strings.Join(offending.Codes(), ", "))
}

// Lint flags configurations that validate but behave badly in production.
// Unlike [Config.Validate] nothing here blocks Build; callers log the
// warnings, or gate on [ConfigWarnings.AsError], and decide.
func (c *Config) Lint() ConfigWarnings {
	var ws ConfigWarnings
	warn := func(code string, severity LintSeverity, message string) {
		ws = append(ws, ConfigWarning{Code: code, Severity: severity, Message: message})
	}

	if c.Pool.MaxSize == 1 {
		warn("pool_single_connection", LintWarn, "Pool.MaxSize is 1; every session serializes onto one connection")
	}
	if c.Pool.MaintenanceInterval == 0 {
		warn("maintenance_disabled", LintWarn, "Pool.MaintenanceInterval is 0; idle eviction and warm-up never run")
	} else if c.Pool.IdleTimeout < c.Pool.MaintenanceInterval {
		warn("idle_shorter_than_maintenance", LintInfo, "Pool.IdleTimeout is below MaintenanceInterval; idle connections outlive their timeout by up to one interval")
	}
	if c.Pool.AcquireTimeout > time.Minute {
		warn("acquire_timeout_long", LintInfo, "Pool.AcquireTimeout exceeds one minute; saturated callers stall instead of failing fast")
	}

	if c.Session.TTL < 5*time.Minute {
		warn("session_ttl_short", LintWarn, "Session.TTL is below five minutes; sessions churn through re-authentication")
	}
	if c.Session.PendingAuthTTL > time.Hour {
		warn("pending_ttl_long", LintInfo, "Session.PendingAuthTTL exceeds one hour; parked sign-ins linger in the store")
	}

	if c.Retry.MaxAttempts == 1 {
		warn("retry_single_attempt", LintInfo, "Retry.MaxAttempts is 1; transient network errors surface directly to callers")
	}

	if c.Token.Enabled {
		if c.Token.AccessTTL > c.Session.TTL {
			warn("token_ttl_exceeds_session", LintHigh, "Token.AccessTTL exceeds Session.TTL; tokens outlive the sessions they name")
		}
		if c.Token.Leeway > time.Minute {
			warn("token_leeway_large", LintWarn, "Token.Leeway exceeds one minute; expired tokens stay acceptable for too long")
		}
	}

	if c.Audit.Enabled && !c.Audit.DropIfFull {
		warn("audit_blocking", LintHigh, "Audit.DropIfFull is false; a slow sink backpressures the auth path")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		warn("latency_without_metrics", LintInfo, "Metrics.EnableLatencyHistograms is set while Metrics.Enabled is false; no samples are recorded")
	}

	return ws
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks every section for internally consistent values. It is
// called by [Builder.Build] and may be called directly by configuration
// loaders that want early failures.
func (c *Config) Validate() error {
	// Pool
	if c.Pool.MinSize < 0 {
		return errors.New("Pool MinSize must be >= 0")
	}
	if c.Pool.MaxSize < 1 {
		return errors.New("Pool MaxSize must be >= 1")
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		return errors.New("Pool MinSize must be <= MaxSize")
	}
	if c.Pool.AcquireTimeout <= 0 {
		return errors.New("Pool AcquireTimeout must be > 0")
	}
	if c.Pool.IdleTimeout <= 0 {
		return errors.New("Pool IdleTimeout must be > 0")
	}
	if c.Pool.MaintenanceInterval < 0 {
		return errors.New("Pool MaintenanceInterval must be >= 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.PendingAuthTTL <= 0 {
		return errors.New("Session PendingAuthTTL must be > 0")
	}
	if c.Session.PendingAuthTTL > c.Session.TTL {
		return errors.New("Session PendingAuthTTL must be <= TTL")
	}

	// Crypto
	switch len(c.Crypto.EncryptionKey) {
	case 16, 24, 32:
		// valid
	default:
		return errors.New("Crypto EncryptionKey must be 16, 24, or 32 bytes")
	}

	// Retry
	if c.Retry.MaxAttempts < 1 {
		return errors.New("Retry MaxAttempts must be >= 1")
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("Retry BaseDelay must be > 0")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("Retry MaxDelay must be >= BaseDelay")
	}

	// Token
	if c.Token.Enabled {
		if c.Token.SigningMethod != "hs256" && c.Token.SigningMethod != "ed25519" {
			return errors.New("Token SigningMethod must be 'hs256' or 'ed25519'")
		}
		if c.Token.AccessTTL <= 0 {
			return errors.New("Token AccessTTL must be > 0")
		}
		if c.Token.Leeway < 0 {
			return errors.New("Token Leeway must be >= 0")
		}
		if c.Token.SigningMethod == "hs256" && len(c.Token.SigningKey) < 32 {
			return errors.New("hs256 requires a SigningKey of at least 32 bytes")
		}
		if c.Token.SigningMethod == "ed25519" && len(c.Token.SigningKey) == 0 {
			return errors.New("ed25519 requires SigningKey")
		}
		if c.Token.SigningMethod == "ed25519" && len(c.Token.VerifyKey) == 0 {
			return errors.New("ed25519 requires VerifyKey")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	return nil
}
