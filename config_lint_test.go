package tgmux

import (
	"testing"
	"time"
)

func TestLint_DefaultConfigClean(t *testing.T) {
	cfg := DefaultConfig()
	ws := cfg.Lint()
	if len(ws) != 0 {
		t.Errorf("default config should lint clean, got %v", ws.Codes())
	}
}

func TestLint_SingleConnectionPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.MaxSize = 1
	if !containsCode(cfg.Lint().Codes(), "pool_single_connection") {
		t.Error("expected pool_single_connection warning")
	}
}

func TestLint_MaintenanceDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.MaintenanceInterval = 0
	if !containsCode(cfg.Lint().Codes(), "maintenance_disabled") {
		t.Error("expected maintenance_disabled warning")
	}
}

func TestLint_IdleShorterThanMaintenance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.IdleTimeout = 30 * time.Second
	cfg.Pool.MaintenanceInterval = time.Minute
	if !containsCode(cfg.Lint().Codes(), "idle_shorter_than_maintenance") {
		t.Error("expected idle_shorter_than_maintenance warning")
	}
}

func TestLint_ShortSessionTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.TTL = time.Minute
	if !containsCode(cfg.Lint().Codes(), "session_ttl_short") {
		t.Error("expected session_ttl_short warning")
	}
}

func TestLint_TokenOutlivesSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token.Enabled = true
	cfg.Session.TTL = time.Hour
	cfg.Token.AccessTTL = 2 * time.Hour
	if !containsCode(cfg.Lint().Codes(), "token_ttl_exceeds_session") {
		t.Error("expected token_ttl_exceeds_session warning")
	}
}

func TestLint_LargeLeeway(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token.Enabled = true
	cfg.Token.Leeway = 90 * time.Second
	if !containsCode(cfg.Lint().Codes(), "token_leeway_large") {
		t.Error("expected token_leeway_large warning")
	}
}

func TestLint_BlockingAudit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	if !containsCode(cfg.Lint().Codes(), "audit_blocking") {
		t.Error("expected audit_blocking warning")
	}
}

func TestLint_LatencyWithoutMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = true
	if !containsCode(cfg.Lint().Codes(), "latency_without_metrics") {
		t.Error("expected latency_without_metrics warning")
	}
}

func TestLint_SeverityAssignment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token.Enabled = true
	cfg.Session.TTL = time.Hour
	cfg.Token.AccessTTL = 2 * time.Hour
	for _, w := range cfg.Lint() {
		if w.Code == "token_ttl_exceeds_session" && w.Severity != LintHigh {
			t.Errorf("token_ttl_exceeds_session should be HIGH, got %s", w.Severity)
		}
	}
}

func TestLint_AsError(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Lint().AsError(LintHigh); err != nil {
		t.Errorf("default config should not fail AsError(LintHigh): %v", err)
	}

	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	if err := cfg.Lint().AsError(LintHigh); err == nil {
		t.Error("expected AsError(LintHigh) to return error for blocking audit config")
	}
}

func TestLint_BySeverity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.MaxSize = 1
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	ws := cfg.Lint()

	high := ws.BySeverity(LintHigh)
	if len(high) == 0 {
		t.Error("expected at least one HIGH severity warning")
	}
	for _, w := range high {
		if w.Severity < LintHigh {
			t.Errorf("BySeverity(LintHigh) returned warning with severity %s", w.Severity)
		}
	}
}

// helpers

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
