package tgmux

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/tgmux/tgmux/mtproto"
)

func TestSecurityInvariantRevokedSessionCannotExecute(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	sessionID := authenticate(t, g, testPhone)

	if _, err := g.RevokeSession(context.Background(), sessionID); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}

	err := g.ExecuteWithSession(context.Background(), sessionID, ExecOptions{}, func(ctx context.Context, client mtproto.Client) error {
		t.Fatal("operation must not run on a revoked session")
		return nil
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if result := g.ValidateSession(context.Background(), sessionID); result.Valid {
		t.Fatal("revoked session must not validate")
	}
}

func TestSecurityInvariantParkedSessionCannotExecute(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "hunter2")
	g, _, done := newTestGateway(t, net, nil)
	defer done()

	sent, err := g.StartAuthFlow(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("StartAuthFlow failed: %v", err)
	}
	result := g.CompleteAuth(context.Background(), testPhone, testLoginCode, sent.CodeHash)
	if !result.RequiresPassword || result.SessionID == "" {
		t.Fatalf("expected parked sign-in, got %+v", result)
	}

	err = g.ExecuteWithSession(context.Background(), result.SessionID, ExecOptions{}, func(ctx context.Context, client mtproto.Client) error {
		t.Fatal("operation must not run before the second factor")
		return nil
	})
	if !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("expected ErrSessionInactive, got %v", err)
	}
}

func TestSecurityInvariantTokenCarriesNoSecrets(t *testing.T) {
	net := newFakeNet()
	net.addAccount(testPhone, 1001, "")
	g, _, done := newTestGateway(t, net, func(cfg *Config) {
		cfg.Token.Enabled = true
		cfg.Token.SigningKey = []byte(strings.Repeat("k", 32))
	})
	defer done()

	sent, err := g.StartAuthFlow(context.Background(), testPhone)
	if err != nil {
		t.Fatalf("StartAuthFlow failed: %v", err)
	}
	result := g.CompleteAuth(context.Background(), testPhone, testLoginCode, sent.CodeHash)
	if result.Err != nil || result.Token == "" {
		t.Fatalf("expected token on sign-in, got %+v", result)
	}

	parts := strings.Split(result.Token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", result.Token)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}

	if strings.Contains(string(payload), "cred:") {
		t.Error("token payload must not embed the exported credential")
	}
	if strings.Contains(string(payload), strings.TrimPrefix(testPhone, "+")) {
		t.Error("token payload must not embed the phone number")
	}
}
