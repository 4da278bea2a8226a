package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	tgmux "github.com/tgmux/tgmux"
	"github.com/tgmux/tgmux/mtproto"
)

const (
	guardPhone  = "+15550001111"
	guardCode   = "12345"
	guardUserID = 7001
)

// guardClient is a fixed-identity test double: one account, one valid code.
type guardClient struct {
	credential string
}

func (c *guardClient) Connect(ctx context.Context) error { return nil }
func (c *guardClient) Disconnect() error                 { return nil }
func (c *guardClient) Ping(ctx context.Context) error    { return nil }

func (c *guardClient) SendVerificationCode(ctx context.Context, phone string) (*mtproto.SentCode, error) {
	return &mtproto.SentCode{CodeHash: "hash:" + phone, Timeout: 60, DeliveryMethod: "app"}, nil
}

func (c *guardClient) SignIn(ctx context.Context, phone, codeHash, code string) (*mtproto.Authorization, error) {
	if code != guardCode {
		return nil, mtproto.ErrCodeInvalid
	}
	c.credential = "cred:" + phone
	return &mtproto.Authorization{
		User:       mtproto.User{ID: guardUserID, Phone: phone},
		Credential: c.credential,
	}, nil
}

func (c *guardClient) CheckPassword(ctx context.Context, password string) (*mtproto.Authorization, error) {
	return nil, mtproto.ErrNotAuthorized
}

func (c *guardClient) CurrentUser(ctx context.Context) (*mtproto.User, error) {
	if c.credential == "" {
		return nil, mtproto.ErrNotAuthorized
	}
	return &mtproto.User{ID: guardUserID, Phone: guardPhone}, nil
}

func (c *guardClient) ExportCredential() (string, error) { return c.credential, nil }

func (c *guardClient) ImportCredential(credential string) error {
	c.credential = credential
	return nil
}

func (c *guardClient) DCInfo() mtproto.DC {
	return mtproto.DC{ID: 2, Address: "149.154.167.51", Port: 443}
}

func newGuardGateway(t *testing.T, sink tgmux.AuditSink, mutate func(*tgmux.Config)) (*tgmux.Gateway, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := tgmux.DefaultConfig()
	cfg.Crypto.EncryptionKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Pool.MinSize = 0
	cfg.Pool.MaxSize = 2
	cfg.Pool.AcquireTimeout = 250 * time.Millisecond
	cfg.Pool.MaintenanceInterval = 0
	cfg.Session.TTL = time.Hour
	cfg.Token.Enabled = true
	cfg.Token.SigningKey = []byte("guard-test-signing-key-32-bytes!")
	cfg.Token.Issuer = "tgmux-test"
	if sink != nil {
		cfg.Audit.Enabled = true
	}
	if mutate != nil {
		mutate(&cfg)
	}

	b := tgmux.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithClientFactory(func(ctx context.Context) (mtproto.Client, error) {
			return &guardClient{}, nil
		})
	if sink != nil {
		b = b.WithAuditSink(sink)
	}

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	done := func() {
		_ = g.Close()
		_ = rdb.Close()
		mr.Close()
	}
	return g, done
}

// signIn runs the full code flow and returns the session ID and bearer token.
func signIn(t *testing.T, g *tgmux.Gateway) (string, string) {
	t.Helper()

	ctx := context.Background()
	sent, err := g.StartAuthFlow(ctx, guardPhone)
	if err != nil {
		t.Fatalf("StartAuthFlow failed: %v", err)
	}
	result := g.CompleteAuth(ctx, guardPhone, guardCode, sent.CodeHash)
	if !result.Success {
		t.Fatalf("CompleteAuth failed: %v", result.Err)
	}
	if result.Token == "" {
		t.Fatal("CompleteAuth returned empty token with tokens enabled")
	}
	return result.SessionID, result.Token
}

// guardedRequest sends one request through the middleware and reports the
// status code plus the principal the inner handler observed (nil if the
// handler never ran).
func guardedRequest(handler func(http.Handler) http.Handler, authorization, remoteAddr string) (int, *Principal) {
	var principal *Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rec := httptest.NewRecorder()
	handler(inner).ServeHTTP(rec, req)
	return rec.Code, principal
}

func TestGuardRejectsMissingOrMalformedToken(t *testing.T) {
	g, done := newGuardGateway(t, nil, nil)
	defer done()

	guard := RequireToken(g)
	cases := []struct {
		name          string
		authorization string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"bare scheme", "Bearer"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not.a.token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, principal := guardedRequest(guard, tc.authorization, "")
			if code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", code, http.StatusUnauthorized)
			}
			if principal != nil {
				t.Fatal("inner handler ran for a rejected request")
			}
		})
	}
}

func TestGuardWithoutTokenManagerRejects(t *testing.T) {
	code, principal := guardedRequest(Guard(nil, ModeToken), "Bearer anything", "")
	if code != http.StatusUnauthorized {
		t.Fatalf("nil gateway: status = %d, want %d", code, http.StatusUnauthorized)
	}
	if principal != nil {
		t.Fatal("inner handler ran with a nil gateway")
	}

	g, done := newGuardGateway(t, nil, func(cfg *tgmux.Config) {
		cfg.Token.Enabled = false
		cfg.Token.SigningKey = nil
	})
	defer done()

	code, principal = guardedRequest(RequireToken(g), "Bearer anything", "")
	if code != http.StatusUnauthorized {
		t.Fatalf("tokenless gateway: status = %d, want %d", code, http.StatusUnauthorized)
	}
	if principal != nil {
		t.Fatal("inner handler ran without a token manager")
	}
}

func TestRequireTokenAcceptsIssuedToken(t *testing.T) {
	g, done := newGuardGateway(t, nil, nil)
	defer done()

	sessionID, bearer := signIn(t, g)

	code, principal := guardedRequest(RequireToken(g), "Bearer "+bearer, "")
	if code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", code, http.StatusNoContent)
	}
	if principal == nil {
		t.Fatal("principal missing from request context")
	}
	if principal.SessionID != sessionID {
		t.Fatalf("principal.SessionID = %q, want %q", principal.SessionID, sessionID)
	}
	if principal.UserID != "7001" {
		t.Fatalf("principal.UserID = %q, want %q", principal.UserID, "7001")
	}
	if principal.DC != 2 {
		t.Fatalf("principal.DC = %d, want 2", principal.DC)
	}
	if principal.Session != nil {
		t.Fatal("token-only mode populated the session record")
	}

	// Token mode never consults the store, so a revoked session keeps
	// passing until the token expires.
	if _, err := g.RevokeSession(context.Background(), sessionID); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	code, _ = guardedRequest(RequireToken(g), "Bearer "+bearer, "")
	if code != http.StatusNoContent {
		t.Fatalf("status after revoke = %d, want %d", code, http.StatusNoContent)
	}
}

func TestRequireSessionValidatesAgainstStore(t *testing.T) {
	g, done := newGuardGateway(t, nil, nil)
	defer done()

	sessionID, bearer := signIn(t, g)

	code, principal := guardedRequest(RequireSession(g), "Bearer "+bearer, "")
	if code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", code, http.StatusNoContent)
	}
	if principal == nil {
		t.Fatal("principal missing from request context")
	}
	if principal.Session == nil {
		t.Fatal("session mode left the session record unset")
	}
	if principal.Session.ID != sessionID {
		t.Fatalf("principal.Session.ID = %q, want %q", principal.Session.ID, sessionID)
	}
	if principal.UserID != principal.Session.UserID {
		t.Fatalf("principal.UserID = %q, want record's %q", principal.UserID, principal.Session.UserID)
	}

	if _, err := g.RevokeSession(context.Background(), sessionID); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	code, principal = guardedRequest(RequireSession(g), "Bearer "+bearer, "")
	if code != http.StatusUnauthorized {
		t.Fatalf("status after revoke = %d, want %d", code, http.StatusUnauthorized)
	}
	if principal != nil {
		t.Fatal("inner handler ran for a revoked session")
	}
}

func TestGuardStampsClientIPForAudit(t *testing.T) {
	sink := tgmux.NewChannelSink(64)
	g, done := newGuardGateway(t, sink, nil)

	_, bearer := signIn(t, g)

	code, _ := guardedRequest(RequireSession(g), "Bearer "+bearer, "203.0.113.7:4411")
	if code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", code, http.StatusNoContent)
	}

	done()

	validatedIP := ""
	for {
		select {
		case event := <-sink.Events():
			if event.EventType == "session_validated" {
				validatedIP = event.IP
			}
			continue
		default:
		}
		break
	}
	if validatedIP != "203.0.113.7" {
		t.Fatalf("session_validated IP = %q, want %q", validatedIP, "203.0.113.7")
	}
}
