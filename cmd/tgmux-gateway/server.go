package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	tgmux "github.com/tgmux/tgmux"
	"github.com/tgmux/tgmux/audit/export/kafka"
	"github.com/tgmux/tgmux/metrics/export/prometheus"
	"github.com/tgmux/tgmux/middleware"
	"github.com/tgmux/tgmux/mtproto"
	"github.com/tgmux/tgmux/session"
)

// buildGateway wires the redis backend, network dialer, audit sink, and
// HTTP handler tree from the loaded configuration. The returned cleanup
// releases everything the build opened except the gateway itself, which
// run() shuts down explicitly.
func buildGateway(cfg *appConfig) (*tgmux.Gateway, http.Handler, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	redisAddr := cfg.Redis.Address
	if cfg.Dev {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		closers = append(closers, mr.Close)
		redisAddr = mr.Addr()
		log.Info().Str("addr", redisAddr).Msg("dev mode: using miniredis")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{redisAddr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	closers = append(closers, func() { _ = client.Close() })

	key, err := encryptionKey(cfg)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	gcfg := tgmux.DefaultConfig()
	gcfg.Pool.MinSize = cfg.Pool.MinSize
	gcfg.Pool.MaxSize = cfg.Pool.MaxSize
	gcfg.Pool.AcquireTimeout = cfg.Pool.AcquireTimeout
	gcfg.Pool.IdleTimeout = cfg.Pool.IdleTimeout
	gcfg.Pool.MaintenanceInterval = cfg.Pool.MaintenanceInterval
	gcfg.Session.TTL = cfg.Session.TTL
	gcfg.Session.PendingAuthTTL = cfg.Session.PendingAuthTTL
	gcfg.Session.RedisPrefix = cfg.Redis.Prefix
	gcfg.Crypto.EncryptionKey = key
	gcfg.Metrics.Enabled = cfg.Metrics.Enabled
	gcfg.Metrics.EnableLatencyHistograms = cfg.Metrics.Histograms

	if cfg.Token.Enabled {
		secret := cfg.Token.Secret
		if secret == "" {
			if !cfg.Dev {
				cleanup()
				return nil, nil, nil, errors.New("token.secret required outside dev mode")
			}
			secret = randomHex(32)
			log.Warn().Msg("dev mode: generated ephemeral token secret")
		}
		gcfg.Token.Enabled = true
		gcfg.Token.SigningMethod = cfg.Token.Method
		gcfg.Token.SigningKey = []byte(secret)
		gcfg.Token.Issuer = cfg.Token.Issuer
		gcfg.Token.AccessTTL = cfg.Token.TTL
	}

	sink, err := buildAuditSink(cfg)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	gcfg.Audit.Enabled = sink != nil

	warnings := gcfg.Lint()
	for _, w := range warnings {
		log.Warn().Str("code", w.Code).Str("severity", w.Severity.String()).Msg(w.Message)
	}
	if err := warnings.AsError(tgmux.LintHigh); err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	builder := tgmux.New().
		WithConfig(gcfg).
		WithRedis(client).
		WithClientFactory(devFactory())
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}

	// The dialer is simulated in every mode; a production deployment plugs
	// its MTProto client library in via WithClientFactory.
	log.Info().Msg("network: simulated dialer (code 12345, 2FA password \"tgmux\" for phones ending 00)")

	gateway, err := builder.Build()
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("build gateway: %w", err)
	}

	return gateway, newRouter(gateway), cleanup, nil
}

func encryptionKey(cfg *appConfig) ([]byte, error) {
	if cfg.Crypto.KeyHex == "" {
		if !cfg.Dev {
			return nil, errors.New("crypto.keyhex required outside dev mode")
		}
		log.Warn().Msg("dev mode: generated ephemeral encryption key")
		return randomBytes(32), nil
	}
	key, err := hex.DecodeString(cfg.Crypto.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode crypto.keyhex: %w", err)
	}
	return key, nil
}

func buildAuditSink(cfg *appConfig) (tgmux.AuditSink, error) {
	switch cfg.Audit.Sink {
	case "", "none":
		return nil, nil
	case "stdout":
		return tgmux.NewJSONWriterSink(os.Stdout), nil
	case "kafka":
		sink, err := kafka.New(kafka.Config{
			Brokers:  cfg.Audit.Brokers,
			Topic:    cfg.Audit.Topic,
			ClientID: "tgmux-gateway",
		})
		if err != nil {
			return nil, fmt.Errorf("build kafka sink: %w", err)
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown audit sink %q", cfg.Audit.Sink)
	}
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func randomHex(n int) string {
	return hex.EncodeToString(randomBytes(n))
}

/*
====================================
HTTP SURFACE
====================================
*/

func newRouter(gateway *tgmux.Gateway) http.Handler {
	requireToken := middleware.RequireToken(gateway)
	requireSession := middleware.RequireSession(gateway)
	metricsHandler := prometheus.NewPrometheusExporter(gateway).Handler()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/start", handleAuthStart(gateway))
	mux.HandleFunc("POST /auth/complete", handleAuthComplete(gateway))
	mux.HandleFunc("POST /auth/password", handleAuthPassword(gateway))

	mux.Handle("GET /me", requireToken(http.HandlerFunc(handleMe(gateway))))
	mux.Handle("GET /session", requireSession(http.HandlerFunc(handleSession())))
	mux.Handle("GET /sessions", requireSession(http.HandlerFunc(handleSessions(gateway))))
	mux.Handle("POST /session/refresh", requireToken(http.HandlerFunc(handleRefresh(gateway))))
	mux.Handle("POST /logout", requireToken(http.HandlerFunc(handleLogout(gateway))))

	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", handleHealthz(gateway))
	mux.HandleFunc("GET /debug/report", handleReport(gateway))
	mux.HandleFunc("GET /debug/pool", handlePool(gateway))
	return mux
}

type authStartRequest struct {
	Phone string `json:"phone"`
}

type authCompleteRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	CodeHash string `json:"code_hash"`
}

type authPasswordRequest struct {
	SessionID string `json:"session_id"`
	Password  string `json:"password"`
}

type authResponse struct {
	Success          bool   `json:"success"`
	RequiresPassword bool   `json:"requires_password,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	UserID           string `json:"user_id,omitempty"`
	Token            string `json:"token,omitempty"`
}

type sessionView struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	DC        int               `json:"dc,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	LastUsed  time.Time         `json:"last_used,omitzero"`
	IsActive  bool              `json:"is_active"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// viewOf projects a session record onto the wire shape. The auth secret
// never leaves the store layer.
func viewOf(rec *session.Record) sessionView {
	return sessionView{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Phone:     rec.PhoneNumber,
		DC:        rec.DCID,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		LastUsed:  rec.LastUsed,
		IsActive:  rec.IsActive,
		Metadata:  rec.Metadata,
	}
}

func handleAuthStart(gateway *tgmux.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authStartRequest
		if !readJSON(w, r, &req) {
			return
		}
		sent, err := gateway.StartAuthFlow(withIP(r), req.Phone)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"code_hash":       sent.CodeHash,
			"timeout":         sent.Timeout,
			"delivery_method": sent.DeliveryMethod,
		})
	}
}

func handleAuthComplete(gateway *tgmux.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authCompleteRequest
		if !readJSON(w, r, &req) {
			return
		}
		result := gateway.CompleteAuth(withIP(r), req.Phone, req.Code, req.CodeHash)
		writeAuthResult(w, result)
	}
}

func handleAuthPassword(gateway *tgmux.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authPasswordRequest
		if !readJSON(w, r, &req) {
			return
		}
		result := gateway.Complete2FAAuth(withIP(r), req.SessionID, req.Password)
		writeAuthResult(w, result)
	}
}

func writeAuthResult(w http.ResponseWriter, result *tgmux.AuthResult) {
	if result.Err != nil && !result.RequiresPassword {
		writeError(w, result.Err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Success:          result.Success,
		RequiresPassword: result.RequiresPassword,
		SessionID:        result.SessionID,
		UserID:           result.UserID,
		Token:            result.Token,
	})
}

// handleMe runs a live identity fetch over the caller's pooled connection.
func handleMe(gateway *tgmux.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, tgmux.ErrAuthenticationFailed)
			return
		}
		var user *mtproto.User
		err := gateway.ExecuteWithSession(r.Context(), principal.SessionID, tgmux.ExecOptions{},
			func(ctx context.Context, client mtproto.Client) error {
				var err error
				user, err = client.CurrentUser(ctx)
				return err
			})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"phone":    user.Phone,
		})
	}
}

func handleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok || principal.Session == nil {
			writeError(w, tgmux.ErrSessionNotFound)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(principal.Session))
	}
}

func handleSessions(gateway *tgmux.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, tgmux.ErrAuthenticationFailed)
			return
		}
		records, err := gateway.ListUserSessions(r.Context(), principal.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		views := make([]sessionView, 0, len(records))
		for _, rec := range records {
			views = append(views, viewOf(rec))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

type refreshRequest struct {
	TTL string `json:"ttl,omitempty"`
}

func handleRefresh(gateway *tgmux.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, tgmux.ErrAuthenticationFailed)
			return
		}
		var req refreshRequest
		if !readJSON(w, r, &req) {
			return
		}
		var ttl time.Duration
		if req.TTL != "" {
			parsed, err := time.ParseDuration(req.TTL)
			if err != nil {
				http.Error(w, "invalid ttl", http.StatusBadRequest)
				return
			}
			ttl = parsed
		}
		refreshed, err := gateway.RefreshSession(r.Context(), principal.SessionID, ttl)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"refreshed": refreshed})
	}
}

func handleLogout(gateway *tgmux.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, tgmux.ErrAuthenticationFailed)
			return
		}
		revoked, err := gateway.RevokeSession(r.Context(), principal.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
	}
}

func handleHealthz(gateway *tgmux.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latency, err := gateway.Ping(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":        "ok",
			"store_latency": latency.String(),
		})
	}
}

func handleReport(gateway *tgmux.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gateway.Report())
	}
}

func handlePool(gateway *tgmux.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gateway.PoolDetailedStats())
	}
}

/*
====================================
HELPERS
====================================
*/

func withIP(r *http.Request) context.Context {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return tgmux.WithClientIP(r.Context(), host)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tgmux.ErrInvalidPhone):
		status = http.StatusBadRequest
	case errors.Is(err, tgmux.ErrAuthenticationFailed):
		status = http.StatusUnauthorized
	case errors.Is(err, tgmux.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tgmux.ErrSessionExpired), errors.Is(err, tgmux.ErrSessionInactive):
		status = http.StatusUnauthorized
	case errors.Is(err, tgmux.ErrAcquireTimeout),
		errors.Is(err, tgmux.ErrStoreUnavailable),
		errors.Is(err, tgmux.ErrGatewayClosed),
		errors.Is(err, tgmux.ErrPoolShuttingDown):
		status = http.StatusServiceUnavailable
	}

	var rpcErr *mtproto.RPCError
	if errors.As(err, &rpcErr) {
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
