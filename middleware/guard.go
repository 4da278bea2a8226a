package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	tgmux "github.com/tgmux/tgmux"
	"github.com/tgmux/tgmux/session"
)

// Mode selects how much verification a guarded route performs.
type Mode int

const (
	// ModeToken verifies the bearer token signature and claims only. No
	// store or pool round trip; revoked sessions pass until the token
	// expires.
	ModeToken Mode = iota
	// ModeSession verifies the token and then validates the named session
	// through the gateway, including the remote identity check.
	ModeSession
)

// Principal is the authenticated caller injected into the request context
// by [Guard]. Session is populated in [ModeSession] only.
type Principal struct {
	SessionID string
	UserID    string
	DC        int
	Session   *session.Record
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by [Guard], if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok
}

// Guard returns middleware that authenticates requests against the gateway.
// The Authorization header must carry a bearer token issued at sign-in;
// anything less resolves to 401 without touching the wrapped handler.
func Guard(gateway *tgmux.Gateway, mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gateway == nil || gateway.Tokens() == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := gateway.Tokens().Parse(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			principal := &Principal{
				SessionID: claims.SID,
				UserID:    claims.UID,
				DC:        claims.DC,
			}

			ctx := tgmux.WithClientIP(r.Context(), remoteIP(r))
			if mode == ModeSession {
				result := gateway.ValidateSession(ctx, claims.SID)
				if result.Err != nil || !result.Valid {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				principal.Session = result.Session
				if result.Session.UserID != "" {
					principal.UserID = result.Session.UserID
				}
			}

			ctx = context.WithValue(ctx, principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// remoteIP strips the port from RemoteAddr so audit events carry a clean
// address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
