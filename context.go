package tgmux

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The gateway copies
// it into audit events so operators can trace which frontend drove an
// authentication or session operation.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
