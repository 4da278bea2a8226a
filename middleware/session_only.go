package middleware

import (
	"net/http"

	tgmux "github.com/tgmux/tgmux"
)

func RequireSession(gateway *tgmux.Gateway) func(http.Handler) http.Handler {
	return Guard(gateway, ModeSession)
}
