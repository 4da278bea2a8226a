package mtproto

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrPasswordNeeded is returned by SignIn when the account has two-step
	// verification enabled. It is a branch of the auth flow, not a failure.
	ErrPasswordNeeded = errors.New("mtproto: two-step verification password needed")
	// ErrCodeInvalid is returned when the submitted login code is wrong.
	ErrCodeInvalid = errors.New("mtproto: phone code invalid")
	// ErrCodeExpired is returned when the login code's validity window has passed.
	ErrCodeExpired = errors.New("mtproto: phone code expired")
	// ErrPasswordInvalid is returned when the two-step verification password is wrong.
	ErrPasswordInvalid = errors.New("mtproto: password invalid")
	// ErrNotAuthorized is returned when a call requires an authorization the
	// connection does not carry.
	ErrNotAuthorized = errors.New("mtproto: connection not authorized")
	// ErrConnectionDropped is returned when the transport died mid-call. The
	// retry layer reconnects before the next attempt.
	ErrConnectionDropped = errors.New("mtproto: connection dropped")
)

// RPCError is a typed error reported by the remote network, mirroring its
// numeric code plus machine-readable message (e.g. 420 FLOOD_WAIT_17).
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mtproto: rpc error %d: %s", e.Code, e.Message)
}

// FloodWait reports whether err is a flood-control RPC error and, if so, the
// server-requested pause.
func FloodWait(err error) (time.Duration, bool) {
	var rpc *RPCError
	if !errors.As(err, &rpc) || rpc.Code != 420 {
		return 0, false
	}
	idx := strings.LastIndexByte(rpc.Message, '_')
	if idx < 0 || idx == len(rpc.Message)-1 {
		return 0, true
	}
	secs, err2 := strconv.Atoi(rpc.Message[idx+1:])
	if err2 != nil || secs < 0 {
		return 0, true
	}
	return time.Duration(secs) * time.Second, true
}

// IsTransient classifies err for the retry policy: dropped/reset transports,
// timeouts, flood control, and server-internal RPC failures are retryable;
// authentication and validation failures are not. Classification is a pure
// function over error kinds — no message sniffing beyond the RPC code.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrPasswordNeeded),
		errors.Is(err, ErrCodeInvalid),
		errors.Is(err, ErrCodeExpired),
		errors.Is(err, ErrPasswordInvalid),
		errors.Is(err, ErrNotAuthorized):
		return false
	}
	if errors.Is(err, ErrConnectionDropped) {
		return true
	}

	var rpc *RPCError
	if errors.As(err, &rpc) {
		// 420 is flood control; 5xx-class codes are server-side faults.
		return rpc.Code == 420 || rpc.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
