package tgmux

import (
	"errors"

	"github.com/tgmux/tgmux/pool"
	"github.com/tgmux/tgmux/session"
)

var (
	// ErrSessionNotFound is returned when a session id resolves to no stored record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a stored record exists but its expiry has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionInactive is returned for provisional or deactivated sessions.
	ErrSessionInactive = errors.New("session not active")
	// ErrAuthenticationFailed is returned when the remote network rejects a
	// sign-in step (wrong code, wrong password, identity mismatch).
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrInvalidPhone is returned when an auth flow is started with an empty
	// or malformed phone number.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrGatewayClosed is returned by every operation after Shutdown.
	ErrGatewayClosed = errors.New("gateway closed")
)

// Sub-package sentinels re-exported so callers can match the full error
// taxonomy while importing only this package.
var (
	// ErrAcquireTimeout reports a waiter that exceeded its acquire deadline.
	ErrAcquireTimeout = pool.ErrAcquireTimeout
	// ErrPoolShuttingDown reports an acquire issued against a stopped pool.
	ErrPoolShuttingDown = pool.ErrShuttingDown
	// ErrConnection reports a connection dial or handshake failure.
	ErrConnection = pool.ErrConnection
	// ErrStoreUnavailable reports a failed round trip to the key-value store.
	ErrStoreUnavailable = session.ErrUnavailable
)
