// Package middleware exposes HTTP middleware adapters for token-only and
// full-session authorization enforcement built on top of gateway validation.
//
// # Guards
//
//   - [Guard] — enforcement with an explicit [Mode].
//   - [RequireToken] — stateless token verification, no store round trip.
//   - [RequireSession] — token plus live session validation.
//
// Each guard reads the Authorization header, resolves the bearer token to a
// session, and injects a [Principal] into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into gateway calls. It does NOT
// implement authentication itself; all decisions are delegated to the token
// manager and [tgmux.Gateway.ValidateSession].
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to the token manager).
//   - Access the session store (the gateway handles I/O).
//   - Make authorization decisions beyond pass/reject.
package middleware
