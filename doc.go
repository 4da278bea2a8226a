// Package tgmux multiplexes many authenticated end-user sessions onto a
// bounded pool of long-lived connections to an MTProto-style messaging
// network. It owns the authentication state machine (verification code,
// sign-in, optional second-factor password), encrypted TTL-governed session
// persistence, and the validate/acquire/run/persist/release execution
// pattern every session-scoped operation follows.
//
// A [Gateway] is assembled once through [Builder.Build] and is safe for
// concurrent use from then on. Construction is allocation-only; connections
// are dialed on demand and kept warm by the pool's maintenance loop.
//
// # Architecture boundaries
//
// tgmux is the public surface: [Gateway], [Builder], [Config], result
// types, and re-exported audit sinks. The connection pool, session store,
// network client contract, audit dispatch, and token signing live in
// sub-packages (pool, session, mtproto, audit, token) that never import
// this package.
//
// # What this package must NOT do
//
//   - Speak the network wire format. The remote protocol is reached only
//     through the [mtproto.Client] interface a caller-supplied factory
//     produces.
//   - Expose pool slots or raw store payloads. Callers see connection
//     handles during an operation and decrypted session records, nothing
//     else.
//   - Log credentials, phone numbers, or encryption keys. Audit events
//     carry masked phone numbers and low-cardinality error codes.
package tgmux
