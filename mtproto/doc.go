// Package mtproto defines the remote-network collaborator surface consumed by the
// gateway and the connection pool, plus the retry layer applied to it.
//
// # Components
//
//   - [Client] — the opaque remote procedure surface of one live connection to the
//     messaging network (send code, sign in, password check, identity lookup,
//     credential import/export).
//   - [Factory] — constructs unconnected clients; supplied by the embedding
//     application, wrapped by the pool.
//   - [Reliable] — decorates a Client with the uniform retry/backoff policy and
//     reconnect-before-retry behavior.
//
// # Architecture boundaries
//
// This package does NOT implement the network's wire protocol. A production
// integration supplies a Factory backed by a real protocol client; tests and the
// dev-mode daemon supply simulators. Everything above this package treats the
// connection as a remote procedure handle and nothing more.
//
// # What this package must NOT do
//
//   - Import tgmux, pool, or session (no upward imports).
//   - Persist credentials — export/import strings are handled by callers.
package mtproto
