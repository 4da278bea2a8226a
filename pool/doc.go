// Package pool maintains a bounded set of long-lived network connections and
// multiplexes many sessions onto it.
//
// # Components
//
//   - [Pool]: the connection set, its waiter queue, and the maintenance loop.
//   - [Conn]: an opaque handle to one acquired connection.
//   - [Stats] / [DetailedStats]: point-in-time pool observability.
//
// # Acquire resolution
//
// An Acquire resolves in strict order: a free connection already bound to
// the session, then any free connection (rebound), then a fresh dial while
// the pool is below its maximum, and finally a priority-ordered wait. Ties
// within a priority are FIFO. Releasing a connection keeps its session
// binding so a follow-up acquire for the same session lands on the same
// connection when it is still free.
//
// # Architecture boundaries
//
// The pool dials through an injected [mtproto.Factory] and never interprets
// what flows over a connection. Session records, expiry, and authentication
// belong to the gateway.
//
// # What this package must NOT do
//
//   - Import tgmux or session (no upward imports).
//   - Validate or refresh sessions.
//   - Hand one connection to two holders at once.
package pool
