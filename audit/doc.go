// Package audit implements async event dispatching for session and
// connection lifecycle operations.
//
// # Components
//
//   - [Sink] — interface for event consumers (channel, JSON writer, fan-out, no-op).
//   - [Dispatcher] — buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event] — structured record with timestamp, type, session, user, DC, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide
// which events to emit or what goes into them — that responsibility belongs
// to the gateway. In particular, callers mask phone numbers before emitting;
// sinks never see full ones.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import tgmux or any sibling package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
