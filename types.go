package tgmux

import (
	"context"
	"io"

	"github.com/tgmux/tgmux/audit"
	"github.com/tgmux/tgmux/mtproto"
	"github.com/tgmux/tgmux/session"
)

// CodeSent is returned by [Gateway.StartAuthFlow]. CodeHash must be echoed
// back to [Gateway.CompleteAuth] together with the code the user received.
type CodeSent struct {
	CodeHash       string
	Timeout        int
	DeliveryMethod string
}

// AuthResult is the structured outcome of [Gateway.CompleteAuth] and
// [Gateway.Complete2FAAuth]. Expected failures (wrong code, wrong password)
// land in Err rather than being returned as a Go error, so callers branch
// on the result instead of unwinding.
//
// When RequiresPassword is set the sign-in is parked on a second factor:
// SessionID names a provisional, inactive record that only
// [Gateway.Complete2FAAuth] can finish.
type AuthResult struct {
	Success          bool
	RequiresPassword bool
	SessionID        string
	UserID           string
	Token            string
	Err              error
}

// ValidationResult is returned by [Gateway.ValidateSession]. When Valid is
// false, Err carries the rejection reason; Session is only set on success.
type ValidationResult struct {
	Valid   bool
	Session *session.Record
	Err     error
}

// ExecOptions tunes a single [Gateway.ExecuteWithSession] call.
type ExecOptions struct {
	// Priority orders waiters when the pool is saturated. Larger is served
	// first; equal priorities are FIFO. Zero is the default.
	Priority int
}

// Operation is a caller-supplied closure run against an authorized
// connection. The client is only valid for the duration of the call.
type Operation func(ctx context.Context, client mtproto.Client) error

// AuditEvent is the structured audit record emitted by the gateway.
type AuditEvent = audit.Event

// AuditSink receives [AuditEvent] values from the gateway's dispatcher.
type AuditSink = audit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = audit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = audit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes line-delimited JSON events.
type JSONWriterSink = audit.JSONWriterSink

// MultiSink fans every event out to an ordered list of sinks.
type MultiSink = audit.MultiSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewMultiSink creates a [MultiSink] over the given sinks, skipping nils.
func NewMultiSink(sinks ...AuditSink) *MultiSink {
	return audit.NewMultiSink(sinks...)
}
