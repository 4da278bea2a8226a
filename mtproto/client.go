package mtproto

import "context"

// DC identifies the datacenter a connection is homed on. The values are
// recorded on session records so a restored session can be routed back to
// the same datacenter.
type DC struct {
	ID      int
	Address string
	Port    int
}

// SentCode is the result of requesting a verification code for a phone
// number. CodeHash must be echoed back on sign-in; Timeout is the number of
// seconds the code stays valid; DeliveryMethod names the channel the network
// chose (app, sms, call).
type SentCode struct {
	CodeHash       string
	Timeout        int
	DeliveryMethod string
}

// User is the remote network's view of an authenticated account.
type User struct {
	ID       int64
	Username string
	Phone    string
}

// Authorization is returned by the sign-in and password-check calls: the
// authenticated identity plus the serialized credential that the session
// store persists (encrypted) as the session's auth secret.
type Authorization struct {
	User       User
	Credential string
}

// Client is one live connection to the messaging network. Implementations
// are NOT required to be safe for concurrent use; the pool guarantees a slot
// is held by at most one caller at a time.
//
// Methods returning an error may return the sentinels and [RPCError] values
// declared in this package; the retry layer classifies them via
// [IsTransient].
type Client interface {
	// Connect establishes the underlying transport. Calling Connect on an
	// already-connected client is a no-op.
	Connect(ctx context.Context) error

	// Disconnect tears the transport down. Safe to call repeatedly.
	Disconnect() error

	// Ping verifies the transport is alive.
	Ping(ctx context.Context) error

	// SendVerificationCode asks the network to deliver a login code to the
	// given phone number.
	SendVerificationCode(ctx context.Context, phone string) (*SentCode, error)

	// SignIn submits the code the user received. Accounts protected by a
	// second factor fail with [ErrPasswordNeeded]; the caller must follow up
	// with CheckPassword on the same authorization context.
	SignIn(ctx context.Context, phone, codeHash, code string) (*Authorization, error)

	// CheckPassword completes two-step verification.
	CheckPassword(ctx context.Context, password string) (*Authorization, error)

	// CurrentUser returns the identity the connection is authorized as.
	CurrentUser(ctx context.Context) (*User, error)

	// ExportCredential serializes the connection's authorization material
	// into an opaque string. The result is what session records persist.
	ExportCredential() (string, error)

	// ImportCredential restores previously exported authorization material
	// onto this connection, replacing whatever it carried before.
	ImportCredential(credential string) error

	// DCInfo reports the datacenter this connection is homed on.
	DCInfo() DC
}

// Factory constructs a new, unconnected Client. The pool calls Connect
// itself so that dial latency is attributed to the acquire that needed it.
type Factory func(ctx context.Context) (Client, error)
