package session

import (
	"time"
)

// Record is the persisted state of one authenticated session: identity,
// network placement, lifecycle timestamps, and free-form metadata.
//
// AuthSecret and PhoneNumber hold plaintext in memory; [Codec] encrypts both
// before any write and [Store] decrypts them on read. Record instances are
// value snapshots — mutate a [Record.Clone], never a shared pointer.
type Record struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`

	// PhoneNumber and AuthSecret are stored encrypted ("nonceHex:cipherHex").
	PhoneNumber string `json:"phone_number,omitempty"`
	AuthSecret  string `json:"auth_secret,omitempty"`

	DCID          int    `json:"dc_id,omitempty"`
	ServerAddress string `json:"server_address,omitempty"`
	Port          int    `json:"port,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
	LastUsed  time.Time `json:"last_used,omitzero"`

	IsActive bool              `json:"is_active"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the record's expiry lies strictly before now.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// Clone returns a deep copy (the metadata map is not shared).
func (r *Record) Clone() *Record {
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
