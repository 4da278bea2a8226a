// Package session provides encrypted, TTL-governed persistence for session
// records along with the per-user secondary index.
//
// # At-rest encryption
//
// The two sensitive record fields (auth secret, phone number) are encrypted
// independently by [Codec] before every write — AES-GCM with a fresh random
// nonce per call, stored as "nonceHex:cipherHex". Plaintext for those fields
// never reaches the backing store.
//
// # Key layout
//
// One record per session at "session:<id>", one set per user at
// "user:sessions:<userID>" holding session ids, both behind an optional
// configured prefix. The record write and the index update run in a single
// MULTI/EXEC pipeline; deletion removes record and index membership through
// one Lua script.
//
// # Architecture boundaries
//
// This package owns persistence and field encryption. It does NOT decide
// whether a session is usable — expiry and activity checks belong to the
// gateway, which is also why reads return expired records (the expiry sweep
// must be able to see them).
//
// # What this package must NOT do
//
//   - Import tgmux, pool, or mtproto (no upward imports).
//   - Log or persist encryption keys or decrypted field values.
//   - Filter records by expiry on read.
package session
