package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when the backing store cannot be reached or a
// command fails. The underlying cause is attached as text.
var ErrUnavailable = errors.New("session: store unavailable")

// ErrNotFound is returned by operations that require an existing record
// (Update, UpdateMetadata) when the id resolves to nothing.
var ErrNotFound = errors.New("session: record not found")

// ErrCorruptRecord is returned when a stored payload does not decode or its
// encrypted fields fail authentication.
var ErrCorruptRecord = errors.New("session: corrupt record")

const (
	recordKeyPrefix = "session:"
	userIndexPrefix = "user:sessions:"

	scanBatchSize = 256
)

// deleteRecordScript removes a record and its user-index membership in one
// atomic step. The index SREM runs even when the record already expired so a
// stale member cannot outlive its record, and is skipped when the user id is
// unknown (ARGV[2] empty).
const deleteRecordScript = `
local existed = redis.call("EXISTS", KEYS[1])
if ARGV[2] ~= "" then
  redis.call("SREM", KEYS[2], ARGV[1])
end
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteRecordLua = redis.NewScript(deleteRecordScript)

// Store persists encrypted session records with per-record TTLs and keeps
// the per-user session index in step with the records.
type Store struct {
	rdb    redis.UniversalClient
	codec  *Codec
	prefix string
}

// NewStore creates a [Store] over the given client. prefix namespaces every
// key and is usually empty; codec must be non-nil — records are never
// written unencrypted.
func NewStore(rdb redis.UniversalClient, codec *Codec, prefix string) *Store {
	return &Store{
		rdb:    rdb,
		codec:  codec,
		prefix: prefix,
	}
}

func (s *Store) recordKey(id string) string {
	return s.prefix + recordKeyPrefix + id
}

func (s *Store) userKey(userID string) string {
	return s.prefix + userIndexPrefix + userID
}

// Create fills the record's defaults, persists it, and returns the stored
// copy: a generated id when absent, CreatedAt/UpdatedAt now, ExpiresAt
// CreatedAt+ttl when unset, and IsActive true. The input record is not
// mutated.
func (s *Store) Create(ctx context.Context, rec *Record, ttl time.Duration) (*Record, error) {
	cp := rec.Clone()
	now := time.Now().UTC()

	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.ExpiresAt.IsZero() {
		if ttl <= 0 {
			return nil, errors.New("session: create: ttl required when expiry unset")
		}
		cp.ExpiresAt = cp.CreatedAt.Add(ttl)
	}
	if !cp.ExpiresAt.After(cp.CreatedAt) {
		return nil, errors.New("session: create: expiry not after creation")
	}
	cp.IsActive = true

	if err := s.Save(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Save writes the record and its user-index membership in one MULTI/EXEC
// pipeline. Both stores see either the full write or none of it. The key
// TTL is derived from ExpiresAt, floored to whole seconds, never below one
// second.
//
//	Performance: 1 round trip (SET + SADD pipelined).
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return errors.New("session: save: record id required")
	}

	sealed, err := s.codec.sealRecord(rec)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}

	ttl := recordTTL(rec.ExpiresAt, time.Now())
	recordKey := s.recordKey(rec.ID)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey, payload, ttl)
		if rec.UserID != "" {
			pipe.SAdd(ctx, s.userKey(rec.UserID), rec.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get fetches and decrypts a record. A missing id returns (nil, nil) — not
// an error. Expired-but-present records are returned as-is; usability
// checks are the caller's concern.
//
//	Performance: 1 Redis GET.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.decodeRecord(data)
}

// Update loads the record, applies mutate to a private copy, bumps
// UpdatedAt, and persists the result. Returns [ErrNotFound] when the id
// resolves to nothing.
func (s *Store) Update(ctx context.Context, id string, mutate func(*Record)) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	mutate(rec)
	rec.ID = id
	rec.UpdatedAt = time.Now().UTC()

	if err := s.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateMetadata shallow-merges updates into the record's metadata map and
// bumps LastUsed. Existing keys not named in updates survive.
func (s *Store) UpdateMetadata(ctx context.Context, id string, updates map[string]string) (*Record, error) {
	return s.Update(ctx, id, func(rec *Record) {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string, len(updates))
		}
		for k, v := range updates {
			rec.Metadata[k] = v
		}
		rec.LastUsed = time.Now().UTC()
	})
}

// Delete removes the record and its user-index membership atomically and
// reports whether a record was actually deleted. Deleting an absent id is
// not an error.
//
//	Performance: 1 GET + 1 Lua EVALSHA.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	data, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Only the user id is needed to name the index key; a corrupt payload
	// still gets deleted, just without index repair.
	var stored Record
	userID := ""
	if jsonErr := json.Unmarshal(data, &stored); jsonErr == nil {
		userID = stored.UserID
	}

	res, err := deleteRecordLua.Run(ctx, s.rdb,
		[]string{s.recordKey(id), s.userKey(userID)},
		id, userID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res == 1, nil
}

// Extend pushes the record's expiry to now+ttl and re-persists it, which
// also refreshes the key TTL. Returns (false, nil) when the id resolves to
// nothing.
func (s *Store) Extend(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	now := time.Now().UTC()
	rec.ExpiresAt = now.Add(ttl)
	rec.UpdatedAt = now

	if err := s.Save(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// ListForUser returns every live record indexed for the user. Index members
// whose record has expired away are removed from the set as a side effect,
// so the index converges back to truth on read.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Record, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	records := make([]*Record, 0, len(ids))
	var stale []interface{}
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			stale = append(stale, id)
			continue
		}
		records = append(records, rec)
	}

	if len(stale) > 0 {
		// Best effort: a failed repair just means the next read repairs.
		s.rdb.SRem(ctx, s.userKey(userID), stale...)
	}
	return records, nil
}

// ListAll walks every record key with SCAN and returns the decoded records,
// expired-but-present ones included — the expiry sweep depends on seeing
// them. Payloads that no longer decode are skipped and left for TTL
// reaping.
//
//	Performance: O(records); never use on a request hot path.
func (s *Store) ListAll(ctx context.Context) ([]*Record, error) {
	var records []*Record

	iter := s.rdb.Scan(ctx, 0, s.prefix+recordKeyPrefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		rec, err := s.decodeRecord(data)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return records, nil
}

// Ping returns a point-in-time store availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := s.codec.openRecord(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &rec, nil
}

// recordTTL converts an absolute expiry into the key TTL: whole seconds,
// floored, never below one second so a write can never silently skip
// expiry.
func recordTTL(expiresAt, now time.Time) time.Duration {
	secs := int64(expiresAt.Sub(now) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
