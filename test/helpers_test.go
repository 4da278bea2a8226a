//go:build integration
// +build integration

package test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/tgmux/tgmux/session"
)

// integrationKeyspace namespaces every key the suite writes so runs against a
// shared Redis instance cannot collide with application data.
const integrationKeyspace = "tgmux-test:"

// integrationCipherKey is the AES-256 key used for every store in the suite.
var integrationCipherKey = []byte("0123456789abcdef0123456789abcdef")

func newIntegrationStore(t *testing.T) (*session.Store, *redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storeOver(t, rdb)

	return store, rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

// storeOver builds a Store on an already-connected client. The compat suite
// uses it to run the same assertions against every Redis backend.
func storeOver(t *testing.T, rdb redis.UniversalClient) *session.Store {
	t.Helper()

	codec, err := session.NewCodec(integrationCipherKey)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return session.NewStore(rdb, codec, integrationKeyspace)
}

func makeRecord(userID, sessionID string) *session.Record {
	now := time.Now().UTC()

	return &session.Record{
		ID:            sessionID,
		UserID:        userID,
		PhoneNumber:   "+15550001111",
		AuthSecret:    "cred:" + userID,
		DCID:          2,
		ServerAddress: "149.154.167.51",
		Port:          443,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
		IsActive:      true,
	}
}
