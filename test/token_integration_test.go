//go:build integration
// +build integration

package test

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/tgmux/tgmux/token"
)

func TestTokenIntegrationHardeningChecks(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	manager, err := token.NewManager(token.Config{
		AccessTTL:     time.Minute,
		SigningMethod: token.MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "tgmux",
		Audience:      "edge",
		Leeway:        30 * time.Second,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub},
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	access, err := manager.Issue("s1", "u1", 2)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := manager.Parse(access)
	if err != nil {
		t.Fatalf("Parse valid token failed: %v", err)
	}
	if claims.SID != "s1" || claims.UID != "u1" || claims.DC != 2 {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	badClaims := token.Claims{
		SID: "s1",
		UID: "u1",
		RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    "tgmux",
			Audience:  gjwt.ClaimStrings{"edge"},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		},
	}

	badToken := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, badClaims)
	badToken.Header["kid"] = "unknown"
	signedBad, err := badToken.SignedString(priv)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	if _, err := manager.Parse(signedBad); err == nil {
		t.Fatal("expected unknown kid token to fail")
	}
}
