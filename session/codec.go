package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned when the codec key is not a valid AES key length.
var ErrInvalidKey = errors.New("session: encryption key must be 16, 24, or 32 bytes")

// ErrMalformedCiphertext is returned when an encrypted field does not parse
// as "nonceHex:cipherHex" or fails authentication.
var ErrMalformedCiphertext = errors.New("session: malformed encrypted field")

// cipherSep separates the hex nonce from the hex ciphertext. Decryption
// splits on the FIRST separator only, so ciphertext hex is free to contain
// anything the encoder emits.
const cipherSep = ":"

// Codec encrypts and decrypts individual record fields with AES-GCM.
//
// Every Encrypt call draws a fresh random nonce, so encrypting the same
// plaintext twice yields different outputs. The encoded form is
// "nonceHex:cipherHex" where cipherHex includes the GCM authentication tag.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a [Codec] from a raw AES key (16, 24, or 32 bytes —
// 32 for AES-256).
func NewCodec(key []byte) (*Codec, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("session: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("session: init gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh nonce and returns the encoded
// "nonceHex:cipherHex" form. The empty string is a valid plaintext.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("session: nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + cipherSep + hex.EncodeToString(sealed), nil
}

// Decrypt reverses [Codec.Encrypt]. Malformed input, wrong-length nonces,
// and authentication failures all surface as [ErrMalformedCiphertext].
func (c *Codec) Decrypt(encoded string) (string, error) {
	parts := strings.SplitN(encoded, cipherSep, 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: missing separator", ErrMalformedCiphertext)
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: nonce not hex", ErrMalformedCiphertext)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: nonce length %d", ErrMalformedCiphertext, len(nonce))
	}

	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext not hex", ErrMalformedCiphertext)
	}

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrMalformedCiphertext)
	}
	return string(plain), nil
}

// sealRecord returns a copy of rec with the sensitive fields encrypted.
// Empty fields stay empty — there is nothing to protect and keeping them
// empty preserves omitempty serialization.
func (c *Codec) sealRecord(rec *Record) (*Record, error) {
	cp := rec.Clone()
	if cp.AuthSecret != "" {
		enc, err := c.Encrypt(cp.AuthSecret)
		if err != nil {
			return nil, err
		}
		cp.AuthSecret = enc
	}
	if cp.PhoneNumber != "" {
		enc, err := c.Encrypt(cp.PhoneNumber)
		if err != nil {
			return nil, err
		}
		cp.PhoneNumber = enc
	}
	return cp, nil
}

// openRecord decrypts the sensitive fields of rec in place.
func (c *Codec) openRecord(rec *Record) error {
	if rec.AuthSecret != "" {
		plain, err := c.Decrypt(rec.AuthSecret)
		if err != nil {
			return err
		}
		rec.AuthSecret = plain
	}
	if rec.PhoneNumber != "" {
		plain, err := c.Decrypt(rec.PhoneNumber)
		if err != nil {
			return err
		}
		rec.PhoneNumber = plain
	}
	return nil
}
