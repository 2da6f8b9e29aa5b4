// Package crypto holds the symmetric primitives shared by the encryption
// engine: XChaCha20-Poly1305 AEAD and Shamir secret sharing, grounded
// directly on the teacher's own security primitives
// (synnergy-network/core/security.go's Encrypt/Decrypt pair) rather than
// hand-rolled stdlib crypto.
package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sealwallet/pdw-core/internal/pdwerr"
)

// KeySize is the symmetric content-key length (XChaCha20-Poly1305).
const KeySize = chacha20poly1305.KeySize

// NewContentKey generates a fresh random 32-byte symmetric key.
func NewContentKey() ([]byte, error) {
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, pdwerr.Wrap("crypto.NewContentKey", pdwerr.Internal, err)
	}
	return k, nil
}

// Seal encrypts plaintext with key under aad, returning nonce||ciphertext||tag
// (the same wire shape the teacher's core.Encrypt produces).
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, pdwerr.New("crypto.Seal", pdwerr.InvalidInput, "key must be 32 bytes")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, pdwerr.Wrap("crypto.Seal", pdwerr.Internal, err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, pdwerr.Wrap("crypto.Seal", pdwerr.Internal, err)
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, ct...), nil
}

// Open verifies and decrypts a blob produced by Seal. An AAD or tag
// mismatch surfaces as Tampered per spec §4.5.
func Open(key, blob, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, pdwerr.New("crypto.Open", pdwerr.InvalidInput, "key must be 32 bytes")
	}
	minLen := chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minLen {
		return nil, pdwerr.New("crypto.Open", pdwerr.Tampered, "ciphertext too short")
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, pdwerr.Wrap("crypto.Open", pdwerr.Internal, err)
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, pdwerr.New("crypto.Open", pdwerr.Tampered, "aead open failed: "+err.Error())
	}
	return pt, nil
}
