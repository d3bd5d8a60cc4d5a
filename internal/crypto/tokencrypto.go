// Package crypto implements encryption of OAuth tokens at rest and secure
// random token generation.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyLen = 32

// hkdf info strings bind derived keys to their purpose.
var tokenKeyInfo = []byte("github-mcp-server/token-cipher/v1")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// RandToken returns a random 32-byte token, hex-encoded. Used for CSRF state
// values.
func RandToken() (string, error) {
	b, err := RandBytes(32)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Cipher seals and opens token material with XChaCha20-Poly1305. The working
// key is derived from the configured master key via HKDF-SHA256, so master
// keys of any length are accepted.
type Cipher struct {
	key []byte
}

// NewCipher derives the working key from masterKey.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("empty master key")
	}
	r := hkdf.New(sha256.New, masterKey, nil, tokenKeyInfo)
	key := make([]byte, keyLen)
	if _, err := r.Read(key); err != nil {
		return nil, err
	}
	return &Cipher{key: key}, nil
}

// Seal encrypts plaintext with a random nonce; output is nonce||ciphertext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return out, nil
}

// Open decrypts a nonce-prefixed ciphertext produced by Seal. A ciphertext
// sealed under a different master key fails authentication.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed blob too short")
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	ct := sealed[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, nil)
}
