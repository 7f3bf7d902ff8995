// Package crypto implements the envelope-encryption behavior's wire format:
// AES-256-GCM with the nonce prefixed to the ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

const (
	gcmNonceSize = 12
	aesKeyLen    = 32
)

var (
	// ErrEncryptorNotConfigured indicates a missing key provider.
	ErrEncryptorNotConfigured = errors.New("crypto: encryptor not configured")
	// ErrPlaintextEmpty indicates an empty plaintext input.
	ErrPlaintextEmpty = errors.New("crypto: plaintext is empty")
	// ErrInvalidKeyLength indicates the key length is invalid.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length")
	// ErrCiphertextTooShort indicates a truncated ciphertext.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	// ErrDecryptFailed indicates decryption failure (wrong key, wrong
	// x-encryption-key-id, or tampered payload — these are intentionally
	// indistinguishable to callers).
	ErrDecryptFailed = errors.New("crypto: decrypt failed")
	// ErrMissingKey indicates a KeyProvider returned no key material.
	ErrMissingKey = errors.New("crypto: missing key")
)

// KeyProvider resolves the key material for an x-encryption-key-id.
type KeyProvider interface {
	Key(keyID string) ([]byte, error)
}

// StaticKeyProvider returns the same key regardless of keyID. Suitable for a
// single-key deployment or local development.
//
// FixedIV, when set, is used as the GCM nonce for every message instead of a
// freshly generated one, and the encryptor omits the nonce prefix from the
// wire format (spec.md §6: "when the IV is fixed in configuration, no prefix
// is emitted"). Reusing a nonce under a given key is only safe because the
// key never changes either; this mode exists for interop with peers that
// expect a configuration-fixed IV, not as the default.
type StaticKeyProvider struct {
	KeyBytes []byte
	FixedIV  []byte
}

func (p StaticKeyProvider) Key(string) ([]byte, error) {
	if len(p.KeyBytes) == 0 {
		return nil, ErrMissingKey
	}
	k := make([]byte, len(p.KeyBytes))
	copy(k, p.KeyBytes)
	return k, nil
}

// FixedNonce implements FixedNonceProvider.
func (p StaticKeyProvider) FixedNonce(string) ([]byte, bool) {
	if len(p.FixedIV) == 0 {
		return nil, false
	}
	nonce := make([]byte, len(p.FixedIV))
	copy(nonce, p.FixedIV)
	return nonce, true
}

// MapKeyProvider selects key material by x-encryption-key-id, supporting key
// rotation (old key ids keep decrypting while new messages use the active
// one).
type MapKeyProvider map[string][]byte

func (p MapKeyProvider) Key(keyID string) ([]byte, error) {
	k, ok := p[keyID]
	if !ok || len(k) == 0 {
		return nil, ErrMissingKey
	}
	out := make([]byte, len(k))
	copy(out, k)
	return out, nil
}

// Encryptor encrypts/decrypts envelope bodies for the encryption behavior.
type Encryptor interface {
	Encrypt(plaintext []byte, keyID string) ([]byte, error)
	Decrypt(ciphertext []byte, keyID string) ([]byte, error)
}

// FixedNonceProvider is an optional capability a KeyProvider may also
// implement. When it returns a nonce for keyID, the encryptor uses that
// nonce instead of generating a random one and omits the nonce prefix from
// the wire format entirely (spec.md §6).
type FixedNonceProvider interface {
	FixedNonce(keyID string) ([]byte, bool)
}

// AESGCMEncryptor implements Encryptor with a fixed wire layout:
//
//	[0..11]  12-byte nonce (IV) — omitted when keys implements
//	         FixedNonceProvider and returns one for the key id
//	[...]    GCM seal output (ciphertext + 16-byte tag)
//
// keyID is bound into the AAD so a ciphertext produced under one
// x-encryption-key-id cannot be decrypted under another, even if the two
// happen to share key bytes during rotation.
type AESGCMEncryptor struct {
	keys KeyProvider
}

// NewAESGCMEncryptor constructs an AES-256-GCM encryptor backed by keys.
func NewAESGCMEncryptor(keys KeyProvider) *AESGCMEncryptor {
	return &AESGCMEncryptor{keys: keys}
}

func (e *AESGCMEncryptor) Encrypt(plaintext []byte, keyID string) ([]byte, error) {
	if e == nil || e.keys == nil {
		return nil, ErrEncryptorNotConfigured
	}
	if len(plaintext) == 0 {
		return nil, ErrPlaintextEmpty
	}

	gcm, err := e.gcm(keyID)
	if err != nil {
		return nil, err
	}

	if nonce, ok := e.fixedNonce(keyID); ok {
		return gcm.Seal(nil, nonce, plaintext, aad(keyID)), nil
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad(keyID))

	out := make([]byte, gcmNonceSize+len(sealed))
	copy(out[:gcmNonceSize], nonce)
	copy(out[gcmNonceSize:], sealed)
	return out, nil
}

func (e *AESGCMEncryptor) Decrypt(ciphertext []byte, keyID string) ([]byte, error) {
	if e == nil || e.keys == nil {
		return nil, ErrEncryptorNotConfigured
	}

	gcm, err := e.gcm(keyID)
	if err != nil {
		return nil, err
	}

	if nonce, ok := e.fixedNonce(keyID); ok {
		if len(ciphertext) == 0 {
			return nil, ErrCiphertextTooShort
		}
		plain, err := gcm.Open(nil, nonce, ciphertext, aad(keyID))
		if err != nil {
			return nil, ErrDecryptFailed
		}
		return plain, nil
	}

	if len(ciphertext) < gcmNonceSize+1 {
		return nil, ErrCiphertextTooShort
	}
	nonce := ciphertext[:gcmNonceSize]
	sealed := ciphertext[gcmNonceSize:]

	plain, err := gcm.Open(nil, nonce, sealed, aad(keyID))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

// fixedNonce reports the configured fixed nonce for keyID, if e.keys opts
// into FixedNonceProvider and one is set.
func (e *AESGCMEncryptor) fixedNonce(keyID string) ([]byte, bool) {
	fp, ok := e.keys.(FixedNonceProvider)
	if !ok {
		return nil, false
	}
	nonce, ok := fp.FixedNonce(keyID)
	if !ok || len(nonce) != gcmNonceSize {
		return nil, false
	}
	return nonce, true
}

func (e *AESGCMEncryptor) gcm(keyID string) (cipher.AEAD, error) {
	key, err := e.keys.Key(keyID)
	if err != nil {
		return nil, fmt.Errorf("crypto: key provider error: %w", err)
	}
	if len(key) != aesKeyLen {
		return nil, fmt.Errorf("crypto: invalid key length %d (want %d for AES-256): %w", len(key), aesKeyLen, ErrInvalidKeyLength)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm init failed: %w", err)
	}
	return gcm, nil
}

// aad binds the key id into authenticated-but-not-encrypted data so a
// ciphertext cannot be replayed under a different key id.
func aad(keyID string) []byte {
	sum := sha256.Sum256([]byte("x-encryption-key-id=" + keyID + "\n"))
	return sum[:]
}
