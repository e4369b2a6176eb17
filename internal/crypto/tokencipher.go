// Package crypto holds the key-derivation primitives of the login protocol
// and the AES-256-GCM cipher used to keep upstream credentials sealed at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes.
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails base64 decoding or is shorter than a nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication fails: tampering, a wrong key or a wrong label.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned when the salt is fewer than 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
)

// settingsSalt is fixed so values sealed by one process can be opened by the next.
var settingsSalt = []byte("overseer-lite/settings/v1")

// TokenCipher seals short secrets (upstream bearer tokens) before they are
// written to the settings store. Each value is bound to a label, normally the
// settings key, so a sealed value cannot be replayed under another key.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher creates a cipher with a 32-byte master key
func NewTokenCipher(masterKey []byte) (*TokenCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, 32)
	copy(keyCopy, masterKey)

	block, err := aes.NewCipher(keyCopy)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{aead: aead}, nil
}

// DeriveTokenCipher creates a cipher by deriving a key from a passphrase
func DeriveTokenCipher(passphrase string, salt []byte, iterations int) (*TokenCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < MinIterations {
		iterations = MinIterations
	}
	derivedKey := pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New)
	return NewTokenCipher(derivedKey)
}

// SettingsCipher derives the cipher used for the settings store from the
// server signing secret.
func SettingsCipher(secretKey string) (*TokenCipher, error) {
	return DeriveTokenCipher(secretKey, settingsSalt, MinIterations)
}

// Seal encrypts plaintext bound to label and returns base64url ciphertext.
// An empty plaintext seals to an empty string.
func (tc *TokenCipher) Seal(label, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, tc.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := tc.aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal with the same label
func (tc *TokenCipher) Open(label, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}

	nonceLen := tc.aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return "", ErrCiphertextCorrupted
	}

	plaintext, err := tc.aead.Open(nil, ciphertext[:nonceLen], ciphertext[nonceLen:], []byte(label))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
