// Package crypto seals integration secrets (OAuth tokens, API keys, BYOK client
// secrets) before they reach the database.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
)

var (
	// ErrInvalidKey is returned when the encryption key is empty.
	ErrInvalidKey = errors.New("invalid encryption key: must not be empty")
	// ErrDecryptionFailed is returned when a sealed value cannot be opened.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// SecretBox seals and opens integration secrets with AES-256-GCM.
type SecretBox interface {
	// Seal returns base64(nonce || ciphertext || tag). Empty input stays empty.
	Seal(plaintext string) (string, error)
	// Open reverses Seal. Empty input stays empty.
	Open(sealed string) (string, error)
	// KeyID fingerprints the key so rows sealed under another key can be detected.
	KeyID() string
}

type aesGCMBox struct {
	gcm   cipher.AEAD
	keyID string
}

var _ SecretBox = (*aesGCMBox)(nil)

// NewSecretBox derives a 32-byte key from keyInput. A base64 value that decodes to
// exactly 32 bytes (openssl rand -base64 32) is used directly; anything else is
// treated as a passphrase and hashed with SHA-256.
func NewSecretBox(keyInput string) (SecretBox, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	key := deriveKey(keyInput)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("ekaya-connect/key-id"))

	return &aesGCMBox{
		gcm:   gcm,
		keyID: hex.EncodeToString(mac.Sum(nil))[:16],
	}, nil
}

func deriveKey(keyInput string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(keyInput); err == nil && len(decoded) == 32 {
		return decoded
	}
	hash := sha256.Sum256([]byte(keyInput))
	return hash[:]
}

func (b *aesGCMBox) KeyID() string { return b.keyID }

func (b *aesGCMBox) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := b.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *aesGCMBox) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := b.gcm.NonceSize()
	if len(data) < nonceSize+b.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	plaintext, err := b.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// SealAll seals each pointed-to string in place. It stops at the first error.
func SealAll(box SecretBox, fields ...*string) error {
	for _, f := range fields {
		sealed, err := box.Seal(*f)
		if err != nil {
			return err
		}
		*f = sealed
	}
	return nil
}

// OpenAll opens each pointed-to string in place. A row sealed under a different
// key reports apperrors.ErrCredentialsKeyMismatch.
func OpenAll(box SecretBox, rowKeyID string, fields ...*string) error {
	if rowKeyID != "" && rowKeyID != box.KeyID() {
		return apperrors.ErrCredentialsKeyMismatch
	}
	for _, f := range fields {
		opened, err := box.Open(*f)
		if err != nil {
			if errors.Is(err, ErrDecryptionFailed) {
				return fmt.Errorf("%w: %v", apperrors.ErrCredentialsKeyMismatch, err)
			}
			return err
		}
		*f = opened
	}
	return nil
}
