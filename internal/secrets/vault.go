// Package secrets seals tenant data at rest with AES-256-GCM. The owning
// tenant ID is bound as additional data, so a ciphertext copied into
// another tenant's row fails to open.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

//nolint:gochecknoglobals // sentinel error
var ErrInvalidKey = errors.New("secrets: invalid encryption key")

//nolint:gochecknoglobals // sentinel error
var ErrDecryption = errors.New("secrets: decryption failed")

// DecryptionError reports a value that could not be opened. TenantID is the
// tenant the row claimed to belong to.
type DecryptionError struct {
	TenantID uuid.UUID
	Err      error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("secrets: decrypt for tenant %s: %v", e.TenantID, e.Err)
}

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

func (e *DecryptionError) Unwrap() error { return e.Err }

// Vault seals and opens values using AES-256-GCM.
type Vault struct {
	aead cipher.AEAD
}

// NewVault creates a Vault with the given 32-byte encryption key.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets.NewVault: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets.NewVault: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// NewVaultFromBase64 decodes a standard base64 key, as stored in
// configuration.
func NewVaultFromBase64(encoded string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secrets.NewVaultFromBase64: %w", errors.Join(err, ErrInvalidKey))
	}
	return NewVault(key)
}

// Seal encrypts plaintext for tenantID. The output format is
// base64(nonce || ciphertext).
func (v *Vault) Seal(tenantID uuid.UUID, plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets.Seal: generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), tenantID[:])

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Every failure is a *DecryptionError.
func (v *Vault) Open(tenantID uuid.UUID, sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", &DecryptionError{TenantID: tenantID, Err: fmt.Errorf("base64 decode: %w", err)}
	}

	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize {
		return "", &DecryptionError{TenantID: tenantID, Err: errors.New("ciphertext too short")}
	}

	plaintext, err := v.aead.Open(nil, data[:nonceSize], data[nonceSize:], tenantID[:])
	if err != nil {
		return "", &DecryptionError{TenantID: tenantID, Err: err}
	}

	return string(plaintext), nil
}
