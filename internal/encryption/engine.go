// Package encryption seals individual configuration values with AES-256-GCM
// and rewrites YAML configuration files field by field.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

const (
	Algorithm = "AES-256-GCM"
	NonceSize = 12
	TagSize   = 16

	// EncodingYAML marks an envelope whose plaintext is the YAML encoding of
	// a non-string value.
	EncodingYAML = "yaml"
)

// EncryptedField is the envelope stored in place of a plaintext value.
type EncryptedField struct {
	Algorithm  string `yaml:"algorithm" json:"algorithm"`
	Nonce      string `yaml:"nonce" json:"nonce"`
	Ciphertext string `yaml:"ciphertext" json:"ciphertext"`
	Tag        string `yaml:"tag" json:"tag"`
	Encoding   string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
}

// Engine holds a key and seals values with it.
type Engine struct {
	key *Key
}

func NewEngine(key *Key) *Engine {
	return &Engine{key: key}
}

func (e *Engine) Key() *Key { return e.key }

func (e *Engine) EncryptValue(plaintext string) (*EncryptedField, error) {
	return EncryptValue(plaintext, e.key)
}

func (e *Engine) DecryptValue(field *EncryptedField) (string, error) {
	return DecryptValue(field, e.key)
}

func newGCM(key *Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return gcm, nil
}

// EncryptValue seals plaintext under key with a fresh random nonce.
func EncryptValue(plaintext string, key *Key) (*EncryptedField, error) {
	return seal([]byte(plaintext), "", key)
}

func seal(plaintext []byte, encoding string, key *Key) (*EncryptedField, error) {
	if !key.usable() {
		return nil, mlperrors.Encryptionf("encrypt", "no encryption key available")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, mlperrors.WrapEncryption("encrypt", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, mlperrors.WrapEncryption("encrypt", fmt.Errorf("failed to generate nonce: %w", err))
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	return &EncryptedField{
		Algorithm:  Algorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		Encoding:   encoding,
	}, nil
}

// DecryptValue verifies and opens field. It never returns data that failed
// authentication.
func DecryptValue(field *EncryptedField, key *Key) (string, error) {
	plaintext, err := open(field, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func open(field *EncryptedField, key *Key) ([]byte, error) {
	if field == nil {
		return nil, mlperrors.Encryptionf("decrypt", "envelope is missing")
	}
	if !key.usable() {
		return nil, mlperrors.Encryptionf("decrypt", "no decryption key available")
	}
	if field.Algorithm != Algorithm {
		return nil, mlperrors.Encryptionf("decrypt", "unsupported algorithm %q", field.Algorithm)
	}

	nonce, err := base64.StdEncoding.DecodeString(field.Nonce)
	if err != nil || len(nonce) != NonceSize {
		return nil, mlperrors.Encryptionf("decrypt", "malformed nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(field.Ciphertext)
	if err != nil {
		return nil, mlperrors.Encryptionf("decrypt", "malformed ciphertext")
	}
	tag, err := base64.StdEncoding.DecodeString(field.Tag)
	if err != nil || len(tag) != TagSize {
		return nil, mlperrors.Encryptionf("decrypt", "malformed authentication tag")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, mlperrors.WrapEncryption("decrypt", err)
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, mlperrors.Encryptionf("decrypt", "authentication failed: wrong key or tampered envelope")
	}
	return plaintext, nil
}
