package encryption

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Key is a symmetric AES-256 key. Every key source yields the same
// representation, so callers never care where a key came from.
type Key struct {
	raw []byte
}

// GenerateKey returns a fresh random key.
func GenerateKey() (*Key, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, mlperrors.WrapEncryption("generate_key", fmt.Errorf("failed to read random bytes: %w", err))
	}
	return &Key{raw: raw}, nil
}

// NewKey copies raw into a Key.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, mlperrors.Encryptionf("load_key", "key length must be %d bytes, got %d bytes", KeySize, len(raw))
	}
	k := &Key{raw: make([]byte, KeySize)}
	copy(k.raw, raw)
	return k, nil
}

// ParseKey decodes the base64 transport form produced by Encoded.
func ParseKey(encoded string) (*Key, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, mlperrors.Encryptionf("load_key", "key is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, mlperrors.Encryptionf("load_key", "key is not valid base64")
	}
	defer clear(raw)
	return NewKey(raw)
}

// Encoded returns the key in its transportable base64 form.
func (k *Key) Encoded() string {
	return base64.StdEncoding.EncodeToString(k.raw)
}

// Equal compares two keys in constant time.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return subtle.ConstantTimeCompare(k.raw, other.raw) == 1
}

// Destroy zeroes the key material. The key is unusable afterwards.
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	clear(k.raw)
	k.raw = nil
}

func (k *Key) String() string { return "Key(***)" }

// Bytes returns a copy of the raw key material.
func (k *Key) Bytes() []byte {
	if k == nil {
		return nil
	}
	return append([]byte(nil), k.raw...)
}

func (k *Key) usable() bool { return k != nil && len(k.raw) == KeySize }

// DeriveSubkey derives a purpose-bound key from k with HKDF-SHA256.
func DeriveSubkey(k *Key, salt, info []byte) (*Key, error) {
	if !k.usable() {
		return nil, mlperrors.Encryptionf("derive_key", "master key is missing")
	}
	if len(salt) == 0 {
		return nil, mlperrors.Encryptionf("derive_key", "salt cannot be empty")
	}
	r := hkdf.New(sha256.New, k.raw, salt, info)
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, mlperrors.WrapEncryption("derive_key", fmt.Errorf("failed to derive key using HKDF: %w", err))
	}
	return &Key{raw: raw}, nil
}
