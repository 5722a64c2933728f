package encryption

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

// DefaultKeyEnvVar is read by LoadKeyFromEnv when no variable name is given.
const DefaultKeyEnvVar = "MLP_SDK_ENCRYPTION_KEY"

const keyFileMode = 0o600

// LoadKeyFromEnv reads a base64 key from the named environment variable.
func LoadKeyFromEnv(name string) (*Key, error) {
	if name == "" {
		name = DefaultKeyEnvVar
	}
	encoded, ok := os.LookupEnv(name)
	if !ok {
		return nil, mlperrors.Encryptionf("load_key", "environment variable %s is not set", name)
	}
	return ParseKey(encoded)
}

// LoadKeyFromFile reads a base64 key from path.
func LoadKeyFromFile(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mlperrors.WrapEncryption("load_key", fmt.Errorf("failed to read key file: %w", err))
	}
	defer clear(data)
	return ParseKey(string(data))
}

// WriteKeyFile stores key at path with owner-only permissions. An existing
// file is only replaced when overwrite is set.
func WriteKeyFile(path string, key *Key, overwrite bool) error {
	if !key.usable() {
		return mlperrors.Encryptionf("write_key", "key is missing")
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, keyFileMode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return mlperrors.Encryptionf("write_key", "key file %s already exists", path)
		}
		return mlperrors.WrapEncryption("write_key", err)
	}
	if _, err := f.WriteString(key.Encoded() + "\n"); err != nil {
		f.Close()
		return mlperrors.WrapEncryption("write_key", err)
	}
	return f.Close()
}
