package encryption

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/execution"
)

// KMSAPI is the subset of the KMS client used for data keys.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSKeySource obtains configuration keys as KMS data keys under a master key.
type KMSKeySource struct {
	client KMSAPI
	keyID  string
	policy execution.Policy
}

type KMSOption func(*KMSKeySource)

func WithKMSPolicy(p execution.Policy) KMSOption {
	return func(s *KMSKeySource) { s.policy = p }
}

func NewKMSKeySource(client KMSAPI, keyID string, opts ...KMSOption) *KMSKeySource {
	s := &KMSKeySource{client: client, keyID: keyID, policy: execution.DefaultPolicy}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateDataKey asks KMS for a new AES-256 data key. The returned blob is
// the encrypted copy to store; the plaintext never leaves the process.
func (s *KMSKeySource) GenerateDataKey(ctx context.Context) (*Key, []byte, error) {
	if s.keyID == "" {
		return nil, nil, mlperrors.Encryptionf("load_key", "kms key id is empty")
	}
	out, err := execution.Do(ctx, s.policy, func(ctx context.Context) (*kms.GenerateDataKeyOutput, error) {
		return s.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:   aws.String(s.keyID),
			KeySpec: types.DataKeySpecAes256,
		})
	})
	if err != nil {
		return nil, nil, mlperrors.WrapEncryption("load_key", fmt.Errorf("kms generate data key: %w", err))
	}
	defer clear(out.Plaintext)

	key, err := NewKey(out.Plaintext)
	if err != nil {
		return nil, nil, err
	}
	return key, out.CiphertextBlob, nil
}

// DecryptDataKey recovers a data key from the blob GenerateDataKey returned.
func (s *KMSKeySource) DecryptDataKey(ctx context.Context, blob []byte) (*Key, error) {
	if len(blob) == 0 {
		return nil, mlperrors.Encryptionf("load_key", "encrypted data key is empty")
	}
	input := &kms.DecryptInput{CiphertextBlob: blob}
	if s.keyID != "" {
		input.KeyId = aws.String(s.keyID)
	}
	out, err := execution.Do(ctx, s.policy, func(ctx context.Context) (*kms.DecryptOutput, error) {
		return s.client.Decrypt(ctx, input)
	})
	if err != nil {
		return nil, mlperrors.WrapEncryption("load_key", fmt.Errorf("kms decrypt: %w", err))
	}
	defer clear(out.Plaintext)
	return NewKey(out.Plaintext)
}

// LoadKeyFromKMS returns the key stored as ciphertext, or generates a new
// data key when ciphertext is empty. The blob to persist is returned either way.
func LoadKeyFromKMS(ctx context.Context, client KMSAPI, keyID string, ciphertext []byte) (*Key, []byte, error) {
	src := NewKMSKeySource(client, keyID)
	if len(ciphertext) == 0 {
		return src.GenerateDataKey(ctx)
	}
	key, err := src.DecryptDataKey(ctx, ciphertext)
	if err != nil {
		return nil, nil, err
	}
	return key, ciphertext, nil
}
