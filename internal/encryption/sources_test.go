package encryption_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/encryption"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/execution"
)

func TestLoadKeyFromEnv(t *testing.T) {
	key := mustKey(t)
	t.Setenv(encryption.DefaultKeyEnvVar, key.Encoded())

	loaded, err := encryption.LoadKeyFromEnv("")
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	_, err = encryption.LoadKeyFromEnv("MLP_SDK_TEST_UNSET_KEY")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mlperrors.ErrEncryption))
}

func TestKeyFileRoundTrip(t *testing.T) {
	key := mustKey(t)
	path := filepath.Join(t.TempDir(), "config.key")

	require.NoError(t, encryption.WriteKeyFile(path, key, false))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := encryption.LoadKeyFromFile(path)
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	assert.Error(t, encryption.WriteKeyFile(path, mustKey(t), false))
	assert.NoError(t, encryption.WriteKeyFile(path, mustKey(t), true))

	_, err = encryption.LoadKeyFromFile(filepath.Join(t.TempDir(), "missing.key"))
	assert.True(t, errors.Is(err, mlperrors.ErrEncryption))
}

type fakeKMS struct {
	plaintext []byte
	blob      []byte
	calls     int
	err       error
}

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &kms.GenerateDataKeyOutput{
		KeyId:          in.KeyId,
		Plaintext:      append([]byte(nil), f.plaintext...),
		CiphertextBlob: f.blob,
	}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !bytes.Equal(in.CiphertextBlob, f.blob) {
		return nil, errors.New("InvalidCiphertextException")
	}
	return &kms.DecryptOutput{Plaintext: append([]byte(nil), f.plaintext...)}, nil
}

func TestLoadKeyFromKMS(t *testing.T) {
	fake := &fakeKMS{plaintext: bytes.Repeat([]byte{7}, encryption.KeySize), blob: []byte("encrypted-data-key")}
	ctx := context.Background()

	generated, blob, err := encryption.LoadKeyFromKMS(ctx, fake, "alias/ml-platform", nil)
	require.NoError(t, err)
	assert.Equal(t, fake.blob, blob)

	loaded, _, err := encryption.LoadKeyFromKMS(ctx, fake, "alias/ml-platform", blob)
	require.NoError(t, err)
	assert.True(t, generated.Equal(loaded))

	fromBytes, err := encryption.NewKey(fake.plaintext)
	require.NoError(t, err)
	assert.True(t, fromBytes.Equal(loaded), "every key source yields the same key representation")
}

func TestKMSKeySourceFailure(t *testing.T) {
	fake := &fakeKMS{err: errors.New("AccessDeniedException")}
	src := encryption.NewKMSKeySource(fake, "alias/ml-platform", encryption.WithKMSPolicy(execution.Policy{Attempts: 2}))

	_, _, err := src.GenerateDataKey(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, mlperrors.ErrEncryption))
	assert.Equal(t, 2, fake.calls)

	_, err = src.DecryptDataKey(context.Background(), nil)
	assert.True(t, errors.Is(err, mlperrors.ErrEncryption))
}

type fakeSSM struct {
	values map[string]string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("expected decryption")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func TestLoadKeyFromParameterStore(t *testing.T) {
	key := mustKey(t)
	fake := &fakeSSM{values: map[string]string{"/mlp/config-key": key.Encoded()}}

	loaded, err := encryption.LoadKeyFromParameterStore(context.Background(), fake, "/mlp/config-key")
	require.NoError(t, err)
	assert.True(t, key.Equal(loaded))

	store := encryption.NewParameterStore(fake).WithPolicy(execution.Policy{Attempts: 1})
	_, err = store.LoadKey(context.Background(), "/mlp/missing")
	assert.True(t, errors.Is(err, mlperrors.ErrEncryption))

	_, err = store.GetSecret(context.Background(), "")
	assert.Error(t, err)
}
