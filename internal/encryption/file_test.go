package encryption_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/encryption"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

const sampleConfig = `# Platform defaults
defaults:
  s3:
    default_bucket: my-sagemaker-bucket
  networking:
    vpc_id: vpc-12345678
    security_group_ids:
      - sg-12345678
    subnets:
      - subnet-12345678
  compute:
    training_instance_count: 2
  iam:
    # role assumed by jobs
    execution_role: "arn:aws:iam::123456789012:role/X"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readTree(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var tree map[string]any
	require.NoError(t, yaml.Unmarshal(data, &tree))
	return tree
}

func TestEncryptDecryptConfigFile(t *testing.T) {
	key := mustKey(t)
	in := writeConfig(t, sampleConfig)
	enc := filepath.Join(filepath.Dir(in), "config.enc.yaml")
	dec := filepath.Join(filepath.Dir(in), "config.dec.yaml")

	require.NoError(t, encryption.EncryptConfigFile(in, enc, []string{"defaults.iam.execution_role"}, key))

	encrypted := readTree(t, enc)
	leaf, ok := dotpath.Lookup(encrypted, "defaults.iam.execution_role")
	require.True(t, ok)
	field, ok := encryption.FieldFromValue(leaf)
	require.True(t, ok, "leaf should be an envelope")
	assert.Equal(t, encryption.Algorithm, field.Algorithm)

	vpc, _ := dotpath.Lookup(encrypted, "defaults.networking.vpc_id")
	assert.Equal(t, "vpc-12345678", vpc)

	raw, err := os.ReadFile(enc)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "123456789012")
	assert.Contains(t, string(raw), "# Platform defaults")
	assert.Contains(t, string(raw), "# role assumed by jobs")

	info, err := os.Stat(enc)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, encryption.DecryptConfigFile(enc, dec, []string{"defaults.iam.execution_role"}, key))
	role, _ := dotpath.Lookup(readTree(t, dec), "defaults.iam.execution_role")
	assert.Equal(t, "arn:aws:iam::123456789012:role/X", role)
}

func TestEncryptConfigFileIsRepeatable(t *testing.T) {
	key := mustKey(t)
	in := writeConfig(t, sampleConfig)
	paths := []string{"defaults.iam.execution_role", "defaults.compute.training_instance_count"}

	require.NoError(t, encryption.EncryptConfigFile(in, in, paths, key))
	first, _ := dotpath.Lookup(readTree(t, in), "defaults.iam.execution_role")

	require.NoError(t, encryption.EncryptConfigFile(in, in, paths, key))
	second, _ := dotpath.Lookup(readTree(t, in), "defaults.iam.execution_role")

	f1, ok := encryption.FieldFromValue(first)
	require.True(t, ok)
	f2, ok := encryption.FieldFromValue(second)
	require.True(t, ok)
	assert.NotEqual(t, f1.Nonce, f2.Nonce)

	require.NoError(t, encryption.DecryptConfigFile(in, in, nil, key))
	tree := readTree(t, in)
	role, _ := dotpath.Lookup(tree, "defaults.iam.execution_role")
	assert.Equal(t, "arn:aws:iam::123456789012:role/X", role)
	count, _ := dotpath.Lookup(tree, "defaults.compute.training_instance_count")
	assert.Equal(t, 2, count)
}

func TestEncryptConfigFileSkipsAbsentPaths(t *testing.T) {
	key := mustKey(t)
	in := writeConfig(t, sampleConfig)
	out := filepath.Join(filepath.Dir(in), "out.yaml")

	require.NoError(t, encryption.EncryptConfigFile(in, out, []string{"defaults.kms.key_id", "defaults.nope.deeper.leaf"}, key))
	assert.Equal(t, readTree(t, in), readTree(t, out))
}

func TestEncryptConfigFileRejectsPathThroughScalar(t *testing.T) {
	key := mustKey(t)
	in := writeConfig(t, sampleConfig)
	out := filepath.Join(filepath.Dir(in), "out.yaml")

	err := encryption.EncryptConfigFile(in, out, []string{"defaults.s3.default_bucket.name"}, key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mlperrors.ErrConfiguration))
	assert.Equal(t, "defaults.s3.default_bucket.name", mlperrors.PathOf(err))

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDecryptConfigFileWrongKey(t *testing.T) {
	in := writeConfig(t, sampleConfig)
	require.NoError(t, encryption.EncryptConfigFile(in, in, []string{"defaults.iam.execution_role"}, mustKey(t)))

	err := encryption.DecryptConfigFile(in, in, nil, mustKey(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mlperrors.ErrEncryption))
	assert.Equal(t, "defaults.iam.execution_role", mlperrors.PathOf(err))
}

func TestDecryptPlaintextLeafIsNoop(t *testing.T) {
	key := mustKey(t)
	in := writeConfig(t, sampleConfig)
	out := filepath.Join(filepath.Dir(in), "out.yaml")

	require.NoError(t, encryption.DecryptConfigFile(in, out, []string{"defaults.networking.vpc_id"}, key))
	assert.Equal(t, readTree(t, in), readTree(t, out))
}

func TestConfigFileRequiresKey(t *testing.T) {
	in := writeConfig(t, sampleConfig)

	err := encryption.EncryptConfigFile(in, in, []string{"defaults.iam.execution_role"}, nil)
	assert.True(t, errors.Is(err, mlperrors.ErrEncryption))
}
