package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/infra/persistence"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

const platformConfig = `# platform defaults
defaults:
  s3:
    default_bucket: my-sagemaker-bucket
  networking:
    vpc_id: vpc-12345678
    security_group_ids: [sg-12345678]
    subnets: [subnet-12345678]
  compute:
    training_instance_type: ml.m5.xlarge
  iam:
    execution_role: arn:aws:iam::123456789012:role/SageMakerExecutionRole # role used by jobs
`

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	settings, logger = nil, nil

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

type workspace struct {
	dir      string
	settings string
	config   string
	keyFile  string
	audit    string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	w := workspace{
		dir:      dir,
		settings: filepath.Join(dir, "mlp-sdk.yaml"),
		config:   filepath.Join(dir, "config.yaml"),
		keyFile:  filepath.Join(dir, "config.key"),
		audit:    filepath.Join(dir, "audit.jsonl"),
	}
	require.NoError(t, os.WriteFile(w.config, []byte(platformConfig), 0o600))
	settingsDoc := fmt.Sprintf("config_path: %s\nencryption:\n  source: file\n  key_file: %s\nlogging:\n  level: error\n", w.config, w.keyFile)
	require.NoError(t, os.WriteFile(w.settings, []byte(settingsDoc), 0o600))
	return w
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "mlpsdk"`)
}

func TestKeyGenerateToStdout(t *testing.T) {
	w := newWorkspace(t)
	out, _, err := run(t, "--settings", w.settings, "key", "generate")
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out), 44)
}

func TestEncryptValidateGetDecrypt(t *testing.T) {
	w := newWorkspace(t)

	_, _, err := run(t, "--settings", w.settings, "key", "generate", "--out", w.keyFile)
	require.NoError(t, err)
	_, _, err = run(t, "--settings", w.settings, "key", "generate", "--out", w.keyFile)
	assert.Error(t, err, "existing key file is not overwritten without --force")

	out, _, err := run(t, "--settings", w.settings, "config", "encrypt", w.config, "--path", "defaults.iam.execution_role")
	require.NoError(t, err)
	assert.Contains(t, out, "encrypted 1 field(s)")

	data, err := os.ReadFile(w.config)
	require.NoError(t, err)
	assert.Contains(t, string(data), "AES-256-GCM")
	assert.Contains(t, string(data), "# platform defaults")
	assert.NotContains(t, string(data), "SageMakerExecutionRole")

	out, _, err = run(t, "--settings", w.settings, "config", "validate", w.config)
	require.NoError(t, err)
	assert.Contains(t, out, "OK:")

	out, _, err = run(t, "--settings", w.settings, "config", "get", "iam.execution_role")
	require.NoError(t, err)
	assert.Contains(t, out, "arn:aws:iam::123456789012:role/SageMakerExecutionRole")

	_, _, err = run(t, "--settings", w.settings, "config", "decrypt", w.config)
	require.NoError(t, err)
	data, err = os.ReadFile(w.config)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SageMakerExecutionRole")
	assert.NotContains(t, string(data), "AES-256-GCM")
}

func TestConfigEncryptWithoutKey(t *testing.T) {
	w := newWorkspace(t)
	_, _, err := run(t, "--settings", w.settings, "config", "encrypt", w.config, "--path", "defaults.iam.execution_role")
	assert.Error(t, err)
}

func TestConfigValidateReportsPath(t *testing.T) {
	w := newWorkspace(t)
	_, _, err := run(t, "--settings", w.settings, "key", "generate", "--out", w.keyFile)
	require.NoError(t, err)

	bad := filepath.Join(w.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(strings.Replace(platformConfig, "vpc-12345678", "vpc-bogus", 1)), 0o600))

	_, _, err = run(t, "--settings", w.settings, "config", "validate", bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, mlperrors.ErrConfiguration)
	assert.Contains(t, err.Error(), "networking.vpc_id")
	assert.Equal(t, 78, ExitCode(err))
}

func TestResolve(t *testing.T) {
	w := newWorkspace(t)
	_, _, err := run(t, "--settings", w.settings, "key", "generate", "--out", w.keyFile)
	require.NoError(t, err)

	out, _, err := run(t, "--settings", w.settings, "resolve", "training", "--set", "instance_count=2", "--set", "tags=[a, b]")
	require.NoError(t, err)

	var res resolveOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "training", res.Context)
	assert.Equal(t, "ml.m5.xlarge", res.Values["instance_type"])
	assert.Equal(t, float64(2), res.Values["instance_count"])
	assert.Equal(t, "runtime", res.Origins["instance_count"])
	assert.Equal(t, "config", res.Origins["instance_type"])
	assert.Equal(t, []any{"a", "b"}, res.Extra["tags"])
}

func TestResolveValidationExitCode(t *testing.T) {
	w := newWorkspace(t)
	_, _, err := run(t, "--settings", w.settings, "key", "generate", "--out", w.keyFile)
	require.NoError(t, err)

	_, _, err = run(t, "--settings", w.settings, "resolve", "training", "--set", "instance_type=m5.large")
	require.Error(t, err)
	assert.Equal(t, 64, ExitCode(err))

	_, _, err = run(t, "--settings", w.settings, "resolve", "training", "--set", "novalue")
	assert.ErrorIs(t, err, mlperrors.ErrValidation)
}

func writeAuditFile(t *testing.T, path string) {
	t.Helper()
	repo, err := persistence.OpenFileAuditRepository(path)
	require.NoError(t, err)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, op := range []string{"train", "deploy", "train"} {
		require.NoError(t, repo.CreateAuditEntry(context.Background(), &domain.AuditEntry{
			ID:          fmt.Sprintf("entry-%d", i),
			Timestamp:   ts.Add(time.Duration(i) * time.Minute),
			Operation:   op,
			Parameters:  map[string]any{"instance_type": "ml.m5.xlarge"},
			Status:      domain.StatusSuccess,
			CompletedAt: ts.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}
	require.NoError(t, repo.Close())
}

func TestAuditVerifyTailExport(t *testing.T) {
	w := newWorkspace(t)
	writeAuditFile(t, w.audit)

	out, _, err := run(t, "--settings", w.settings, "audit", "verify", w.audit)
	require.NoError(t, err)
	assert.Equal(t, "OK: 3 entries verified\n", out)

	out, _, err = run(t, "--settings", w.settings, "audit", "tail", w.audit, "-n", "2")
	require.NoError(t, err)
	assert.NotContains(t, out, "entry-0")
	assert.Less(t, strings.Index(out, "entry-1"), strings.Index(out, "entry-2"))

	csvPath := filepath.Join(w.dir, "audit.csv")
	_, _, err = run(t, "--settings", w.settings, "audit", "export", w.audit, "--format", "csv", "--operation", "train", "--out", csvPath)
	require.NoError(t, err)
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,operation,status,error,parameters", lines[0])

	out, _, err = run(t, "--settings", w.settings, "audit", "export", w.audit)
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	assert.Len(t, records, 3)
}

func TestAuditVerifyDetectsTampering(t *testing.T) {
	w := newWorkspace(t)
	writeAuditFile(t, w.audit)

	data, err := os.ReadFile(w.audit)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(w.audit, []byte(strings.Replace(string(data), `"operation":"deploy"`, `"operation":"train"`, 1)), 0o600))

	_, errOut, err := run(t, "--settings", w.settings, "audit", "verify", w.audit)
	assert.True(t, errors.Is(err, errChainBroken))
	assert.Contains(t, errOut, "FAILED at line 3")
	assert.Equal(t, 1, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 64, ExitCode(mlperrors.Validationf("instance_type", "missing")))
	assert.Equal(t, 65, ExitCode(mlperrors.Encryptionf("decrypt", "bad tag")))
	assert.Equal(t, 78, ExitCode(mlperrors.Configurationf("s3.default_bucket", "missing")))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}

func TestAuditMigrateRequiresURL(t *testing.T) {
	w := newWorkspace(t)
	_, _, err := run(t, "--settings", w.settings, "audit", "migrate")
	assert.ErrorContains(t, err, "no database URL given")
}
