package session_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/audit"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/config"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/encryption"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/session"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

const platformConfig = `
defaults:
  s3:
    default_bucket: my-sagemaker-bucket
    output_prefix: output/
  networking:
    vpc_id: vpc-12345678
    security_group_ids:
      - sg-12345678
    subnets:
      - subnet-12345678
  compute:
    training_instance_type: ml.m5.xlarge
  iam:
    execution_role: arn:aws:iam::123456789012:role/SageMakerExecutionRole
`

func newSession(t *testing.T, opts ...session.Option) *session.Session {
	t.Helper()
	s, err := session.New(append([]session.Option{session.WithConfigBytes([]byte(platformConfig))}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestNewFromSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(platformConfig), 0o600))

	fromPath, err := session.New(session.WithConfigPath(path), session.WithRegion("us-east-1"))
	require.NoError(t, err)
	assert.Equal(t, session.Properties{
		Region:        "us-east-1",
		DefaultBucket: "my-sagemaker-bucket",
		ExecutionRole: "arn:aws:iam::123456789012:role/SageMakerExecutionRole",
	}, fromPath.Properties())
	assert.Equal(t, path, fromPath.Config().Document().Source())

	doc, err := config.ParseDocument([]byte(platformConfig), nil, nil)
	require.NoError(t, err)
	fromDoc, err := session.New(session.WithDocument(doc))
	require.NoError(t, err)
	assert.Equal(t, "my-sagemaker-bucket", fromDoc.Properties().DefaultBucket)

	empty, err := session.New()
	require.NoError(t, err)
	assert.True(t, empty.Config().Document().Empty())
	assert.Nil(t, empty.Encryption())
}

func TestNewRejectsMultipleSources(t *testing.T) {
	_, err := session.New(session.WithConfigPath("a.yaml"), session.WithConfigBytes([]byte(platformConfig)))
	assert.ErrorIs(t, err, mlperrors.ErrConfiguration)
}

func TestNewFailsOnInvalidConfig(t *testing.T) {
	bad := []byte("defaults:\n  s3:\n    default_bucket: my-sagemaker-bucket\n")
	_, err := session.New(session.WithConfigBytes(bad))
	assert.ErrorIs(t, err, mlperrors.ErrConfiguration)
	assert.NotEmpty(t, mlperrors.PathOf(err))
}

func TestNewEncryptedConfig(t *testing.T) {
	key, err := encryption.GenerateKey()
	require.NoError(t, err)

	dir := t.TempDir()
	plain := filepath.Join(dir, "config.yaml")
	sealed := filepath.Join(dir, "config.enc.yaml")
	require.NoError(t, os.WriteFile(plain, []byte(platformConfig), 0o600))
	require.NoError(t, encryption.EncryptConfigFile(plain, sealed, []string{"defaults.iam.execution_role"}, key))

	_, err = session.New(session.WithConfigPath(sealed))
	assert.ErrorIs(t, err, mlperrors.ErrConfiguration)

	s, err := session.New(session.WithConfigPath(sealed), session.WithEncryptionKey(key))
	require.NoError(t, err)
	assert.True(t, s.Config().Document().Encrypted())
	assert.Equal(t, "arn:aws:iam::123456789012:role/SageMakerExecutionRole", s.Properties().ExecutionRole)
	require.NotNil(t, s.Encryption())
	assert.True(t, s.Encryption().Key().Equal(key))
}

func TestResolve(t *testing.T) {
	s := newSession(t)

	set, err := s.Resolve(config.ContextTraining, map[string]any{"instance_count": 2})
	require.NoError(t, err)
	v, _ := set.Get("instance_type")
	assert.Equal(t, "ml.m5.xlarge", v)
	assert.Equal(t, domain.OriginRuntime, set.Origin("instance_count"))
}

func TestUpdateSessionConfig(t *testing.T) {
	s := newSession(t)

	require.NoError(t, s.UpdateSessionConfig(session.SessionUpdate{
		DefaultBucket: "other-bucket",
		KMSKeyID:      "alias/ml-platform",
		Region:        "eu-west-1",
	}))

	props := s.Properties()
	assert.Equal(t, "other-bucket", props.DefaultBucket)
	assert.Equal(t, "alias/ml-platform", props.KMSKeyID)
	assert.Equal(t, "eu-west-1", props.Region)
	assert.Equal(t, "arn:aws:iam::123456789012:role/SageMakerExecutionRole", props.ExecutionRole)

	set, err := s.Resolve(config.ContextTraining, nil)
	require.NoError(t, err)
	bucket, _ := set.Get("default_bucket")
	assert.Equal(t, "other-bucket", bucket)
	key, _ := set.Get("volume_kms_key")
	assert.Equal(t, "alias/ml-platform", key)

	assert.Equal(t, "my-sagemaker-bucket", s.Config().GetString("s3.default_bucket", ""), "document is unchanged")
}

func TestUpdateSessionConfigRejectsMalformed(t *testing.T) {
	s := newSession(t)

	err := s.UpdateSessionConfig(session.SessionUpdate{DefaultBucket: "ok-bucket", ExecutionRole: "not-an-arn"})
	assert.ErrorIs(t, err, mlperrors.ErrValidation)
	assert.Equal(t, "iam.execution_role", mlperrors.PathOf(err))
	assert.Equal(t, "my-sagemaker-bucket", s.Properties().DefaultBucket)
}

func TestRunSuccess(t *testing.T) {
	s := newSession(t)

	var got *domain.ResolvedParameterSet
	err := s.Run(context.Background(), "train", config.ContextTraining, map[string]any{"instance_count": 2},
		func(_ context.Context, params *domain.ResolvedParameterSet) error {
			got = params
			return nil
		})
	require.NoError(t, err)
	require.NotNil(t, got)

	entries := s.AuditTrail().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "train", entries[0].Operation)
	assert.Equal(t, config.ContextTraining, entries[0].Context)
	assert.Equal(t, domain.StatusSuccess, entries[0].Status)
	assert.Equal(t, 2, entries[0].Parameters["instance_count"])
	assert.Equal(t, audit.Mask, entries[0].Parameters["role_arn"])
}

func TestRunMasksTypedMapParameters(t *testing.T) {
	s := newSession(t)

	err := s.Run(context.Background(), "train", config.ContextTraining,
		map[string]any{"environment": map[string]string{"DB_PASSWORD": "hunter2", "STAGE": "dev"}},
		func(_ context.Context, params *domain.ResolvedParameterSet) error {
			v, ok := params.Get("environment.DB_PASSWORD")
			assert.True(t, ok)
			assert.Equal(t, "hunter2", v)
			return nil
		})
	require.NoError(t, err)

	entries := s.AuditTrail().Entries()
	require.Len(t, entries, 1)
	env, ok := entries[0].Parameters["environment"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, audit.Mask, env["DB_PASSWORD"])
	assert.Equal(t, "dev", env["STAGE"])
}

func TestRunOperationFailure(t *testing.T) {
	s := newSession(t)
	boom := errors.New("ResourceLimitExceeded")

	err := s.Run(context.Background(), "train", config.ContextTraining, nil,
		func(context.Context, *domain.ResolvedParameterSet) error { return boom })
	assert.ErrorIs(t, err, boom)

	entries := s.AuditTrail().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusFailed, entries[0].Status)
	assert.Equal(t, "ResourceLimitExceeded", entries[0].Error)
}

func TestRunResolutionFailureKeepsSessionUsable(t *testing.T) {
	var logs bytes.Buffer
	s := newSession(t, session.WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))

	called := false
	err := s.Run(context.Background(), "train", config.ContextTraining, map[string]any{"instance_type": "m5.large"},
		func(context.Context, *domain.ResolvedParameterSet) error {
			called = true
			return nil
		})
	assert.ErrorIs(t, err, mlperrors.ErrValidation)
	assert.False(t, called)
	assert.Contains(t, logs.String(), `"error_class":"validation"`)

	err = s.Run(context.Background(), "train", config.ContextTraining, nil,
		func(context.Context, *domain.ResolvedParameterSet) error { return nil })
	require.NoError(t, err)

	summary := s.AuditTrail().Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.ByStatus[domain.StatusFailed])
	assert.Equal(t, 1, summary.ByStatus[domain.StatusSuccess])
}

func TestRunPanicIsRecorded(t *testing.T) {
	s := newSession(t)

	assert.Panics(t, func() {
		_ = s.Run(context.Background(), "deploy", config.ContextTraining, nil,
			func(context.Context, *domain.ResolvedParameterSet) error { panic("nil model") })
	})

	entries := s.AuditTrail().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusFailed, entries[0].Status)
	assert.Contains(t, entries[0].Error, "nil model")
}

func TestSharedAuditTrail(t *testing.T) {
	trail := audit.New()
	a := newSession(t, session.WithAuditTrail(trail))
	b := newSession(t, session.WithAuditTrail(trail))

	noop := func(context.Context, *domain.ResolvedParameterSet) error { return nil }
	require.NoError(t, a.Run(context.Background(), "train", config.ContextTraining, nil, noop))
	require.NoError(t, b.Run(context.Background(), "train", config.ContextTraining, nil, noop))
	assert.Equal(t, 2, trail.Len())
	assert.Same(t, trail, a.AuditTrail())
}

func TestConcurrentRunAndUpdate(t *testing.T) {
	s := newSession(t)
	noop := func(context.Context, *domain.ResolvedParameterSet) error { return nil }

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Run(context.Background(), fmt.Sprintf("op-%d", i), config.ContextTraining, nil, noop))
		}(i)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.UpdateSessionConfig(session.SessionUpdate{DefaultBucket: fmt.Sprintf("bucket-%02d", i)}))
		}(i)
	}
	wg.Wait()

	summary := s.AuditTrail().Summary()
	assert.Equal(t, 20, summary.Total)
	assert.Equal(t, 20, summary.ByStatus[domain.StatusSuccess])
}
