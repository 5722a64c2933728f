package audit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/audit"
)

func TestRedactorMatches(t *testing.T) {
	r := audit.NewRedactor([]string{"role_arn", "vpc_config.*", "Environment.*_SECRET", "*token*"})

	tests := []struct {
		path string
		want bool
	}{
		{"role_arn", true},
		{"nested.role_arn", true},
		{"ROLE_ARN", true},
		{"vpc_config.subnets", true},
		{"vpc_config", false},
		{"other.vpc_config.subnets", false},
		{"environment.AWS_SECRET", true},
		{"environment.STAGE", false},
		{"auth.session_token", true},
		{"instance_type", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Matches(tt.path))
		})
	}
}

func TestRedactNestedAndLists(t *testing.T) {
	r := audit.NewRedactor([]string{"password"})

	out := r.Redact(map[string]any{
		"users": []any{
			map[string]any{"name": "a", "password": "p1"},
			map[string]any{"name": "b", "password": "p2"},
		},
		"password": nil,
		"count":    3,
	})

	users := out["users"].([]any)
	assert.Equal(t, audit.Mask, users[0].(map[string]any)["password"])
	assert.Equal(t, "b", users[1].(map[string]any)["name"])
	assert.Nil(t, out["password"])
	assert.Equal(t, 3, out["count"])
}

func TestRedactTypedMapsAndSlices(t *testing.T) {
	r := audit.NewRedactor(audit.DefaultSensitiveFields)
	in := map[string]any{
		"environment": map[string]string{"DB_PASSWORD": "hunter2", "STAGE": "dev"},
		"containers": []map[string]string{
			{"image": "train:latest", "api_key": "k-123"},
		},
		"tags": []string{"a", "b"},
	}

	out := r.Redact(in)

	env := out["environment"].(map[string]any)
	assert.Equal(t, audit.Mask, env["DB_PASSWORD"])
	assert.Equal(t, "dev", env["STAGE"])

	containers := out["containers"].([]any)
	first := containers[0].(map[string]any)
	assert.Equal(t, audit.Mask, first["api_key"])
	assert.Equal(t, "train:latest", first["image"])

	assert.Equal(t, []any{"a", "b"}, out["tags"])
	assert.Equal(t, "hunter2", in["environment"].(map[string]string)["DB_PASSWORD"])
}

func TestRedactNil(t *testing.T) {
	r := audit.NewRedactor(audit.DefaultSensitiveFields)
	assert.Equal(t, map[string]any{}, r.Redact(nil))
}

func TestDefaultSensitiveFields(t *testing.T) {
	r := audit.NewRedactor(audit.DefaultSensitiveFields)
	for _, p := range []string{
		"role_arn", "execution_role", "volume_kms_key", "offline_store_config.kms_key",
		"kms_key_id", "environment.DB_PASSWORD", "aws_secret_access_key", "github_token", "credentials",
	} {
		assert.True(t, r.Matches(p), p)
	}
	for _, p := range []string{"instance_type", "default_bucket", "vpc_config.subnets"} {
		assert.False(t, r.Matches(p), p)
	}
}
