package encryption

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/execution"
)

type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParameterStore reads SecureString parameters from SSM.
type ParameterStore struct {
	client SSMAPI
	policy execution.Policy
}

func NewParameterStore(client SSMAPI) *ParameterStore {
	return &ParameterStore{client: client, policy: execution.DefaultPolicy}
}

func NewParameterStoreFromConfig(cfg aws.Config) *ParameterStore {
	return NewParameterStore(ssm.NewFromConfig(cfg))
}

func (ps *ParameterStore) WithPolicy(p execution.Policy) *ParameterStore {
	ps.policy = p
	return ps
}

func (ps *ParameterStore) GetSecret(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name cannot be empty")
	}

	input := &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: aws.Bool(true),
	}

	result, err := execution.Do(ctx, ps.policy, func(ctx context.Context) (*ssm.GetParameterOutput, error) {
		return ps.client.GetParameter(ctx, input)
	})
	if err != nil {
		return "", err
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}

	return *result.Parameter.Value, nil
}

// LoadKey reads a base64 key stored in the named parameter.
func (ps *ParameterStore) LoadKey(ctx context.Context, name string) (*Key, error) {
	value, err := ps.GetSecret(ctx, name)
	if err != nil {
		return nil, mlperrors.WrapEncryption("load_key", fmt.Errorf("ssm parameter: %w", err))
	}
	return ParseKey(value)
}

func LoadKeyFromParameterStore(ctx context.Context, client SSMAPI, name string) (*Key, error) {
	return NewParameterStore(client).LoadKey(ctx, name)
}
