package config

import (
	"sort"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"
)

// Operation contexts known to the default catalog.
const (
	ContextTraining     = "training"
	ContextProcessing   = "processing"
	ContextDeployment   = "deployment"
	ContextFeatureStore = "feature_store"
	ContextPipeline     = "pipeline"
)

// Parameter is one known parameter of an operation context. Name may be
// dotted to place the value inside a nested mapping parameter. ConfigPath is
// the defaults path the value falls back to; an empty ConfigPath means the
// parameter is runtime-only. Tag is the validator tag runtime values must
// satisfy.
type Parameter struct {
	Name       string
	ConfigPath string
	Required   bool
	Tag        string
}

// Context enumerates the parameters an operation category understands.
type Context struct {
	Name       string
	Parameters []Parameter
}

func (c Context) roots() map[string]bool {
	roots := make(map[string]bool, len(c.Parameters))
	for _, p := range c.Parameters {
		segments, err := dotpath.Split(p.Name)
		if err != nil {
			continue
		}
		roots[segments[0]] = true
	}
	return roots
}

const (
	tagSubnets        = "min=1,dive,subnet_id"
	tagSecurityGroups = "min=1,dive,security_group_id"
)

func networkParams(prefix string) []Parameter {
	return []Parameter{
		{Name: prefix + ".subnets", ConfigPath: "networking.subnets", Tag: tagSubnets},
		{Name: prefix + ".security_group_ids", ConfigPath: "networking.security_group_ids", Tag: tagSecurityGroups},
	}
}

func roleParam() Parameter {
	return Parameter{Name: "role_arn", ConfigPath: "iam.execution_role", Required: true, Tag: "iam_role_arn"}
}

// DefaultContexts returns the built-in catalog of operation contexts.
func DefaultContexts() map[string]Context {
	training := Context{Name: ContextTraining, Parameters: append([]Parameter{
		{Name: "instance_type", ConfigPath: "compute.training_instance_type", Required: true, Tag: "instance_type"},
		{Name: "instance_count", ConfigPath: "compute.training_instance_count", Tag: "instance_count"},
		roleParam(),
		{Name: "default_bucket", ConfigPath: "s3.default_bucket", Tag: "s3_bucket"},
		{Name: "input_prefix", ConfigPath: "s3.input_prefix", Tag: "s3_prefix"},
		{Name: "output_prefix", ConfigPath: "s3.output_prefix", Tag: "s3_prefix"},
		{Name: "volume_kms_key", ConfigPath: "kms.key_id", Tag: "kms_key"},
		{Name: "output_kms_key", ConfigPath: "kms.key_id", Tag: "kms_key"},
		{Name: "max_runtime_seconds", Tag: "gt=0"},
		{Name: "hyperparameters"},
		{Name: "environment"},
	}, networkParams("vpc_config")...)}

	processing := Context{Name: ContextProcessing, Parameters: append([]Parameter{
		{Name: "instance_type", ConfigPath: "compute.processing_instance_type", Required: true, Tag: "instance_type"},
		{Name: "instance_count", ConfigPath: "compute.processing_instance_count", Tag: "instance_count"},
		roleParam(),
		{Name: "default_bucket", ConfigPath: "s3.default_bucket", Tag: "s3_bucket"},
		{Name: "input_prefix", ConfigPath: "s3.input_prefix", Tag: "s3_prefix"},
		{Name: "output_prefix", ConfigPath: "s3.output_prefix", Tag: "s3_prefix"},
		{Name: "volume_kms_key", ConfigPath: "kms.key_id", Tag: "kms_key"},
		{Name: "max_runtime_seconds", Tag: "gt=0"},
		{Name: "environment"},
	}, networkParams("network_config")...)}

	deployment := Context{Name: ContextDeployment, Parameters: append([]Parameter{
		{Name: "instance_type", ConfigPath: "compute.inference_instance_type", Required: true, Tag: "instance_type"},
		{Name: "initial_instance_count", ConfigPath: "compute.inference_instance_count", Tag: "instance_count"},
		roleParam(),
		{Name: "default_bucket", ConfigPath: "s3.default_bucket", Tag: "s3_bucket"},
		{Name: "model_prefix", ConfigPath: "s3.model_prefix", Tag: "s3_prefix"},
		{Name: "model_data", Tag: "s3_uri"},
		{Name: "kms_key", ConfigPath: "kms.key_id", Tag: "kms_key"},
		{Name: "endpoint_name"},
		{Name: "environment"},
	}, networkParams("vpc_config")...)}

	featureStore := Context{Name: ContextFeatureStore, Parameters: []Parameter{
		{Name: "feature_group_name", Required: true},
		roleParam(),
		{Name: "offline_store_config.s3_uri", ConfigPath: "feature_store.offline_store_s3_uri", Tag: "s3_prefix_uri"},
		{Name: "offline_store_config.kms_key", ConfigPath: "kms.key_id", Tag: "kms_key"},
		{Name: "enable_online_store", ConfigPath: "feature_store.enable_online_store", Tag: "bool_value"},
		{Name: "record_identifier_name"},
		{Name: "event_time_feature_name"},
	}}

	pipeline := Context{Name: ContextPipeline, Parameters: []Parameter{
		{Name: "pipeline_name", Required: true},
		roleParam(),
		{Name: "default_bucket", ConfigPath: "s3.default_bucket", Tag: "s3_bucket"},
		{Name: "kms_key", ConfigPath: "kms.key_id", Tag: "kms_key"},
		{Name: "parameters"},
	}}

	return map[string]Context{
		training.Name:     training,
		processing.Name:   processing,
		deployment.Name:   deployment,
		featureStore.Name: featureStore,
		pipeline.Name:     pipeline,
	}
}

func sortedContextNames(contexts map[string]Context) []string {
	names := make([]string, 0, len(contexts))
	for name := range contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
