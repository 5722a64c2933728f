// Package schema checks a configuration document's defaults tree against the
// expected sections and field formats.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
	pkgvalidator "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/validator"
)

// Sections are the mappings allowed directly under "defaults".
var Sections = []string{"s3", "networking", "compute", "feature_store", "iam", "kms"}

// Rule constrains the value at Path, relative to "defaults".
type Rule struct {
	Path     string
	Required bool
	List     bool
	Tag      string
}

var DefaultRules = []Rule{
	{Path: "s3.default_bucket", Required: true, Tag: "s3_bucket"},
	{Path: "s3.input_prefix", Tag: "s3_prefix"},
	{Path: "s3.output_prefix", Tag: "s3_prefix"},
	{Path: "s3.model_prefix", Tag: "s3_prefix"},
	{Path: "networking.vpc_id", Required: true, Tag: "vpc_id"},
	{Path: "networking.security_group_ids", Required: true, List: true, Tag: "min=1,dive,security_group_id"},
	{Path: "networking.subnets", Required: true, List: true, Tag: "min=1,dive,subnet_id"},
	{Path: "compute.processing_instance_type", Tag: "instance_type"},
	{Path: "compute.training_instance_type", Tag: "instance_type"},
	{Path: "compute.inference_instance_type", Tag: "instance_type"},
	{Path: "compute.processing_instance_count", Tag: "instance_count"},
	{Path: "compute.training_instance_count", Tag: "instance_count"},
	{Path: "compute.inference_instance_count", Tag: "instance_count"},
	{Path: "feature_store.offline_store_s3_uri", Tag: "s3_prefix_uri"},
	{Path: "feature_store.enable_online_store", Tag: "bool_value"},
	{Path: "iam.execution_role", Required: true, Tag: "iam_role_arn"},
	{Path: "kms.key_id", Tag: "kms_key"},
}

type Validator struct {
	validate *validator.Validate
	rules    []Rule
}

// New builds a Validator for rules, or DefaultRules when none are given.
func New(rules ...Rule) (*Validator, error) {
	v, err := pkgvalidator.New()
	if err != nil {
		return nil, fmt.Errorf("failed to register custom validators: %w", err)
	}
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Validator{validate: v, rules: rules}, nil
}

// Validate checks the defaults tree and returns every violation joined into one
// error; each violation is a configuration error naming its dotted path.
func (v *Validator) Validate(defaults map[string]any) error {
	var violations []error

	for _, section := range Sections {
		raw, ok := defaults[section]
		if !ok || raw == nil {
			continue
		}
		if _, ok := dotpath.AsMap(raw); !ok {
			violations = append(violations, mlperrors.Configurationf(section, "section must be a mapping"))
		}
	}

	for _, rule := range v.rules {
		value, ok := dotpath.Lookup(defaults, rule.Path)
		if !ok || value == nil {
			if rule.Required {
				violations = append(violations, mlperrors.Configurationf(rule.Path, "required field missing (rule: required)"))
			}
			continue
		}
		if err := v.CheckValue(rule.Path, value, rule.List, rule.Tag); err != nil {
			violations = append(violations, mlperrors.WrapConfiguration(rule.Path, err))
		}
	}

	return errors.Join(violations...)
}

// CheckValue validates a single value against a validator tag. The returned
// error names the failing rule but never the value itself.
func (v *Validator) CheckValue(path string, value any, list bool, tag string) error {
	if tag == "" {
		return nil
	}
	if list || strings.Contains(tag, "dive") {
		if value == nil || reflect.ValueOf(value).Kind() != reflect.Slice {
			return fmt.Errorf("must be a list (rule: list)")
		}
	}
	if err := v.validate.Var(value, tag); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("malformed value (rule: %s)", verrs[0].Tag())
		}
		return fmt.Errorf("malformed value: %w", err)
	}
	return nil
}
