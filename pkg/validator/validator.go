package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinInstanceCount = 1
	MaxInstanceCount = 100
)

var (
	arnRegex           = regexp.MustCompile(`^arn:aws[a-z\-]*:[a-z0-9\-]+:[a-z0-9\-]*:[0-9]{12}:.+$`)
	iamRoleRegex       = regexp.MustCompile(`^arn:aws:iam::[0-9]{12}:role/[\w+=,.@/\-]{1,512}$`)
	vpcIDRegex         = regexp.MustCompile(`^vpc-[0-9a-f]{8,17}$`)
	subnetIDRegex      = regexp.MustCompile(`^subnet-[0-9a-f]{8,17}$`)
	securityGroupRegex = regexp.MustCompile(`^sg-[0-9a-f]{8,17}$`)
	bucketRegex        = regexp.MustCompile(`^[a-z0-9.\-]{3,63}$`)
	s3URIRegex         = regexp.MustCompile(`^s3://[a-z0-9.\-]{3,63}(/.*)?$`)
	s3PrefixRegex      = regexp.MustCompile(`^[^/\s][^\s]*/$`)
	instanceTypeRegex  = regexp.MustCompile(`^ml\.[a-z0-9\-]+\.[a-z0-9]+$`)
	kmsKeyRegex        = regexp.MustCompile(`^(arn:aws[a-z\-]*:kms:[a-z0-9\-]+:[0-9]{12}:(key|alias)/.+|[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}|alias/[\w/\-]+)$`)
	regionRegex        = regexp.MustCompile(`^[a-z]{2}(-gov|-iso[a-z]?)?-[a-z]+-[0-9]$`)
)

func stringMatcher(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() != reflect.String {
			return false
		}
		return re.MatchString(field.String())
	}
}

// isS3PrefixURI accepts s3:// URIs that address a prefix, i.e. end with a slash.
func isS3PrefixURI(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return false
	}
	v := field.String()
	return s3URIRegex.MatchString(v) && strings.HasSuffix(v, "/")
}

func isInstanceCount(fl validator.FieldLevel) bool {
	field := fl.Field()
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := field.Int()
		return n >= MinInstanceCount && n <= MaxInstanceCount
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := field.Uint()
		return n >= MinInstanceCount && n <= MaxInstanceCount
	default:
		return false
	}
}

func isBool(fl validator.FieldLevel) bool {
	return fl.Field().Kind() == reflect.Bool
}

// RegisterCustomValidators registers the ML platform field formats with the validator.
func RegisterCustomValidators(validate *validator.Validate) error {
	custom := map[string]validator.Func{
		"arn":               stringMatcher(arnRegex),
		"iam_role_arn":      stringMatcher(iamRoleRegex),
		"vpc_id":            stringMatcher(vpcIDRegex),
		"subnet_id":         stringMatcher(subnetIDRegex),
		"security_group_id": stringMatcher(securityGroupRegex),
		"s3_bucket":         stringMatcher(bucketRegex),
		"s3_uri":            stringMatcher(s3URIRegex),
		"s3_prefix_uri":     isS3PrefixURI,
		"s3_prefix":         stringMatcher(s3PrefixRegex),
		"instance_type":     stringMatcher(instanceTypeRegex),
		"instance_count":    isInstanceCount,
		"kms_key":           stringMatcher(kmsKeyRegex),
		"aws_region":        stringMatcher(regionRegex),
		"bool_value":        isBool,
	}
	for tag, fn := range custom {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

// New returns a validator with the custom formats registered.
func New() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return nil, err
	}
	return v, nil
}
