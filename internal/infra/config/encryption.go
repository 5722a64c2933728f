package config

// Key sources for the configuration encryption key.
const (
	KeySourceNone = "none"
	KeySourceEnv  = "env"
	KeySourceFile = "file"
	KeySourceKMS  = "kms"
	KeySourceSSM  = "ssm"
)

// EncryptionSettings selects where the configuration key comes from. For
// kms the file holds the data key blob returned by GenerateDataKey.
type EncryptionSettings struct {
	Source            string `mapstructure:"source"              validate:"required,oneof=none env file kms ssm"`
	EnvVar            string `mapstructure:"env_var"             validate:"required_if=Source env"`
	KeyFile           string `mapstructure:"key_file"            validate:"required_if=Source file"`
	KMSKeyID          string `mapstructure:"kms_key_id"          validate:"omitempty,kms_key"`
	KMSCiphertextFile string `mapstructure:"kms_ciphertext_file" validate:"required_if=Source kms"`
	SSMParameter      string `mapstructure:"ssm_parameter"       validate:"required_if=Source ssm"`
}
