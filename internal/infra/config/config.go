package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	customvalidator "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/validator"
)

// EnvPrefix prefixes every environment override, e.g. MLP_SDK_AUDIT_PERSISTENCE_TYPE.
const EnvPrefix = "MLP_SDK"

// Settings configures the SDK process itself: where the configuration
// document lives, how its key is obtained and where the audit trail goes.
type Settings struct {
	ConfigPath string             `mapstructure:"config_path"`
	Region     string             `mapstructure:"region"     validate:"omitempty,aws_region"`
	Encryption EncryptionSettings `mapstructure:"encryption"`
	Audit      AuditSettings      `mapstructure:"audit"`
	Logging    LoggingSettings    `mapstructure:"logging"`
}

var defaults = map[string]any{
	"config_path":                                      "",
	"region":                                           "",
	"encryption.source":                                KeySourceNone,
	"encryption.env_var":                               "MLP_SDK_ENCRYPTION_KEY",
	"encryption.key_file":                              "",
	"encryption.kms_key_id":                            "",
	"encryption.kms_ciphertext_file":                   "",
	"encryption.ssm_parameter":                         "",
	"audit.sensitive_fields":                           []string{},
	"audit.chain_key":                                  false,
	"audit.persistence.type":                           PersistenceNone,
	"audit.persistence.file_path":                      "",
	"audit.persistence.database_url":                   "",
	"audit.persistence.auto_migrate":                   false,
	"audit.persistence.require_tls":                    false,
	"audit.persistence.connection.max_conns":           0,
	"audit.persistence.connection.min_conns":           0,
	"audit.persistence.connection.max_conn_lifetime":   "0s",
	"audit.persistence.connection.max_conn_idle_time":  "0s",
	"audit.persistence.connection.health_check_period": "0s",
	"audit.persistence.circuit_breaker.max_failures":   5,
	"audit.persistence.circuit_breaker.reset_timeout":  "30s",
	"audit.async.enabled":                              false,
	"audit.async.channel_buffer_size":                  1024,
	"audit.async.worker_count":                         1,
	"audit.async.batch_size":                           50,
	"audit.async.batch_timeout":                        "1s",
	"audit.s3_export.bucket":                           "",
	"audit.s3_export.prefix":                           "audit/",
	"audit.s3_export.kms_key_id":                       "",
	"logging.level":                                    "info",
	"logging.format":                                   "text",
}

// Load reads settings from path, or from ./mlp-sdk.yaml or
// ~/.config/mlp-sdk/settings.yaml when path is empty, then applies
// MLP_SDK_* environment overrides. A missing settings file is not an error.
func Load(path string) (*Settings, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("mlp-sdk")
		vip.AddConfigPath(".")
		vip.AddConfigPath("$HOME/.config/mlp-sdk")
	}

	vip.SetConfigType("yaml")
	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	for key, value := range defaults {
		vip.SetDefault(key, value)
	}

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	var s Settings
	if err := vip.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	validate, err := customvalidator.New()
	if err != nil {
		return fmt.Errorf("failed to register custom validators: %w", err)
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	return nil
}
