package config

import "time"

// Audit persistence backends.
const (
	PersistenceNone     = "none"
	PersistenceFile     = "file"
	PersistencePostgres = "postgres"
)

// AuditSettings holds the configuration for the audit trail and its sinks.
type AuditSettings struct {
	SensitiveFields []string            `mapstructure:"sensitive_fields"`
	ChainKey        bool                `mapstructure:"chain_key"`
	Persistence     PersistenceSettings `mapstructure:"persistence"`
	Async           AsyncSettings       `mapstructure:"async"`
	S3Export        S3ExportSettings    `mapstructure:"s3_export"`
}

// AsyncSettings holds the configuration for the batching repository.
type AsyncSettings struct {
	Enabled           bool          `mapstructure:"enabled"`
	ChannelBufferSize int           `mapstructure:"channel_buffer_size" validate:"gte=0"`
	WorkerCount       int           `mapstructure:"worker_count"        validate:"gte=0"`
	BatchSize         int           `mapstructure:"batch_size"          validate:"gte=0"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout"`
}

// S3ExportSettings configures uploads of audit exports.
type S3ExportSettings struct {
	Bucket   string `mapstructure:"bucket"     validate:"omitempty,s3_bucket"`
	Prefix   string `mapstructure:"prefix"`
	KMSKeyID string `mapstructure:"kms_key_id" validate:"omitempty,kms_key"`
}
