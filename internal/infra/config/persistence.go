package config

import "time"

// CircuitBreakerSettings holds settings for the persistence circuit breaker.
type CircuitBreakerSettings struct {
	MaxFailures  uint32        `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// PersistenceSettings selects where completed audit entries are stored.
type PersistenceSettings struct {
	Type           string                 `mapstructure:"type"         validate:"required,oneof=none file postgres"`
	FilePath       string                 `mapstructure:"file_path"    validate:"required_if=Type file"`
	DatabaseURL    string                 `mapstructure:"database_url" validate:"required_if=Type postgres"`
	AutoMigrate    bool                   `mapstructure:"auto_migrate"`
	RequireTLS     bool                   `mapstructure:"require_tls"`
	Connection     DBConnectionSettings   `mapstructure:"connection"`
	CircuitBreaker CircuitBreakerSettings `mapstructure:"circuit_breaker"`
}

// DBConnectionSettings represents the database connection pool configuration.
type DBConnectionSettings struct {
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}
