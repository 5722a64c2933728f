// Package wiring builds the SDK's collaborators from process settings.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/audit"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/encryption"
	infra_config "github.com/aws-samples/genai-ml-platform-examples-sub000/internal/infra/config"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/infra/persistence"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/session"
)

var (
	auditChainSalt = []byte("mlp-sdk-audit")
	auditChainInfo = []byte("audit-chain-v1")
)

// Container owns everything built from Settings and closes it in reverse
// order of construction.
type Container struct {
	cfg      *infra_config.Settings
	logger   *slog.Logger
	registry prometheus.Registerer

	kmsClient encryption.KMSAPI
	ssmClient encryption.SSMAPI
	s3Client  persistence.S3API

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error

	mu      sync.Mutex
	closers []func(context.Context) error
}

type Option func(*Container)

// WithRegisterer registers audit metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Container) { c.registry = reg }
}

func WithKMSClient(client encryption.KMSAPI) Option {
	return func(c *Container) { c.kmsClient = client }
}

func WithSSMClient(client encryption.SSMAPI) Option {
	return func(c *Container) { c.ssmClient = client }
}

func WithS3Client(client persistence.S3API) Option {
	return func(c *Container) { c.s3Client = client }
}

func NewContainer(cfg *infra_config.Settings, logger *slog.Logger, opts ...Option) *Container {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Container{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Container) Settings() *infra_config.Settings { return c.cfg }

func (c *Container) Logger() *slog.Logger { return c.logger }

func (c *Container) awsConfig(ctx context.Context) (aws.Config, error) {
	c.awsOnce.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if c.cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(c.cfg.Region))
		}
		c.awsCfg, c.awsErr = awsconfig.LoadDefaultConfig(ctx, opts...)
		if c.awsErr != nil {
			c.awsErr = fmt.Errorf("failed to load aws config: %w", c.awsErr)
		}
	})
	return c.awsCfg, c.awsErr
}

// KMSClient returns the injected client or one built from the default AWS
// credential chain.
func (c *Container) KMSClient(ctx context.Context) (encryption.KMSAPI, error) {
	if c.kmsClient != nil {
		return c.kmsClient, nil
	}
	awsCfg, err := c.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	c.kmsClient = kms.NewFromConfig(awsCfg)
	return c.kmsClient, nil
}

func (c *Container) ssm(ctx context.Context) (encryption.SSMAPI, error) {
	if c.ssmClient != nil {
		return c.ssmClient, nil
	}
	awsCfg, err := c.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	c.ssmClient = ssm.NewFromConfig(awsCfg)
	return c.ssmClient, nil
}

func (c *Container) s3(ctx context.Context) (persistence.S3API, error) {
	if c.s3Client != nil {
		return c.s3Client, nil
	}
	awsCfg, err := c.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	c.s3Client = s3.NewFromConfig(awsCfg)
	return c.s3Client, nil
}

// Key loads the configuration key from the configured source. It returns
// nil without error when the source is none.
func (c *Container) Key(ctx context.Context) (*encryption.Key, error) {
	enc := c.cfg.Encryption
	switch enc.Source {
	case infra_config.KeySourceNone, "":
		return nil, nil
	case infra_config.KeySourceEnv:
		return encryption.LoadKeyFromEnv(enc.EnvVar)
	case infra_config.KeySourceFile:
		return encryption.LoadKeyFromFile(enc.KeyFile)
	case infra_config.KeySourceKMS:
		blob, err := os.ReadFile(enc.KMSCiphertextFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read kms data key blob: %w", err)
		}
		client, err := c.KMSClient(ctx)
		if err != nil {
			return nil, err
		}
		return encryption.NewKMSKeySource(client, enc.KMSKeyID).DecryptDataKey(ctx, blob)
	case infra_config.KeySourceSSM:
		client, err := c.ssm(ctx)
		if err != nil {
			return nil, err
		}
		return encryption.NewParameterStore(client).LoadKey(ctx, enc.SSMParameter)
	default:
		return nil, fmt.Errorf("unsupported key source: %s", enc.Source)
	}
}

// AuditChainKey derives the HMAC key for the audit file chain from the
// configuration key.
func AuditChainKey(key *encryption.Key) ([]byte, error) {
	sub, err := encryption.DeriveSubkey(key, auditChainSalt, auditChainInfo)
	if err != nil {
		return nil, err
	}
	defer sub.Destroy()
	return sub.Bytes(), nil
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.mu.Lock()
	c.closers = append(c.closers, fn)
	c.mu.Unlock()
}

// AuditRepository builds the configured sink for completed audit entries,
// or nil when persistence is disabled. key is required only for a keyed
// file chain.
func (c *Container) AuditRepository(ctx context.Context, key *encryption.Key) (domain.AuditRepository, error) {
	p := c.cfg.Audit.Persistence
	var repo domain.AuditRepository

	switch p.Type {
	case infra_config.PersistenceNone, "":
		return nil, nil
	case infra_config.PersistenceFile:
		var opts []persistence.FileOption
		if c.cfg.Audit.ChainKey {
			if key == nil {
				return nil, errors.New("audit chain key requested but no encryption key is configured")
			}
			chainKey, err := AuditChainKey(key)
			if err != nil {
				return nil, err
			}
			opts = append(opts, persistence.WithChainKey(chainKey))
		}
		fileRepo, err := persistence.OpenFileAuditRepository(p.FilePath, opts...)
		if err != nil {
			return nil, err
		}
		c.onClose(func(context.Context) error { return fileRepo.Close() })
		repo = fileRepo
	case infra_config.PersistencePostgres:
		if p.AutoMigrate {
			if err := persistence.RunMigrations(p.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := persistence.NewPool(ctx, p.DatabaseURL, persistence.PoolConfig{
			MaxConns:          p.Connection.MaxConns,
			MinConns:          p.Connection.MinConns,
			MaxConnLifetime:   p.Connection.MaxConnLifetime,
			MaxConnIdleTime:   p.Connection.MaxConnIdleTime,
			HealthCheckPeriod: p.Connection.HealthCheckPeriod,
			RequireTLS:        p.RequireTLS,
		})
		if err != nil {
			return nil, err
		}
		c.onClose(func(context.Context) error { pool.Close(); return nil })
		pgRepo, err := persistence.NewAuditRepository(pool, persistence.BreakerConfig{
			MaxFailures:  p.CircuitBreaker.MaxFailures,
			ResetTimeout: p.CircuitBreaker.ResetTimeout,
		})
		if err != nil {
			return nil, err
		}
		repo = pgRepo
	default:
		return nil, fmt.Errorf("invalid persistence type: %s", p.Type)
	}

	if a := c.cfg.Audit.Async; a.Enabled {
		async := persistence.NewAsyncAuditRepository(c.logger, repo, persistence.AsyncConfig{
			ChannelBufferSize: a.ChannelBufferSize,
			WorkerCount:       a.WorkerCount,
			BatchSize:         a.BatchSize,
			BatchTimeout:      a.BatchTimeout,
		})
		c.onClose(async.Close)
		repo = async
	}
	return repo, nil
}

// Trail builds an audit trail persisting to repo, which may be nil.
func (c *Container) Trail(repo domain.AuditRepository) *audit.Trail {
	opts := []audit.Option{
		audit.WithLogger(c.logger),
		audit.WithMetrics(audit.NewMetrics(c.registry)),
	}
	if len(c.cfg.Audit.SensitiveFields) > 0 {
		opts = append(opts, audit.WithSensitiveFields(c.cfg.Audit.SensitiveFields...))
	}
	if repo != nil {
		opts = append(opts, audit.WithRepository(repo))
	}
	return audit.New(opts...)
}

// Session builds a session over the configured document, key and audit sink.
func (c *Container) Session(ctx context.Context) (*session.Session, error) {
	key, err := c.Key(ctx)
	if err != nil {
		return nil, err
	}
	repo, err := c.AuditRepository(ctx, key)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{
		session.WithLogger(c.logger),
		session.WithRegion(c.cfg.Region),
		session.WithAuditTrail(c.Trail(repo)),
	}
	if c.cfg.ConfigPath != "" {
		opts = append(opts, session.WithConfigPath(c.cfg.ConfigPath))
	}
	if key != nil {
		opts = append(opts, session.WithEncryptionKey(key))
	}
	return session.New(opts...)
}

// Exporter builds the S3 uploader for audit exports.
func (c *Container) Exporter(ctx context.Context) (*persistence.S3Exporter, error) {
	e := c.cfg.Audit.S3Export
	if e.Bucket == "" {
		return nil, errors.New("audit.s3_export.bucket is not configured")
	}
	client, err := c.s3(ctx)
	if err != nil {
		return nil, err
	}
	opts := []persistence.S3ExporterOption{persistence.WithS3KMSKey(e.KMSKeyID)}
	if e.Prefix != "" {
		opts = append(opts, persistence.WithS3Prefix(e.Prefix))
	}
	return persistence.NewS3Exporter(client, e.Bucket, c.logger, opts...), nil
}

// Close releases everything the container opened, newest first.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
