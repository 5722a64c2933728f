// Package session composes configuration resolution, encryption and the
// audit trail into the object operation wrappers call into.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/audit"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/config"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/encryption"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
	customvalidator "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/validator"
)

// Configuration paths that session properties override.
const (
	pathDefaultBucket = "s3.default_bucket"
	pathExecutionRole = "iam.execution_role"
	pathKMSKeyID      = "kms.key_id"
)

// Properties are the top-level values a session resolves with. They start
// from the configuration document and change only through UpdateSessionConfig.
type Properties struct {
	Region        string
	DefaultBucket string
	ExecutionRole string
	KMSKeyID      string
}

// SessionUpdate names the properties to replace. Empty fields are left alone.
type SessionUpdate struct {
	Region        string `validate:"omitempty,aws_region"`
	DefaultBucket string `validate:"omitempty,s3_bucket"`
	ExecutionRole string `validate:"omitempty,iam_role_arn"`
	KMSKeyID      string `validate:"omitempty,kms_key"`
}

var updatePaths = map[string]string{
	"Region":        "region",
	"DefaultBucket": pathDefaultBucket,
	"ExecutionRole": pathExecutionRole,
	"KMSKeyID":      pathKMSKeyID,
}

// Session is safe for concurrent use. Resolve and Run share a read lock;
// UpdateSessionConfig takes the write lock, so an update never lands in the
// middle of a merge.
type Session struct {
	mu        sync.RWMutex
	props     Properties
	overrides map[string]any

	manager    *config.Manager
	trail      *audit.Trail
	engine     *encryption.Engine
	logger     *slog.Logger
	validate   *validator.Validate
	classifier *mlperrors.ErrorClassifier
}

type options struct {
	sources    int
	path       string
	data       []byte
	doc        *config.Document
	hasDoc     bool
	key        *encryption.Key
	trail      *audit.Trail
	logger     *slog.Logger
	region     string
	managerOps []config.Option
}

type Option func(*options)

// WithConfigPath loads the configuration document from path. A missing file
// yields an empty document.
func WithConfigPath(path string) Option {
	return func(o *options) { o.path = path; o.sources++ }
}

func WithConfigBytes(data []byte) Option {
	return func(o *options) { o.data = data; o.sources++ }
}

// WithDocument uses an already parsed document.
func WithDocument(doc *config.Document) Option {
	return func(o *options) { o.doc = doc; o.hasDoc = true; o.sources++ }
}

// WithEncryptionKey decrypts encrypted fields of the document.
func WithEncryptionKey(key *encryption.Key) Option {
	return func(o *options) { o.key = key }
}

// WithAuditTrail shares trail instead of creating one per session.
func WithAuditTrail(trail *audit.Trail) Option {
	return func(o *options) { o.trail = trail }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithManagerOptions passes options such as custom contexts to the
// configuration manager.
func WithManagerOptions(opts ...config.Option) Option {
	return func(o *options) { o.managerOps = append(o.managerOps, opts...) }
}

// New builds a session from at most one configuration source. Without a
// source the session resolves from runtime values alone. Configuration and
// encryption failures are returned here and never deferred to first use.
func New(opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.sources > 1 {
		return nil, mlperrors.Configurationf("", "exactly one configuration source may be given, got %d", o.sources)
	}

	managerOps := append([]config.Option{config.WithLogger(o.logger)}, o.managerOps...)
	var (
		m   *config.Manager
		err error
	)
	switch {
	case o.path != "":
		m, err = config.Load(o.path, o.key, managerOps...)
	case o.data != nil:
		m, err = config.LoadBytes(o.data, o.key, managerOps...)
	default:
		m, err = config.FromDocument(o.doc, managerOps...)
	}
	if err != nil {
		return nil, err
	}

	validate, err := customvalidator.New()
	if err != nil {
		return nil, fmt.Errorf("failed to register custom validators: %w", err)
	}

	trail := o.trail
	if trail == nil {
		trail = audit.New(audit.WithLogger(o.logger))
	}

	s := &Session{
		props: Properties{
			Region:        o.region,
			DefaultBucket: m.GetString(pathDefaultBucket, ""),
			ExecutionRole: m.GetString(pathExecutionRole, ""),
			KMSKeyID:      m.GetString(pathKMSKeyID, ""),
		},
		overrides:  make(map[string]any),
		manager:    m,
		trail:      trail,
		logger:     o.logger,
		validate:   validate,
		classifier: mlperrors.NewErrorClassifier(o.logger),
	}
	if o.key != nil {
		s.engine = encryption.NewEngine(o.key)
	}

	s.logger.Info("session created",
		"config_source", m.Document().Source(),
		"encrypted", m.Document().Encrypted(),
		"region", s.props.Region,
	)
	return s, nil
}

func (s *Session) Config() *config.Manager { return s.manager }

func (s *Session) AuditTrail() *audit.Trail { return s.trail }

// Encryption returns the engine holding the session key, or nil when the
// session was built without one.
func (s *Session) Encryption() *encryption.Engine { return s.engine }

func (s *Session) Properties() Properties {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props
}

// UpdateSessionConfig replaces the named properties for later resolutions.
// The configuration file is never touched. An invalid update changes nothing.
func (s *Session) UpdateSessionConfig(u SessionUpdate) error {
	if err := s.validate.Struct(u); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return mlperrors.Validationf(updatePaths[verrs[0].Field()], "malformed value (rule: %s)", verrs[0].Tag())
		}
		return mlperrors.Validationf("", "invalid session update: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Region != "" {
		s.props.Region = u.Region
	}
	if u.DefaultBucket != "" {
		s.props.DefaultBucket = u.DefaultBucket
		s.overrides[pathDefaultBucket] = u.DefaultBucket
	}
	if u.ExecutionRole != "" {
		s.props.ExecutionRole = u.ExecutionRole
		s.overrides[pathExecutionRole] = u.ExecutionRole
	}
	if u.KMSKeyID != "" {
		s.props.KMSKeyID = u.KMSKeyID
		s.overrides[pathKMSKeyID] = u.KMSKeyID
	}
	s.logger.Info("session properties updated", "region", s.props.Region, "default_bucket", s.props.DefaultBucket)
	return nil
}

// Resolve merges runtime over the session's configuration for opContext.
func (s *Session) Resolve(opContext string, runtime map[string]any) (*domain.ResolvedParameterSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manager.MergeWithRuntime(runtime, opContext, config.WithOverrides(s.overrides))
}

// OperationFunc performs the platform call with the resolved parameters.
type OperationFunc func(ctx context.Context, params *domain.ResolvedParameterSet) error

// Run resolves the parameters of an operation, records it, executes fn and
// completes the entry with the outcome. A resolution failure is recorded as
// failed and returned; the session stays usable. A panic in fn is recorded
// as failed before it propagates.
func (s *Session) Run(ctx context.Context, operation, opContext string, runtime map[string]any, fn OperationFunc) error {
	params, err := s.Resolve(opContext, runtime)
	if err != nil {
		id, recErr := s.trail.RecordContext(operation, opContext, runtime)
		if recErr != nil {
			return recErr
		}
		if cerr := s.trail.CompleteContext(ctx, id, domain.StatusFailed, err); cerr != nil {
			return cerr
		}
		s.classifier.LogAndRelease(ctx, s.classifier.Classify(err, operation))
		return err
	}

	id, err := s.trail.RecordContext(operation, opContext, params.Params())
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		if r := recover(); r != nil {
			_ = s.trail.CompleteContext(ctx, id, domain.StatusFailed, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	runErr := fn(ctx, params)
	completed = true

	status := domain.StatusSuccess
	if runErr != nil {
		status = domain.StatusFailed
	}
	if err := s.trail.CompleteContext(ctx, id, status, runErr); err != nil {
		return err
	}
	if runErr != nil {
		s.classifier.LogAndRelease(ctx, s.classifier.Classify(runErr, operation))
	}
	return runErr
}
