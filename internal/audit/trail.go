// Package audit keeps the append-only record of operations attempted
// through a session.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

// Trail is safe for concurrent use. Entries are appended by Record and
// transition to a terminal status exactly once through Complete.
type Trail struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
	index   map[string]int

	redactor *Redactor
	repo     domain.AuditRepository
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Trail)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) { t.logger = logger }
}

// WithSensitiveFields replaces the default redaction patterns.
func WithSensitiveFields(patterns ...string) Option {
	return func(t *Trail) { t.redactor = NewRedactor(patterns) }
}

// WithRepository persists every entry once it is completed.
func WithRepository(repo domain.AuditRepository) Option {
	return func(t *Trail) { t.repo = repo }
}

func WithMetrics(m *Metrics) Option {
	return func(t *Trail) { t.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

func New(opts ...Option) *Trail {
	t := &Trail{
		index: make(map[string]int),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}
	if t.redactor == nil {
		t.redactor = NewRedactor(DefaultSensitiveFields)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(nil)
	}
	return t
}

func (t *Trail) Redactor() *Redactor { return t.redactor }

// Record appends a pending entry holding a redacted copy of params and
// returns its id.
func (t *Trail) Record(operation string, params map[string]any) (string, error) {
	return t.RecordContext(operation, "", params)
}

// RecordContext is Record for an operation resolved under an operation context.
func (t *Trail) RecordContext(operation, opContext string, params map[string]any) (string, error) {
	if operation == "" {
		return "", mlperrors.AuditInternalf("operation name is empty")
	}
	entry := &domain.AuditEntry{
		ID:         uuid.New().String(),
		Timestamp:  t.now().UTC(),
		Operation:  operation,
		Context:    opContext,
		Parameters: t.redactor.Redact(params),
		Status:     domain.StatusPending,
	}

	t.mu.Lock()
	t.index[entry.ID] = len(t.entries)
	t.entries = append(t.entries, entry)
	t.mu.Unlock()

	t.metrics.Recorded.WithLabelValues(operation).Inc()
	t.metrics.Pending.Inc()
	t.logEvent(context.Background(), entry)

	return entry.ID, nil
}

// Complete moves the entry to status. Completing an unknown or already
// completed entry, or completing with a non-terminal status, is a caller bug
// reported as ErrAuditInternal.
func (t *Trail) Complete(id string, status domain.AuditStatus, cause error) error {
	return t.CompleteContext(context.Background(), id, status, cause)
}

func (t *Trail) CompleteContext(ctx context.Context, id string, status domain.AuditStatus, cause error) error {
	if !status.Terminal() {
		return mlperrors.AuditInternalf("entry %s: status %q is not terminal", id, status)
	}

	t.mu.Lock()
	i, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return mlperrors.AuditInternalf("entry %s does not exist", id)
	}
	entry := t.entries[i]
	if entry.Status.Terminal() {
		t.mu.Unlock()
		return mlperrors.AuditInternalf("entry %s already completed with status %s", id, entry.Status)
	}
	entry.Status = status
	entry.CompletedAt = t.now().UTC()
	if cause != nil {
		entry.Error = cause.Error()
	}
	snapshot := copyEntry(entry)
	t.mu.Unlock()

	t.metrics.Pending.Dec()
	t.metrics.Completed.WithLabelValues(snapshot.Operation, string(status)).Inc()
	t.metrics.Duration.WithLabelValues(snapshot.Operation, string(status)).Observe(snapshot.Duration().Seconds())
	t.logEvent(ctx, &snapshot)

	if t.repo != nil {
		if err := t.repo.CreateAuditEntry(ctx, &snapshot); err != nil {
			t.metrics.RepositoryErrors.Inc()
			t.logger.ErrorContext(ctx, "failed to store audit entry",
				slog.String("audit_id", snapshot.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (t *Trail) logEvent(ctx context.Context, e *domain.AuditEntry) {
	attrs := []slog.Attr{
		slog.String("audit_id", e.ID),
		slog.String("operation", e.Operation),
		slog.String("status", string(e.Status)),
		slog.Time("timestamp", e.Timestamp),
	}
	if e.Context != "" {
		attrs = append(attrs, slog.String("context", e.Context))
	}
	if e.Status.Terminal() {
		attrs = append(attrs, slog.Duration("duration", e.Duration()))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	t.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event", attrs...)
}

// Filter selects entries by equality. Zero fields match everything; a
// positive Limit keeps only the most recent matches.
type Filter struct {
	Operation string
	Status    domain.AuditStatus
	Limit     int
}

// Query returns copies of the matching entries in creation order.
func (t *Trail) Query(f Filter) []domain.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []domain.AuditEntry
	for _, e := range t.entries {
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, copyEntry(e))
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Entries returns copies of every entry in creation order.
func (t *Trail) Entries() []domain.AuditEntry { return t.Query(Filter{}) }

func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

type Summary struct {
	Total       int                        `json:"total"`
	ByOperation map[string]int             `json:"by_operation"`
	ByStatus    map[domain.AuditStatus]int `json:"by_status"`
	Failed      []string                   `json:"failed"`
}

// Summary aggregates the trail at the time of the call.
func (t *Trail) Summary() Summary {
	entries := t.Entries()
	s := Summary{
		Total:       len(entries),
		ByOperation: make(map[string]int),
		ByStatus:    make(map[domain.AuditStatus]int),
		Failed:      []string{},
	}
	for _, e := range entries {
		s.ByOperation[e.Operation]++
		s.ByStatus[e.Status]++
		if e.Status == domain.StatusFailed {
			s.Failed = append(s.Failed, e.ID)
		}
	}
	return s
}

func copyEntry(e *domain.AuditEntry) domain.AuditEntry {
	c := *e
	c.Parameters = dotpath.CloneMap(e.Parameters)
	return c
}
