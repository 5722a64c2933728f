package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
)

const (
	insertAuditEntryQuery = `INSERT INTO audit_entries (id, timestamp, operation, context, parameters, status, error_message, completed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`
	auditHistoryQuery     = `SELECT id, timestamp, operation, context, parameters, status, error_message, completed_at FROM audit_entries WHERE ($1 = '' OR operation = $1) ORDER BY timestamp DESC LIMIT $2`
)

// DBTX is the subset of *pgxpool.Pool the repository uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// AuditRepository stores audit entries in Postgres behind a circuit breaker.
type AuditRepository struct {
	db      DBTX
	breaker *gobreaker.CircuitBreaker
}

func NewAuditRepository(db DBTX, breaker BreakerConfig) (*AuditRepository, error) {
	if db == nil {
		return nil, errors.New("audit repository requires a database handle")
	}
	return &AuditRepository{db: db, breaker: newBreaker("audit-postgres", breaker)}, nil
}

// BreakerConfig controls when repository calls stop reaching the backend.
type BreakerConfig struct {
	MaxFailures  uint32
	ResetTimeout time.Duration
}

// DefaultBreakerConfig trips after five consecutive failures.
var DefaultBreakerConfig = BreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultBreakerConfig.MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig.ResetTimeout
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	})
}

func entryArgs(e *domain.AuditEntry) ([]any, error) {
	params, err := json.Marshal(e.Parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters of entry %s: %w", e.ID, err)
	}
	var completedAt *time.Time
	if !e.CompletedAt.IsZero() {
		t := e.CompletedAt
		completedAt = &t
	}
	return []any{e.ID, e.Timestamp, e.Operation, e.Context, params, string(e.Status), e.Error, completedAt}, nil
}

func (r *AuditRepository) CreateAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	args, err := entryArgs(entry)
	if err != nil {
		return err
	}
	_, err = r.breaker.Execute(func() (interface{}, error) {
		return r.db.Exec(ctx, insertAuditEntryQuery, args...)
	})
	return err
}

func (r *AuditRepository) CreateAuditEntriesBatch(ctx context.Context, entries []*domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		args, err := entryArgs(e)
		if err != nil {
			return err
		}
		batch.Queue(insertAuditEntryQuery, args...)
	}

	_, err := r.breaker.Execute(func() (interface{}, error) {
		results := r.db.SendBatch(ctx, batch)
		defer results.Close()
		for range entries {
			if _, err := results.Exec(); err != nil {
				return nil, fmt.Errorf("failed to write audit batch: %w", err)
			}
		}
		return nil, nil
	})
	return err
}

// GetAuditHistory returns the newest entries first. An empty operation
// matches every entry; a non-positive limit returns all of them.
func (r *AuditRepository) GetAuditHistory(ctx context.Context, operation string, limit int) ([]*domain.AuditEntry, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.Query(ctx, auditHistoryQuery, operation, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var (
			e           domain.AuditEntry
			params      []byte
			status      string
			completedAt *time.Time
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Operation, &e.Context, &params, &status, &e.Error, &completedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(params, &e.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode parameters of entry %s: %w", e.ID, err)
		}
		e.Status = domain.AuditStatus(status)
		if completedAt != nil {
			e.CompletedAt = *completedAt
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
