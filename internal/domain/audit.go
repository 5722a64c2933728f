package domain

import (
	"context"
	"time"
)

type AuditStatus string

const (
	StatusPending AuditStatus = "pending"
	StatusSuccess AuditStatus = "success"
	StatusFailed  AuditStatus = "failed"
)

// Terminal reports whether an entry in this status may no longer change.
func (s AuditStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s AuditStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// AuditEntry records one operation attempted through a session. Parameters
// are redacted before the entry is created.
type AuditEntry struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Operation   string         `json:"operation"`
	Context     string         `json:"context,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Status      AuditStatus    `json:"status"`
	Error       string         `json:"error,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
}

// Duration is zero until the entry is completed.
func (e *AuditEntry) Duration() time.Duration {
	if e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.Timestamp)
}

// AuditRepository persists completed audit entries outside the process.
type AuditRepository interface {
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	CreateAuditEntriesBatch(ctx context.Context, entries []*AuditEntry) error
	GetAuditHistory(ctx context.Context, operation string, limit int) ([]*AuditEntry, error)
}
