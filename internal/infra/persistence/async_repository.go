package persistence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
)

// ErrAuditQueueFull is returned when an entry cannot be queued without blocking.
var ErrAuditQueueFull = errors.New("audit queue is full, entry dropped")

// ErrAuditQueueClosed is returned for entries submitted after Close.
var ErrAuditQueueClosed = errors.New("audit queue is closed")

// AsyncConfig holds the configuration for the asynchronous repository.
type AsyncConfig struct {
	ChannelBufferSize int
	WorkerCount       int
	BatchSize         int
	BatchTimeout      time.Duration
}

func (c AsyncConfig) withDefaults() AsyncConfig {
	if c.ChannelBufferSize <= 0 {
		c.ChannelBufferSize = 1024
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = time.Second
	}
	return c
}

// AsyncAuditRepository queues entries and writes them to the wrapped
// repository in batches from background workers, so completing an audit
// entry never waits on storage.
type AsyncAuditRepository struct {
	logger  *slog.Logger
	inner   domain.AuditRepository
	entries chan *domain.AuditEntry
	wg      sync.WaitGroup
	config  AsyncConfig

	mu     sync.RWMutex
	closed bool
}

// NewAsyncAuditRepository starts the workers immediately.
func NewAsyncAuditRepository(logger *slog.Logger, inner domain.AuditRepository, config AsyncConfig) *AsyncAuditRepository {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	config = config.withDefaults()
	r := &AsyncAuditRepository{
		logger:  logger,
		inner:   inner,
		entries: make(chan *domain.AuditEntry, config.ChannelBufferSize),
		config:  config,
	}
	r.wg.Add(config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		go r.worker()
	}
	return r
}

// CreateAuditEntry queues entry. It never blocks.
func (r *AsyncAuditRepository) CreateAuditEntry(_ context.Context, entry *domain.AuditEntry) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrAuditQueueClosed
	}

	select {
	case r.entries <- entry:
		return nil
	default:
		r.logger.Warn("audit entry channel is full, entry dropped", "operation", entry.Operation, "audit_id", entry.ID)
		return ErrAuditQueueFull
	}
}

func (r *AsyncAuditRepository) CreateAuditEntriesBatch(ctx context.Context, entries []*domain.AuditEntry) error {
	var errs []error
	for _, e := range entries {
		if err := r.CreateAuditEntry(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetAuditHistory reads from the wrapped repository; queued entries are not
// visible until flushed.
func (r *AsyncAuditRepository) GetAuditHistory(ctx context.Context, operation string, limit int) ([]*domain.AuditEntry, error) {
	return r.inner.GetAuditHistory(ctx, operation, limit)
}

// QueueDepth is the number of entries waiting to be written.
func (r *AsyncAuditRepository) QueueDepth() int { return len(r.entries) }

// Close stops accepting entries and waits for queued ones to be written, or
// for ctx to expire.
func (r *AsyncAuditRepository) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.entries)
	r.mu.Unlock()

	r.logger.Info("shutting down audit repository", "pending", r.QueueDepth())
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("audit repository shut down successfully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncAuditRepository) worker() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.BatchTimeout)
	defer ticker.Stop()

	batch := make([]*domain.AuditEntry, 0, r.config.BatchSize)

	for {
		select {
		case entry, ok := <-r.entries:
			if !ok {
				r.writeBatch(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= r.config.BatchSize {
				r.writeBatch(batch)
				batch = make([]*domain.AuditEntry, 0, r.config.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.writeBatch(batch)
				batch = make([]*domain.AuditEntry, 0, r.config.BatchSize)
			}
		}
	}
}

func (r *AsyncAuditRepository) writeBatch(batch []*domain.AuditEntry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.inner.CreateAuditEntriesBatch(ctx, batch); err != nil {
		r.logger.Error("failed to write audit batch", "error", err, "entries", len(batch))
	}
}
