package persistence

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
)

// GenesisHash is the prev_hash of the first record in a new audit file.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

const maxLineSize = 1 << 20

type fileRecord struct {
	*domain.AuditEntry
	PrevHash string `json:"prev_hash"`
}

// FileAuditRepository appends entries to a JSONL file in which every line
// carries the hash of the line before it. With a chain key the hashes are
// HMACs, so the chain cannot be rebuilt without the key.
type FileAuditRepository struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	chainKey []byte
	prevHash string
}

type FileOption func(*FileAuditRepository)

func WithChainKey(key []byte) FileOption {
	return func(r *FileAuditRepository) { r.chainKey = append([]byte(nil), key...) }
}

// OpenFileAuditRepository opens or creates the file at path and recovers
// the chain tail from its last line.
func OpenFileAuditRepository(path string, opts ...FileOption) (*FileAuditRepository, error) {
	r := &FileAuditRepository{path: path, prevHash: GenesisHash}
	for _, opt := range opts {
		opt(r)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit file: create directory: %w", err)
	}

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		var last []byte
		if err := scanLines(path, func(_ int, line []byte) error {
			last = line
			return nil
		}); err != nil {
			return nil, err
		}
		if len(last) > 0 {
			r.prevHash = hashLine(last, r.chainKey)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit file: open: %w", err)
	}
	r.file = f
	return r, nil
}

func (r *FileAuditRepository) CreateAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	return r.CreateAuditEntriesBatch(ctx, []*domain.AuditEntry{entry})
}

func (r *FileAuditRepository) CreateAuditEntriesBatch(_ context.Context, entries []*domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return fmt.Errorf("audit file: repository is closed")
	}
	for _, e := range entries {
		line, err := json.Marshal(fileRecord{AuditEntry: e, PrevHash: r.prevHash})
		if err != nil {
			return fmt.Errorf("audit file: marshal entry %s: %w", e.ID, err)
		}
		if _, err := r.file.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("audit file: write entry %s: %w", e.ID, err)
		}
		r.prevHash = hashLine(line, r.chainKey)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("audit file: sync: %w", err)
	}
	return nil
}

// GetAuditHistory returns the newest entries first. An empty operation
// matches every entry; a non-positive limit returns all of them.
func (r *FileAuditRepository) GetAuditHistory(_ context.Context, operation string, limit int) ([]*domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*domain.AuditEntry
	err := scanLines(r.path, func(n int, line []byte) error {
		var rec fileRecord
		rec.AuditEntry = &domain.AuditEntry{}
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("audit file: line %d: %w", n, err)
		}
		if operation == "" || rec.Operation == operation {
			all = append(all, rec.AuditEntry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.AuditEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *FileAuditRepository) Path() string { return r.path }

func (r *FileAuditRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// VerifyResult is the outcome of checking an audit file's hash chain.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify walks the file and reports the first broken link. chainKey must be
// the key the file was written with, or nil for a plain SHA-256 chain.
func Verify(path string, chainKey []byte) VerifyResult {
	expected := GenesisHash
	lines := 0
	err := scanLines(path, func(n int, line []byte) error {
		lines = n
		var rec struct {
			PrevHash string `json:"prev_hash"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return &chainError{line: n, msg: fmt.Sprintf("parse error: %v", err)}
		}
		if rec.PrevHash != expected {
			return &chainError{line: n, msg: fmt.Sprintf("hash mismatch: expected %s, got %s", expected, rec.PrevHash)}
		}
		expected = hashLine(line, chainKey)
		return nil
	})
	if err != nil {
		if ce, ok := err.(*chainError); ok {
			return VerifyResult{Lines: lines, Error: ce.msg, ErrorLine: ce.line}
		}
		return VerifyResult{Error: err.Error()}
	}
	return VerifyResult{Valid: true, Lines: lines}
}

type chainError struct {
	line int
	msg  string
}

func (e *chainError) Error() string { return e.msg }

func hashLine(line, key []byte) string {
	if len(key) == 0 {
		h := sha256.Sum256(line)
		return "sha256:" + hex.EncodeToString(h[:])
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(line)
	return "hmac-sha256:" + hex.EncodeToString(mac.Sum(nil))
}

func scanLines(path string, fn func(n int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("audit file: open: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		n++
		line := make([]byte, len(raw))
		copy(line, raw)
		if err := fn(n, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("audit file: scan: %w", err)
	}
	return nil
}
