package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

var csvHeader = []string{"timestamp", "operation", "status", "error", "parameters"}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

type exportRecord struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters"`
	Status     string         `json:"status"`
	Error      *string        `json:"error"`
}

// Export writes every entry to path in the given format.
func (t *Trail) Export(path string, format Format) error {
	var buf bytes.Buffer
	if err := t.ExportTo(&buf, format); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write audit export: %w", err)
	}
	return nil
}

// ExportTo writes every entry to w. The CSV form flattens parameters into a
// single JSON column and is meant for reporting only.
func (t *Trail) ExportTo(w io.Writer, format Format) error {
	return WriteEntries(w, format, t.Entries())
}

// WriteEntries renders entries read back from a repository the same way
// ExportTo renders a live trail.
func WriteEntries(w io.Writer, format Format, entries []domain.AuditEntry) error {
	switch format {
	case FormatJSON:
		return exportJSON(w, entries)
	case FormatCSV:
		return exportCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func exportJSON(w io.Writer, entries []domain.AuditEntry) error {
	records := make([]exportRecord, 0, len(entries))
	for _, e := range entries {
		r := exportRecord{
			ID:         e.ID,
			Timestamp:  e.Timestamp,
			Operation:  e.Operation,
			Parameters: e.Parameters,
			Status:     string(e.Status),
		}
		if e.Error != "" {
			msg := e.Error
			r.Error = &msg
		}
		records = append(records, r)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode audit export: %w", err)
	}
	return nil
}

func exportCSV(w io.Writer, entries []domain.AuditEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write audit export: %w", err)
	}
	for _, e := range entries {
		params, err := json.Marshal(e.Parameters)
		if err != nil {
			return fmt.Errorf("failed to encode parameters of entry %s: %w", e.ID, err)
		}
		row := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			e.Operation,
			string(e.Status),
			e.Error,
			string(params),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write audit export: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Uploader stores an export object remotely.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body []byte) error
}

// ExportToS3 serializes the trail and hands it to uploader under key.
func (t *Trail) ExportToS3(ctx context.Context, uploader Uploader, key string, format Format) error {
	if uploader == nil {
		return mlperrors.AuditInternalf("no uploader configured for audit export")
	}
	var buf bytes.Buffer
	if err := t.ExportTo(&buf, format); err != nil {
		return err
	}
	if err := uploader.Upload(ctx, key, format.ContentType(), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to upload audit export: %w", err)
	}
	t.logger.InfoContext(ctx, "audit trail exported", "key", key, "format", string(format), "entries", t.Len())
	return nil
}
