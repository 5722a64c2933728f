package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/audit"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/domain"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/infra/persistence"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/wiring"
)

var (
	tailLines    int
	verifyKeyed  bool
	exportFormat string
	exportOut    string
	exportS3Key  string
	exportOp     string
	migrateURL   string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd, auditExportCmd, auditMigrateCmd)

	auditVerifyCmd.Flags().BoolVar(&verifyKeyed, "keyed", false, "Verify an HMAC chain keyed from the configured encryption key")
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Export format: json or csv")
	auditExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write the export to this file (default: stdout)")
	auditExportCmd.Flags().StringVar(&exportS3Key, "s3-key", "", "Upload the export to audit.s3_export.bucket under this key")
	auditExportCmd.Flags().StringVar(&exportOp, "operation", "", "Only export entries of this operation")
	auditMigrateCmd.Flags().StringVar(&migrateURL, "database-url", "", "Postgres URL (default: audit.persistence.database_url)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit file.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of an audit file",
	Long:  "Walks the JSONL audit file and checks that every entry's prev_hash\nmatches the hash of the previous line. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent audit entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

var auditExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export an audit file as JSON or CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditExport,
}

var auditMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the Postgres audit schema",
	Args:  cobra.NoArgs,
	RunE:  runAuditMigrate,
}

// errChainBroken makes Execute exit non-zero after the failure was printed.
var errChainBroken = fmt.Errorf("audit chain verification failed")

func runAuditVerify(cmd *cobra.Command, args []string) error {
	var chainKey []byte
	if verifyKeyed {
		key, err := requireKey(cmd)
		if err != nil {
			return err
		}
		chainKey, err = wiring.AuditChainKey(key)
		key.Destroy()
		if err != nil {
			return err
		}
	}

	result := persistence.Verify(args[0], chainKey)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	return errChainBroken
}

func readHistory(ctx context.Context, path, operation string, limit int) ([]domain.AuditEntry, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	repo, err := persistence.OpenFileAuditRepository(path)
	if err != nil {
		return nil, err
	}
	defer repo.Close()

	history, err := repo.GetAuditHistory(ctx, operation, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.AuditEntry, 0, len(history))
	for _, e := range slices.Backward(history) {
		entries = append(entries, *e)
	}
	return entries, nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	entries, err := readHistory(cmd.Context(), args[0], "", tailLines)
	if err != nil {
		return err
	}
	for _, e := range entries {
		out, _ := json.MarshalIndent(e, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	format, err := audit.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	entries, err := readHistory(cmd.Context(), args[0], exportOp, 0)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := audit.WriteEntries(&buf, format, entries); err != nil {
		return err
	}

	switch {
	case exportS3Key != "":
		c := newContainer()
		exporter, err := c.Exporter(cmd.Context())
		if err != nil {
			return err
		}
		if err := exporter.Upload(cmd.Context(), exportS3Key, format.ContentType(), buf.Bytes()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d entries to %s\n", len(entries), exportS3Key)
	case exportOut != "":
		if err := os.WriteFile(exportOut, buf.Bytes(), 0o600); err != nil {
			return fmt.Errorf("failed to write audit export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", len(entries), exportOut)
	default:
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	return nil
}

func runAuditMigrate(cmd *cobra.Command, args []string) error {
	url := migrateURL
	if url == "" {
		url = settings.Audit.Persistence.DatabaseURL
	}
	if url == "" {
		return fmt.Errorf("no database URL given, use --database-url or set audit.persistence.database_url")
	}
	if err := persistence.RunMigrations(url); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed successfully.")
	return nil
}
