// Package cli implements the mlpsdk command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	infra_config "github.com/aws-samples/genai-ml-platform-examples-sub000/internal/infra/config"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/wiring"
	mlperrors "github.com/aws-samples/genai-ml-platform-examples-sub000/pkg/errors"
)

var (
	settingsPath string
	settings     *infra_config.Settings
	logger       *slog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Path to the SDK settings file (default ./mlp-sdk.yaml)")
}

var rootCmd = &cobra.Command{
	Use:           "mlpsdk",
	Short:         "Configuration, encryption and audit tooling for the ML platform SDK",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := infra_config.Load(settingsPath)
		if err != nil {
			return err
		}
		settings = s
		logger = infra_config.NewLogger(s.Logging, cmd.ErrOrStderr())
		return nil
	},
}

func newContainer() *wiring.Container {
	return wiring.NewContainer(settings, logger)
}

// Execute runs the root command and exits with a code derived from the
// error kind.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(ExitCode(err))
	}
}

// ExitCode maps an error to a sysexits-style process status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, mlperrors.ErrValidation):
		return 64 // EX_USAGE
	case errors.Is(err, mlperrors.ErrEncryption):
		return 65 // EX_DATAERR
	case errors.Is(err, mlperrors.ErrConfiguration):
		return 78 // EX_CONFIG
	default:
		return 1
	}
}
