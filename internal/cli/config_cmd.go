package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/config"
	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/encryption"
)

var (
	configOut   string
	configPaths []string
	configFile  string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configEncryptCmd, configDecryptCmd, configValidateCmd, configGetCmd)

	for _, c := range []*cobra.Command{configEncryptCmd, configDecryptCmd} {
		c.Flags().StringVarP(&configOut, "out", "o", "", "Output file (default: rewrite in place)")
		c.Flags().StringSliceVarP(&configPaths, "path", "p", nil, "Dotted path to a field, e.g. defaults.iam.execution_role (repeatable)")
	}
	_ = configEncryptCmd.MarkFlagRequired("path")

	configGetCmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file (default: config_path from settings)")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Platform configuration documents",
}

var configEncryptCmd = &cobra.Command{
	Use:   "encrypt <file>",
	Short: "Encrypt fields of a configuration file in place",
	Long:  "Replaces each named field with an AES-256-GCM envelope. Comments and\nunrelated fields are preserved. Paths that are absent are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigEncrypt,
}

var configDecryptCmd = &cobra.Command{
	Use:   "decrypt <file>",
	Short: "Decrypt fields of a configuration file",
	Long:  "Restores the named fields, or every encrypted field when no --path is given.",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigDecrypt,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a configuration file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigValidate,
}

var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Print a value from the defaults section",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

func requireKey(cmd *cobra.Command) (*encryption.Key, error) {
	key, err := newContainer().Key(cmd.Context())
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errors.New("no encryption key configured, set encryption.source in the settings file")
	}
	return key, nil
}

func outputPath(in string) string {
	if configOut != "" {
		return configOut
	}
	return in
}

func runConfigEncrypt(cmd *cobra.Command, args []string) error {
	key, err := requireKey(cmd)
	if err != nil {
		return err
	}
	defer key.Destroy()

	out := outputPath(args[0])
	if err := encryption.EncryptConfigFile(args[0], out, configPaths, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "encrypted %d field(s) into %s\n", len(configPaths), out)
	return nil
}

func runConfigDecrypt(cmd *cobra.Command, args []string) error {
	key, err := requireKey(cmd)
	if err != nil {
		return err
	}
	defer key.Destroy()

	out := outputPath(args[0])
	if err := encryption.DecryptConfigFile(args[0], out, configPaths, key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "decrypted %s\n", out)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	key, err := newContainer().Key(cmd.Context())
	if err != nil {
		return err
	}
	m, err := config.Load(args[0], key, config.WithLogger(logger))
	if err != nil {
		return err
	}
	if m.Document().Empty() {
		return fmt.Errorf("%s: no configuration found", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", args[0])
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = settings.ConfigPath
	}
	if path == "" {
		return errors.New("no configuration file given, use --config or set config_path")
	}
	key, err := newContainer().Key(cmd.Context())
	if err != nil {
		return err
	}
	m, err := config.Load(path, key, config.WithLogger(logger))
	if err != nil {
		return err
	}
	v, ok := m.Document().Lookup(args[0])
	if !ok {
		return fmt.Errorf("%s is not set", args[0])
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}
