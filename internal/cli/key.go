package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/encryption"
)

var (
	keyOut      string
	keyForce    bool
	kmsKeyID    string
	kmsBlobPath string
)

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenerateCmd)
	keyCmd.AddCommand(keyGenerateKMSCmd)

	keyGenerateCmd.Flags().StringVarP(&keyOut, "out", "o", "", "Write the key to this file (mode 0600) instead of stdout")
	keyGenerateCmd.Flags().BoolVar(&keyForce, "force", false, "Overwrite an existing key file")

	keyGenerateKMSCmd.Flags().StringVar(&kmsKeyID, "kms-key-id", "", "KMS key id, ARN or alias that wraps the data key")
	keyGenerateKMSCmd.Flags().StringVarP(&kmsBlobPath, "out", "o", "", "File to store the encrypted data key in")
	keyGenerateKMSCmd.Flags().BoolVar(&keyForce, "force", false, "Overwrite an existing blob file")
	_ = keyGenerateKMSCmd.MarkFlagRequired("kms-key-id")
	_ = keyGenerateKMSCmd.MarkFlagRequired("out")
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Configuration encryption keys",
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random AES-256 key",
	Args:  cobra.NoArgs,
	RunE:  runKeyGenerate,
}

var keyGenerateKMSCmd = &cobra.Command{
	Use:   "generate-kms",
	Short: "Generate a KMS-wrapped data key",
	Long:  "Asks KMS for a new AES-256 data key and stores only its encrypted form.\nPoint encryption.kms_ciphertext_file at the output to use it.",
	Args:  cobra.NoArgs,
	RunE:  runKeyGenerateKMS,
}

func runKeyGenerate(cmd *cobra.Command, args []string) error {
	key, err := encryption.GenerateKey()
	if err != nil {
		return err
	}
	defer key.Destroy()

	if keyOut == "" {
		fmt.Fprintln(cmd.OutOrStdout(), key.Encoded())
		return nil
	}
	if err := encryption.WriteKeyFile(keyOut, key, keyForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote key to %s\n", keyOut)
	return nil
}

func runKeyGenerateKMS(cmd *cobra.Command, args []string) error {
	if !keyForce {
		if _, err := os.Stat(kmsBlobPath); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", kmsBlobPath)
		}
	}
	ctx := cmd.Context()
	client, err := newContainer().KMSClient(ctx)
	if err != nil {
		return err
	}
	key, blob, err := encryption.LoadKeyFromKMS(ctx, client, kmsKeyID, nil)
	if err != nil {
		return err
	}
	key.Destroy()

	if err := os.WriteFile(kmsBlobPath, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write data key blob: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote encrypted data key to %s\n", kmsBlobPath)
	return nil
}
