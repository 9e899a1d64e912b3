package main

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"solcheckout/pkg/wallet"
)

type keyOutput struct {
	PublicKey string `json:"publicKey"`
	SecretKey string `json:"secretKey,omitempty"`
	File      string `json:"file,omitempty"`
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Export, import and generate wallet keys",
}

var keyExportCmd = &cobra.Command{
	Use:   "export KEYPAIR_FILE",
	Short: "Print a keygen file's secret key as Crockford base32",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read keypair: %w", err)
		}
		out := keyOutput{PublicKey: key.PublicKey().String(), SecretKey: wallet.ExportSecretKey(key)}
		return output(cmd, out, func() string { return out.SecretKey })
	},
}

var keyImportCmd = &cobra.Command{
	Use:   "import SECRET",
	Short: "Write a Crockford base32 secret key to a keygen file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := wallet.ImportSecretKey(args[0])
		if err != nil {
			return err
		}
		return writeKey(cmd, key, false)
	},
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new keypair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := wallet.GenerateKeypair()
		if err != nil {
			return err
		}
		return writeKey(cmd, key, true)
	},
}

func writeKey(cmd *cobra.Command, key solana.PrivateKey, showSecret bool) error {
	out := keyOutput{PublicKey: key.PublicKey().String()}
	if path, _ := cmd.Flags().GetString("out"); path != "" {
		if err := wallet.WriteKeygenFile(path, key); err != nil {
			return err
		}
		out.File = path
	} else if showSecret {
		out.SecretKey = wallet.ExportSecretKey(key)
	}

	return output(cmd, out, func() string {
		lines := []string{"Public key: " + out.PublicKey}
		if out.SecretKey != "" {
			lines = append(lines, "Secret key: "+out.SecretKey)
		}
		if out.File != "" {
			lines = append(lines, "Written to "+out.File)
		}
		return strings.Join(lines, "\n")
	})
}

func init() {
	keyImportCmd.Flags().StringP("out", "o", "", "Keygen file to write")
	keyGenerateCmd.Flags().StringP("out", "o", "", "Keygen file to write (prints the secret when empty)")

	keyCmd.AddCommand(keyExportCmd, keyImportCmd, keyGenerateCmd)
	rootCmd.AddCommand(keyCmd)
}
