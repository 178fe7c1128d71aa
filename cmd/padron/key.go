package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/padronkit/padron-core/internal/config"
	"github.com/padronkit/padron-core/pkg/crypto"
	"github.com/padronkit/padron-core/pkg/padron"
)

var (
	keyOutPrivate string
	keyOutCSR     string
	keyCommonName string
	keyOrg        string
	keyBits       int
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage signing keys",
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate an RSA key and a certificate signing request",
	Long: `Generate a new RSA private key and a PKCS#10 certificate signing request
for onboarding with the authority.

The CSR subject carries the taxpayer's CUIT as "serialNumber=CUIT nnnnnnnnnnn",
which is how the authority links the issued certificate to the taxpayer. Upload
the CSR in the certificate administration site and save the returned
certificate next to the key.`,
	Example: `  # Key and CSR with default names
  padron key gen --cuit 20310868834 --cn my-system

  # Custom output paths and organization
  padron key gen --cuit 20310868834 --cn billing --org "Example SA" --out-key billing.key --out-csr billing.csr`,
	RunE: func(_ *cobra.Command, _ []string) error {
		cuit, err := padron.NormalizeCUIT(viper.GetString(config.CUITKey))
		if err != nil {
			return fmt.Errorf("--cuit: %w", err)
		}

		// 1. Generate key
		key, err := crypto.GenerateRSAKey(keyBits)
		if err != nil {
			return err
		}

		// 2. Build CSR
		csrPEM, err := crypto.NewCertificateRequest(key, crypto.CSRSubject{
			Organization: keyOrg,
			CommonName:   keyCommonName,
			CUIT:         cuit,
		})
		if err != nil {
			return err
		}

		// 3. Save private key
		keyPEM, err := crypto.EncodePrivateKeyPEM(key)
		if err != nil {
			return err
		}
		if err := os.WriteFile(keyOutPrivate, keyPEM, 0600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		fmt.Printf("✅ Private Key saved to %s\n", keyOutPrivate)

		// 4. Save CSR
		if err := os.WriteFile(keyOutCSR, csrPEM, 0644); err != nil {
			return fmt.Errorf("failed to write certificate request: %w", err)
		}
		fmt.Printf("✅ Certificate Request saved to %s\n", keyOutCSR)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenCmd)

	keyGenCmd.Flags().StringVar(&keyOutPrivate, "out-key", "private.key", "Output path for the private key (PKCS#8 PEM)")
	keyGenCmd.Flags().StringVar(&keyOutCSR, "out-csr", "request.csr", "Output path for the certificate request (PEM)")
	keyGenCmd.Flags().StringVar(&keyCommonName, "cn", "", "Common name of the certificate (the system alias)")
	keyGenCmd.Flags().StringVar(&keyOrg, "org", "", "Organization name (optional)")
	keyGenCmd.Flags().IntVar(&keyBits, "bits", crypto.DefaultRSABits, "RSA key size")

	_ = keyGenCmd.MarkFlagRequired("cn")
}
