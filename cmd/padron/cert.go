package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/padronkit/padron-core/internal/config"
	"github.com/padronkit/padron-core/pkg/crypto"
)

var certJSON bool

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Inspect signing certificates",
}

type certInfo struct {
	Subject    string    `json:"subject"`
	Issuer     string    `json:"issuer"`
	CUIT       string    `json:"cuit,omitempty"`
	Serial     string    `json:"serial"`
	NotBefore  time.Time `json:"notBefore"`
	NotAfter   time.Time `json:"notAfter"`
	Algorithm  string    `json:"algorithm"`
	Thumbprint string    `json:"thumbprint"`
	Valid      bool      `json:"valid"`
	Problem    string    `json:"problem,omitempty"`
}

var certInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the configured certificate and check it against its key",
	Long: `Load the configured certificate and private key (--cert/--key or --p12),
check that they belong together and that the certificate is inside its validity
window, and print the subject, the CUIT carried in the subject serialNumber and
the RFC 7638 thumbprint of the public key.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg := config.FromViper(viper.GetViper())
		if err := cfg.ValidateKeyMaterial(); err != nil {
			return err
		}
		kp, err := loadKeyPair(cfg)
		if err != nil {
			return err
		}

		info, err := inspectKeyPair(kp, time.Now())
		if err != nil {
			return err
		}

		if certJSON {
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Subject:    %s\n", info.Subject)
		fmt.Printf("Issuer:     %s\n", info.Issuer)
		if info.CUIT != "" {
			fmt.Printf("CUIT:       %s\n", info.CUIT)
		}
		fmt.Printf("Serial:     %s\n", info.Serial)
		fmt.Printf("Not Before: %s\n", info.NotBefore.Format(time.RFC3339))
		fmt.Printf("Not After:  %s\n", info.NotAfter.Format(time.RFC3339))
		fmt.Printf("Algorithm:  %s\n", info.Algorithm)
		fmt.Printf("Thumbprint: %s\n", info.Thumbprint)
		if info.Valid {
			fmt.Println("Status:     ✅ valid")
		} else {
			fmt.Printf("Status:     ❌ %s\n", info.Problem)
		}
		return nil
	},
}

func inspectKeyPair(kp *crypto.KeyPair, now time.Time) (certInfo, error) {
	thumbprint, err := kp.Thumbprint()
	if err != nil {
		return certInfo{}, err
	}
	cert := kp.Certificate
	info := certInfo{
		Subject:    cert.Subject.String(),
		Issuer:     cert.Issuer.String(),
		CUIT:       kp.CUIT(),
		Serial:     cert.SerialNumber.String(),
		NotBefore:  cert.NotBefore,
		NotAfter:   cert.NotAfter,
		Algorithm:  crypto.KeyAlgorithm(cert.PublicKey),
		Thumbprint: thumbprint,
		Valid:      true,
	}
	if err := kp.Validate(now); err != nil {
		info.Valid = false
		info.Problem = err.Error()
	}
	return info, nil
}

func init() {
	rootCmd.AddCommand(certCmd)
	certCmd.AddCommand(certInspectCmd)

	certInspectCmd.Flags().BoolVar(&certJSON, "json", false, "Print as JSON")
}
