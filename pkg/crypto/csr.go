package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
)

// DefaultRSABits is the key size used for new signing keys.
const DefaultRSABits = 2048

// CSRSubject describes the subject of a certificate signing request for the
// authority's certificate onboarding.
type CSRSubject struct {
	Country      string
	Organization string
	CommonName   string
	CUIT         string
}

// GenerateRSAKey creates a new RSA private key.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = DefaultRSABits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes a key as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// NewCertificateRequest builds a PEM CSR whose subject carries the tax id as
// "serialNumber=CUIT nnnnnnnnnnn".
func NewCertificateRequest(key crypto.Signer, subject CSRSubject) ([]byte, error) {
	if subject.CUIT == "" {
		return nil, fmt.Errorf("CUIT is required")
	}
	if subject.CommonName == "" {
		return nil, fmt.Errorf("common name is required")
	}
	if subject.Country == "" {
		subject.Country = "AR"
	}

	name := pkix.Name{
		Country:      []string{subject.Country},
		CommonName:   subject.CommonName,
		SerialNumber: "CUIT " + subject.CUIT,
	}
	if subject.Organization != "" {
		name.Organization = []string{subject.Organization}
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{Subject: name}, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate request: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}
