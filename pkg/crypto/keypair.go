// Package crypto loads and inspects the X.509 key material used to sign
// ticket requests.
package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/pkcs12"
)

// Common errors returned by this package.
var (
	ErrNoCertificate          = errors.New("no certificate found")
	ErrNoPrivateKey           = errors.New("no private key found")
	ErrKeyMismatch            = errors.New("private key does not match certificate")
	ErrCertificateExpired     = errors.New("certificate has expired")
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")
	ErrUnsupportedKey         = errors.New("unsupported private key type")
)

// KeyPair is a signing certificate together with its private key.
type KeyPair struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
}

// LoadKeyPair reads a PEM certificate and a PEM private key from disk.
func LoadKeyPair(certFile, keyFile string) (*KeyPair, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	return ParseKeyPair(certPEM, keyPEM)
}

// ParseKeyPair parses PEM encoded certificate and key blocks.
// The key may be PKCS#1, PKCS#8 or SEC1 encoded.
func ParseKeyPair(certPEM, keyPEM []byte) (*KeyPair, error) {
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := parsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Certificate: cert, PrivateKey: key}, nil
}

// LoadPKCS12 reads a PKCS#12 (.p12/.pfx) bundle holding one certificate and its key.
func LoadPKCS12(path, password string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PKCS#12 file: %w", err)
	}
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 bundle: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, ErrUnsupportedKey
	}
	return &KeyPair{Certificate: cert, PrivateKey: signer}, nil
}

func parseCertificatePEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoCertificate
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return cert, nil
	}
}

func parsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoPrivateKey
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse PKCS#1 key: %w", err)
			}
			return key, nil
		case "EC PRIVATE KEY":
			key, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse EC key: %w", err)
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse PKCS#8 key: %w", err)
			}
			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, ErrUnsupportedKey
			}
			return signer, nil
		}
	}
}

// Validate checks that the key belongs to the certificate and that the
// certificate is inside its validity window at now.
func (kp *KeyPair) Validate(now time.Time) error {
	if kp == nil || kp.Certificate == nil {
		return ErrNoCertificate
	}
	if kp.PrivateKey == nil {
		return ErrNoPrivateKey
	}

	type equaler interface {
		Equal(x crypto.PublicKey) bool
	}
	pub, ok := kp.PrivateKey.Public().(equaler)
	if !ok || !pub.Equal(kp.Certificate.PublicKey) {
		return ErrKeyMismatch
	}

	if now.After(kp.Certificate.NotAfter) {
		return fmt.Errorf("%w: not after %s", ErrCertificateExpired, kp.Certificate.NotAfter.Format(time.RFC3339))
	}
	if now.Before(kp.Certificate.NotBefore) {
		return fmt.Errorf("%w: not before %s", ErrCertificateNotYetValid, kp.Certificate.NotBefore.Format(time.RFC3339))
	}
	return nil
}

// Thumbprint returns the RFC 7638 SHA-256 thumbprint of the certificate's
// public key, base64url encoded. It is safe to log.
func (kp *KeyPair) Thumbprint() (string, error) {
	if kp == nil || kp.Certificate == nil {
		return "", ErrNoCertificate
	}
	jwk := jose.JSONWebKey{Key: kp.Certificate.PublicKey}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// CUIT returns the tax identifier carried in the certificate subject's
// serialNumber attribute ("CUIT 20123456789"), or "" if absent.
func (kp *KeyPair) CUIT() string {
	if kp == nil || kp.Certificate == nil {
		return ""
	}
	return CUITFromSerialNumber(kp.Certificate.Subject.SerialNumber)
}

// CUITFromSerialNumber extracts the digits of a "CUIT nnnnnnnnnnn" subject serial number.
func CUITFromSerialNumber(serial string) string {
	serial = strings.TrimSpace(serial)
	if !strings.HasPrefix(strings.ToUpper(serial), "CUIT") {
		return ""
	}
	return strings.TrimSpace(serial[len("CUIT"):])
}

// KeyAlgorithm returns a short name for the key type, for display.
func KeyAlgorithm(key crypto.PublicKey) string {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA-%d", k.N.BitLen())
	case *ecdsa.PublicKey:
		return "ECDSA-" + k.Curve.Params().Name
	case ed25519.PublicKey:
		return "Ed25519"
	default:
		return "unknown"
	}
}
