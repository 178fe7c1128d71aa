// Package testkeys generates throwaway certificates for tests.
package testkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/padronkit/padron-core/pkg/crypto"
)

// DefaultCUIT is a well-formed CUIT used as the certificate owner.
const DefaultCUIT = "20310868834"

// Options shapes the generated certificate.
type Options struct {
	CUIT      string
	NotBefore time.Time
	NotAfter  time.Time
}

// KeyPair returns a self-signed RSA key pair valid from an hour ago for a day.
func KeyPair(t testing.TB) *crypto.KeyPair {
	return KeyPairWith(t, Options{})
}

// KeyPairWith returns a self-signed RSA key pair shaped by opts.
func KeyPairWith(t testing.TB, opts Options) *crypto.KeyPair {
	t.Helper()
	certPEM, keyPEM := PEMWith(t, opts)
	kp, err := crypto.ParseKeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return kp
}

// PEMWith returns the PEM encoded certificate and PKCS#8 key.
func PEMWith(t testing.TB, opts Options) (certPEM, keyPEM []byte) {
	t.Helper()
	if opts.CUIT == "" {
		opts.CUIT = DefaultCUIT
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(24 * time.Hour)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Country:      []string{"AR"},
			CommonName:   "test-system",
			SerialNumber: "CUIT " + opts.CUIT,
		},
		NotBefore:   opts.NotBefore,
		NotAfter:    opts.NotAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyPEM, err = crypto.EncodePrivateKeyPEM(key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), keyPEM
}
