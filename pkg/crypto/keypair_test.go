package crypto_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padronkit/padron-core/internal/testkeys"
	"github.com/padronkit/padron-core/pkg/crypto"
)

func TestLoadKeyPair(t *testing.T) {
	certPEM, keyPEM := testkeys.PEMWith(t, testkeys.Options{CUIT: "27333276807"})

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0600))

	kp, err := crypto.LoadKeyPair(certFile, keyFile)
	require.NoError(t, err)
	assert.NoError(t, kp.Validate(time.Now()))
	assert.Equal(t, "27333276807", kp.CUIT())
	assert.Equal(t, "RSA-2048", crypto.KeyAlgorithm(kp.Certificate.PublicKey))
}

func TestLoadKeyPair_MissingFiles(t *testing.T) {
	_, err := crypto.LoadKeyPair(filepath.Join(t.TempDir(), "nope.pem"), "nope.key")
	assert.Error(t, err)
}

func TestParseKeyPair_PKCS1(t *testing.T) {
	kp := testkeys.KeyPair(t)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: kp.Certificate.Raw})

	rsaKey, ok := kp.PrivateKey.(*rsa.PrivateKey)
	require.True(t, ok)

	der := x509.MarshalPKCS1PrivateKey(rsaKey)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})

	parsed, err := crypto.ParseKeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	assert.NoError(t, parsed.Validate(time.Now()))
}

func TestParseKeyPair_Errors(t *testing.T) {
	certPEM, keyPEM := testkeys.PEMWith(t, testkeys.Options{})

	_, err := crypto.ParseKeyPair(keyPEM, keyPEM)
	assert.True(t, errors.Is(err, crypto.ErrNoCertificate))

	_, err = crypto.ParseKeyPair(certPEM, certPEM)
	assert.True(t, errors.Is(err, crypto.ErrNoPrivateKey))

	_, err = crypto.ParseKeyPair([]byte("garbage"), keyPEM)
	assert.True(t, errors.Is(err, crypto.ErrNoCertificate))
}

func TestValidate(t *testing.T) {
	now := time.Now()

	a := testkeys.KeyPair(t)
	b := testkeys.KeyPair(t)
	mismatched := &crypto.KeyPair{Certificate: a.Certificate, PrivateKey: b.PrivateKey}
	assert.True(t, errors.Is(mismatched.Validate(now), crypto.ErrKeyMismatch))

	expired := testkeys.KeyPairWith(t, testkeys.Options{
		NotBefore: now.Add(-48 * time.Hour),
		NotAfter:  now.Add(-time.Hour),
	})
	assert.True(t, errors.Is(expired.Validate(now), crypto.ErrCertificateExpired))

	future := testkeys.KeyPairWith(t, testkeys.Options{
		NotBefore: now.Add(time.Hour),
		NotAfter:  now.Add(48 * time.Hour),
	})
	assert.True(t, errors.Is(future.Validate(now), crypto.ErrCertificateNotYetValid))

	var nilPair *crypto.KeyPair
	assert.True(t, errors.Is(nilPair.Validate(now), crypto.ErrNoCertificate))
	assert.True(t, errors.Is((&crypto.KeyPair{Certificate: a.Certificate}).Validate(now), crypto.ErrNoPrivateKey))
}

func TestThumbprint(t *testing.T) {
	kp := testkeys.KeyPair(t)

	tp1, err := kp.Thumbprint()
	require.NoError(t, err)
	tp2, err := kp.Thumbprint()
	require.NoError(t, err)

	assert.Equal(t, tp1, tp2)
	assert.Len(t, tp1, 43, "base64url SHA-256 without padding")

	other, err := testkeys.KeyPair(t).Thumbprint()
	require.NoError(t, err)
	assert.NotEqual(t, tp1, other)
}

func TestCUITFromSerialNumber(t *testing.T) {
	assert.Equal(t, "20310868834", crypto.CUITFromSerialNumber("CUIT 20310868834"))
	assert.Equal(t, "20310868834", crypto.CUITFromSerialNumber(" cuit 20310868834 "))
	assert.Empty(t, crypto.CUITFromSerialNumber("DNI 31086883"))
	assert.Empty(t, crypto.CUITFromSerialNumber(""))
}

func TestLoadPKCS12_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.p12")
	require.NoError(t, os.WriteFile(path, []byte("not a pkcs12 bundle"), 0600))

	_, err := crypto.LoadPKCS12(path, "secret")
	assert.ErrorContains(t, err, "PKCS#12")
}

func TestKeyAlgorithm(t *testing.T) {
	ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	assert.Equal(t, "ECDSA-P-256", crypto.KeyAlgorithm(&ec.PublicKey))
	assert.Equal(t, "unknown", crypto.KeyAlgorithm("nope"))
}
