package crypto_test

import (
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padronkit/padron-core/pkg/crypto"
)

func TestNewCertificateRequest(t *testing.T) {
	key, err := crypto.GenerateRSAKey(0)
	require.NoError(t, err)
	assert.Equal(t, crypto.DefaultRSABits, key.N.BitLen())

	csrPEM, err := crypto.NewCertificateRequest(key, crypto.CSRSubject{
		Organization: "Example SA",
		CommonName:   "billing",
		CUIT:         "20310868834",
	})
	require.NoError(t, err)

	block, _ := pem.Decode(csrPEM)
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE REQUEST", block.Type)

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	require.NoError(t, err)
	require.NoError(t, csr.CheckSignature())

	assert.Equal(t, "billing", csr.Subject.CommonName)
	assert.Equal(t, "CUIT 20310868834", csr.Subject.SerialNumber)
	assert.Equal(t, []string{"AR"}, csr.Subject.Country)
	assert.Equal(t, []string{"Example SA"}, csr.Subject.Organization)
	assert.Equal(t, "20310868834", crypto.CUITFromSerialNumber(csr.Subject.SerialNumber))
}

func TestNewCertificateRequest_RequiresSubject(t *testing.T) {
	key, err := crypto.GenerateRSAKey(0)
	require.NoError(t, err)

	_, err = crypto.NewCertificateRequest(key, crypto.CSRSubject{CommonName: "billing"})
	assert.Error(t, err)

	_, err = crypto.NewCertificateRequest(key, crypto.CSRSubject{CUIT: "20310868834"})
	assert.Error(t, err)
}

func TestEncodePrivateKeyPEM(t *testing.T) {
	key, err := crypto.GenerateRSAKey(0)
	require.NoError(t, err)

	keyPEM, err := crypto.EncodePrivateKeyPEM(key)
	require.NoError(t, err)

	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	assert.Equal(t, "PRIVATE KEY", block.Type)

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}
