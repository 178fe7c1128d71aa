package wsaa

import (
	"encoding/base64"
	"sync"
	"time"

	"go.mozilla.org/pkcs7"

	"github.com/padronkit/padron-core/pkg/crypto"
)

// Signer wraps ticket requests in an attached CMS SignedData container.
// Signing calls are serialized.
type Signer struct {
	kp  *crypto.KeyPair
	now func() time.Time
	mu  sync.Mutex
}

// NewSigner creates a Signer for the given key pair.
func NewSigner(kp *crypto.KeyPair) *Signer {
	return &Signer{kp: kp, now: time.Now}
}

// KeyPair returns the signing key pair.
func (s *Signer) KeyPair() *crypto.KeyPair {
	return s.kp
}

// Sign returns the DER encoded CMS container with content attached.
// Any failure is reported as SIGNING_FAILED and no partial output is returned.
func (s *Signer) Sign(content []byte) ([]byte, error) {
	if s == nil || s.kp == nil {
		return nil, WrapError(ErrCodeSigningFailed, "no signing key pair configured", crypto.ErrNoCertificate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kp.Validate(s.now()); err != nil {
		return nil, WrapError(ErrCodeSigningFailed, "signing key pair is not usable", err)
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, WrapError(ErrCodeSigningFailed, "failed to initialize signed data", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(s.kp.Certificate, s.kp.PrivateKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, WrapError(ErrCodeSigningFailed, "failed to add signer", err)
	}
	der, err := sd.Finish()
	if err != nil {
		return nil, WrapError(ErrCodeSigningFailed, "failed to finalize signed data", err)
	}
	return der, nil
}

// SignBase64 signs content and returns the container in standard Base64, as
// embedded in the loginCms request.
func (s *Signer) SignBase64(content []byte) (string, error) {
	der, err := s.Sign(content)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// VerifySigned parses a DER CMS container, verifies its signature against
// the embedded certificate and returns the attached content.
func VerifySigned(der []byte) ([]byte, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, err
	}
	if err := p7.Verify(); err != nil {
		return nil, err
	}
	return p7.Content, nil
}
