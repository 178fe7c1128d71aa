package soap

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds every call to a remote service.
const DefaultTimeout = 30 * time.Second

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 8 << 20

// ContentType is the request content type for SOAP 1.1.
const ContentType = "text/xml; charset=utf-8"

// Response is a raw HTTP response from a SOAP endpoint.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Call describes a single SOAP request.
type Call struct {
	URL      string
	Envelope *Envelope

	// Action is sent as the SOAPAction header when non-nil, even if empty.
	Action *string
}

// Do marshals the envelope, posts it and reads the response body.
// Errors are returned unclassified; callers map them to their own taxonomy.
func Do(ctx context.Context, client *http.Client, call Call) (*Response, error) {
	payload, err := call.Envelope.Marshal()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("User-Agent", "padron-core/1.0")
	if call.Action != nil {
		req.Header.Set("SOAPAction", *call.Action)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// NewHTTPClient returns a client with certificate verification enabled,
// TLS 1.2 as the floor and the given timeout. rootCAs may be nil to use the
// system pool.
func NewHTTPClient(timeout time.Duration, rootCAs *x509.CertPool) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    rootCAs,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// WrappedTransport is implemented by RoundTrippers that delegate to another
// RoundTripper, so VerifiesTLS can inspect the transport underneath.
type WrappedTransport interface {
	Unwrap() http.RoundTripper
}

// VerifiesTLS reports whether client keeps server certificate verification on.
// Wrapping RoundTrippers are followed through WrappedTransport; any other
// RoundTripper cannot be inspected and is reported as not verifying.
func VerifiesTLS(client *http.Client) bool {
	if client == nil {
		return true
	}
	rt := client.Transport
	for {
		switch t := rt.(type) {
		case nil:
			rt = http.DefaultTransport
		case *http.Transport:
			return t.TLSClientConfig == nil || !t.TLSClientConfig.InsecureSkipVerify
		case WrappedTransport:
			rt = t.Unwrap()
			if rt == nil {
				return false
			}
		default:
			return false
		}
	}
}
