package wsaa

import (
	"context"
	"crypto/x509"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/padronkit/padron-core/pkg/soap"
)

// Authority endpoints.
const (
	ProductionURL = "https://wsaa.afip.gov.ar/ws/services/LoginCms"
	TestingURL    = "https://wsaahomo.afip.gov.ar/ws/services/LoginCms"
)

// Namespace of the loginCms operation.
const Namespace = "http://wsaa.view.sua.dvadac.dvadca.afip.gov.ar/"

// ClientOptions configures the authority client.
type ClientOptions struct {
	// URL of the LoginCms endpoint (default ProductionURL).
	URL string

	// HTTPClient overrides the transport. It must keep TLS verification
	// enabled. Custom RoundTrippers must be *http.Transport or implement
	// soap.WrappedTransport, otherwise NewClient rejects them.
	HTTPClient *http.Client

	// Timeout for the default HTTP client (default 30s).
	Timeout time.Duration

	// RootCAs for the default HTTP client; nil uses the system pool.
	RootCAs *x509.CertPool

	Logger *zerolog.Logger
}

// Client exchanges signed ticket requests for credentials.
type Client struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates an authority client. It refuses HTTP clients that skip
// server certificate verification.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.URL == "" {
		opts.URL = ProductionURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = soap.NewHTTPClient(opts.Timeout, opts.RootCAs)
	}
	if !soap.VerifiesTLS(opts.HTTPClient) {
		return nil, fmt.Errorf("authority client must verify TLS certificates")
	}
	c := &Client{
		url:        opts.URL,
		httpClient: opts.HTTPClient,
		log:        zerolog.Nop(),
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	return c, nil
}

// URL returns the endpoint the client talks to.
func (c *Client) URL() string {
	return c.url
}

type loginCmsRequest struct {
	XMLName xml.Name `xml:"wsaa:loginCms"`
	In0     string   `xml:"wsaa:in0"`
}

var emptyAction = ""

// LoginCMS submits a Base64 CMS container and decodes the returned ticket.
func (c *Client) LoginCMS(ctx context.Context, cms string) (*LoginTicketResponse, error) {
	env := soap.NewEnvelope("wsaa", Namespace, loginCmsRequest{In0: cms})

	start := time.Now()
	resp, err := soap.Do(ctx, c.httpClient, soap.Call{URL: c.url, Envelope: env, Action: &emptyAction})
	if err != nil {
		return nil, WrapError(ErrCodeTransport, "loginCms request failed", err)
	}
	c.log.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("loginCms response received")

	return c.parseLoginResponse(resp)
}

func (c *Client) parseLoginResponse(resp *soap.Response) (*LoginTicketResponse, error) {
	var wrapper string
	found, err := soap.FindElement(resp.Body, xml.Name{Local: "loginCmsReturn"}, &wrapper)
	if err != nil && found {
		return nil, &Error{Code: ErrCodeParse, Message: "loginCmsReturn could not be decoded", Cause: err, StatusCode: resp.StatusCode}
	}
	if err != nil {
		if !resp.OK() {
			return nil, transportStatusError(resp)
		}
		return nil, &Error{Code: ErrCodeProtocol, Message: "authority response is not valid XML", Cause: err, StatusCode: resp.StatusCode}
	}
	if !found {
		if fault, _ := soap.FindFault(resp.Body); fault != nil {
			return nil, &Error{
				Code:       ErrCodeProtocol,
				Message:    fault.String,
				FaultCode:  fault.LocalCode(),
				StatusCode: resp.StatusCode,
				Cause:      fault,
			}
		}
		if !resp.OK() {
			return nil, transportStatusError(resp)
		}
		return nil, &Error{Code: ErrCodeProtocol, Message: "loginCmsReturn missing from authority response", StatusCode: resp.StatusCode}
	}

	// The decoder has already unescaped the wrapper text into the inner document.
	inner := strings.TrimSpace(wrapper)
	ticket, err := parseTicketResponse(inner)
	if err != nil {
		c.log.Warn().Str("payload", inner).Msg("unexpected loginTicketResponse")
		return nil, err
	}
	return ticket, nil
}

func parseTicketResponse(inner string) (*LoginTicketResponse, error) {
	var doc loginTicketResponseXML
	if err := soap.NewDecoder([]byte(inner)).Decode(&doc); err != nil {
		return nil, &Error{Code: ErrCodeParse, Message: "loginTicketResponse is not valid XML", Cause: err, Payload: inner}
	}
	token := strings.TrimSpace(doc.Credentials.Token)
	sign := strings.TrimSpace(doc.Credentials.Sign)
	if token == "" || sign == "" {
		return nil, &Error{Code: ErrCodeParse, Message: "token or sign missing from loginTicketResponse", Payload: inner}
	}
	return &LoginTicketResponse{
		Token:          token,
		Sign:           sign,
		Source:         doc.Header.Source,
		Destination:    doc.Header.Destination,
		UniqueID:       doc.Header.UniqueID,
		GenerationTime: parseTime(doc.Header.GenerationTime),
		ExpirationTime: parseTime(doc.Header.ExpirationTime),
	}, nil
}

func transportStatusError(resp *soap.Response) *Error {
	return &Error{
		Code:       ErrCodeTransport,
		Message:    fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
}

// TicketSigner turns a serialized ticket request into a Base64 CMS container.
type TicketSigner interface {
	SignBase64(content []byte) (string, error)
}

// Authenticate runs one ticket cycle: serialize, sign, exchange.
// The credential expires at the request's expirationTime.
func (c *Client) Authenticate(ctx context.Context, tra LoginTicketRequest, signer TicketSigner) (*Credential, error) {
	doc, err := tra.Marshal()
	if err != nil {
		return nil, err
	}
	cms, err := signer.SignBase64(doc)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, WrapError(ErrCodeSigningFailed, "failed to sign ticket request", err)
	}

	ticket, err := c.LoginCMS(ctx, cms)
	if err != nil {
		return nil, err
	}

	return &Credential{
		Token:      ticket.Token,
		Sign:       ticket.Sign,
		Service:    tra.Service,
		Source:     hostOf(c.url),
		ObtainedAt: time.Now(),
		ExpiresAt:  tra.ExpirationTime,
	}, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
