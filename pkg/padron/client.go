package padron

import (
	"context"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/padronkit/padron-core/pkg/soap"
	"github.com/padronkit/padron-core/pkg/wsaa"
)

// Registry endpoints.
const (
	ProductionURL = "https://aws.afip.gov.ar/sr-padron/webservices/personaServiceA13"
	TestingURL    = "https://awshomo.afip.gov.ar/sr-padron/webservices/personaServiceA13"
)

// Namespace of the getPersona operation.
const Namespace = "http://a13.soap.ws.server.puc.sr/"

// ClientOptions configures the registry client.
type ClientOptions struct {
	// URL of the personaServiceA13 endpoint (default ProductionURL).
	URL string

	// RepresentedCUIT is the caller's own registered identifier (cuitRepresentada).
	RepresentedCUIT string

	HTTPClient *http.Client
	Timeout    time.Duration
	RootCAs    *x509.CertPool
	Logger     *zerolog.Logger
}

// Client performs authorized registry lookups.
type Client struct {
	url             string
	representedCUIT string
	httpClient      *http.Client
	log             zerolog.Logger
}

// NewClient creates a registry client.
func NewClient(opts ClientOptions) *Client {
	if opts.URL == "" {
		opts.URL = ProductionURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = soap.NewHTTPClient(opts.Timeout, opts.RootCAs)
	}
	c := &Client{
		url:             opts.URL,
		representedCUIT: opts.RepresentedCUIT,
		httpClient:      opts.HTTPClient,
		log:             zerolog.Nop(),
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	}
	return c
}

type getPersonaRequest struct {
	XMLName          xml.Name `xml:"a13:getPersona"`
	Token            string   `xml:"token"`
	Sign             string   `xml:"sign"`
	CUITRepresentada string   `xml:"cuitRepresentada"`
	IDPersona        string   `xml:"idPersona"`
}

// GetPersona looks up cuit. A subject without a registry entry is reported
// as found=false with a nil error.
func (c *Client) GetPersona(ctx context.Context, cred *wsaa.Credential, cuit string) (*Persona, bool, error) {
	if !cred.Valid() {
		return nil, false, wsaa.NewError(wsaa.ErrCodeAuthorizationExpired, "no valid credential supplied")
	}
	if err := ValidateCUIT(cuit); err != nil {
		return nil, false, fmt.Errorf("%w: %s", err, cuit)
	}

	env := soap.NewEnvelope("a13", Namespace, getPersonaRequest{
		Token:            cred.Token,
		Sign:             cred.Sign,
		CUITRepresentada: c.representedCUIT,
		IDPersona:        cuit,
	})

	start := time.Now()
	resp, err := soap.Do(ctx, c.httpClient, soap.Call{URL: c.url, Envelope: env})
	if err != nil {
		return nil, false, wsaa.WrapError(wsaa.ErrCodeTransport, "getPersona request failed", err)
	}
	c.log.Debug().
		Str("cuit", cuit).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("getPersona response received")

	return parsePersonaResponse(resp)
}

func parsePersonaResponse(resp *soap.Response) (*Persona, bool, error) {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, false, &wsaa.Error{
			Code:       wsaa.ErrCodeAuthorizationExpired,
			Message:    fmt.Sprintf("registry returned status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	if fault, _ := soap.FindFault(resp.Body); fault != nil {
		return classifyFault(fault, resp.StatusCode)
	}

	if !resp.OK() {
		return nil, false, &wsaa.Error{
			Code:       wsaa.ErrCodeTransport,
			Message:    fmt.Sprintf("registry returned status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	var px personaXML
	found, err := soap.FindElement(resp.Body, xml.Name{Local: "persona"}, &px)
	if err != nil {
		return nil, false, &wsaa.Error{
			Code:       wsaa.ErrCodeParse,
			Message:    "registry response could not be decoded",
			Cause:      err,
			StatusCode: resp.StatusCode,
			Payload:    string(resp.Body),
		}
	}
	if !found {
		return nil, false, nil
	}
	return px.toPersona(), true, nil
}

// classifyFault maps registry faults onto the shared error taxonomy.
// "No existe persona" is the registry's way of saying not found.
func classifyFault(fault *soap.Fault, status int) (*Persona, bool, error) {
	msg := strings.ToLower(fault.String)
	if strings.Contains(msg, "no existe persona") {
		return nil, false, nil
	}

	code := wsaa.ErrCodeProtocol
	for _, marker := range []string{"token", "sign", "firma", "expirad", "vencid"} {
		if strings.Contains(msg, marker) {
			code = wsaa.ErrCodeAuthorizationExpired
			break
		}
	}
	return nil, false, &wsaa.Error{
		Code:       code,
		Message:    fault.String,
		FaultCode:  fault.LocalCode(),
		StatusCode: status,
		Cause:      fault,
	}
}
