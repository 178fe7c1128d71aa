// Package soap provides the minimal SOAP 1.1 envelope handling used to talk
// to the authority and registry web services.
package soap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// EnvelopeNS is the SOAP 1.1 envelope namespace.
const EnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// Envelope is a request envelope. Content is marshaled as the only child of Body.
type Envelope struct {
	XMLName xml.Name   `xml:"soapenv:Envelope"`
	Attrs   []xml.Attr `xml:",any,attr"`
	Header  struct{}   `xml:"soapenv:Header"`
	Body    struct {
		Content any
	} `xml:"soapenv:Body"`
}

// NewEnvelope creates an envelope declaring the service namespace under prefix.
func NewEnvelope(prefix, namespace string, content any) *Envelope {
	env := &Envelope{
		Attrs: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:soapenv"}, Value: EnvelopeNS},
			{Name: xml.Name{Local: "xmlns:" + prefix}, Value: namespace},
		},
	}
	env.Body.Content = content
	return env
}

// Marshal serializes the envelope with an XML declaration.
func (e *Envelope) Marshal() ([]byte, error) {
	out, err := xml.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Fault is a SOAP 1.1 fault.
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		Inner string `xml:",innerxml"`
	} `xml:"detail"`
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

// LocalCode returns the fault code without its namespace prefix,
// e.g. "coe.alreadyAuthenticated" for "ns1:coe.alreadyAuthenticated".
func (f *Fault) LocalCode() string {
	if i := strings.LastIndex(f.Code, ":"); i >= 0 {
		return f.Code[i+1:]
	}
	return f.Code
}

// FindFault returns the first Fault element in data, if any.
func FindFault(data []byte) (*Fault, error) {
	var f Fault
	found, err := FindElement(data, xml.Name{Local: "Fault"}, &f)
	if err != nil || !found {
		return nil, err
	}
	return &f, nil
}

// ErrMalformed wraps decoder errors raised while scanning a response.
var ErrMalformed = errors.New("malformed xml")

// FindElement scans data for the first element matching name and decodes it
// into v. An empty name.Space matches any namespace.
// It reports whether the element was found.
func FindElement(data []byte, name xml.Name, v any) (bool, error) {
	dec := NewDecoder(data)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || !matches(se.Name, name) {
			continue
		}
		if err := dec.DecodeElement(v, &se); err != nil {
			return true, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return true, nil
	}
}

func matches(got, want xml.Name) bool {
	if got.Local != want.Local {
		return false
	}
	return want.Space == "" || got.Space == want.Space
}

// NewDecoder returns an xml.Decoder that also accepts Latin-1 documents.
func NewDecoder(data []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader
	return dec
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	}
	return nil, fmt.Errorf("unsupported charset: %s", label)
}
