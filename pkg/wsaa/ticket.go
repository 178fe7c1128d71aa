// Package wsaa implements the WSAA ticket lifecycle: building the login ticket
// request, signing it into a CMS container, exchanging it with the authority
// and keeping the resulting token/sign pair fresh.
package wsaa

import (
	"encoding/xml"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultTicketTTL is how long a requested ticket stays valid.
	DefaultTicketTTL = 12 * time.Hour

	// DefaultClockSkew is subtracted from generationTime so the authority
	// accepts the request even when its clock runs behind ours.
	DefaultClockSkew = 5 * time.Minute

	// TimeLayout is the timestamp format used inside the ticket request.
	TimeLayout = "2006-01-02T15:04:05-07:00"
)

// LoginTicketRequest is the time-bounded, service-scoped document submitted for signing.
type LoginTicketRequest struct {
	UniqueID       uint32
	GenerationTime time.Time
	ExpirationTime time.Time
	Service        string
}

type loginTicketRequestXML struct {
	XMLName xml.Name `xml:"loginTicketRequest"`
	Version string   `xml:"version,attr"`
	Header  struct {
		UniqueID       uint32 `xml:"uniqueId"`
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Service string `xml:"service"`
}

// Marshal serializes the request in the schema expected by the authority.
func (r LoginTicketRequest) Marshal() ([]byte, error) {
	var doc loginTicketRequestXML
	doc.Version = "1.0"
	doc.Header.UniqueID = r.UniqueID
	doc.Header.GenerationTime = r.GenerationTime.Format(TimeLayout)
	doc.Header.ExpirationTime = r.ExpirationTime.Format(TimeLayout)
	doc.Service = r.Service

	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login ticket request: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// ParseLoginTicketRequest decodes a serialized ticket request.
func ParseLoginTicketRequest(data []byte) (LoginTicketRequest, error) {
	var doc loginTicketRequestXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return LoginTicketRequest{}, fmt.Errorf("failed to parse login ticket request: %w", err)
	}
	gen, err := time.Parse(TimeLayout, doc.Header.GenerationTime)
	if err != nil {
		return LoginTicketRequest{}, fmt.Errorf("invalid generationTime: %w", err)
	}
	exp, err := time.Parse(TimeLayout, doc.Header.ExpirationTime)
	if err != nil {
		return LoginTicketRequest{}, fmt.Errorf("invalid expirationTime: %w", err)
	}
	return LoginTicketRequest{
		UniqueID:       doc.Header.UniqueID,
		GenerationTime: gen,
		ExpirationTime: exp,
		Service:        doc.Service,
	}, nil
}

// TicketOptions configures a TicketBuilder.
type TicketOptions struct {
	// TTL is the validity window after the build instant (default 12h).
	TTL time.Duration

	// ClockSkew is subtracted from the build instant for generationTime (default 5m).
	ClockSkew time.Duration

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// TicketBuilder produces login ticket requests for a single service.
type TicketBuilder struct {
	service string
	opts    TicketOptions

	mu     sync.Mutex
	lastID uint32
}

// NewTicketBuilder creates a builder for the given service name (e.g. "ws_sr_padron_a13").
func NewTicketBuilder(service string, opts TicketOptions) *TicketBuilder {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTicketTTL
	}
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = DefaultClockSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TicketBuilder{service: service, opts: opts}
}

// Service returns the service name the builder requests tickets for.
func (b *TicketBuilder) Service() string {
	return b.service
}

// Build creates a new ticket request at the current instant.
// The uniqueId is the build time in epoch seconds, bumped past the previous
// id when two requests are built within the same second.
func (b *TicketBuilder) Build() LoginTicketRequest {
	// Second precision keeps the window exact once serialized.
	now := b.opts.Now().Truncate(time.Second)

	b.mu.Lock()
	id := uint32(now.Unix())
	if id <= b.lastID {
		id = b.lastID + 1
	}
	b.lastID = id
	b.mu.Unlock()

	return LoginTicketRequest{
		UniqueID:       id,
		GenerationTime: now.Add(-b.opts.ClockSkew),
		ExpirationTime: now.Add(b.opts.TTL),
		Service:        b.service,
	}
}
