package wsaa

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Credential is the token/sign pair granted by the authority for one service.
type Credential struct {
	Token      string    `json:"token"`
	Sign       string    `json:"sign"`
	Service    string    `json:"service"`
	Source     string    `json:"source,omitempty"`
	ObtainedAt time.Time `json:"obtainedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Valid reports whether both halves of the pair are present.
func (c *Credential) Valid() bool {
	return c != nil && c.Token != "" && c.Sign != ""
}

// FreshAt reports whether the credential can still be used at now, keeping
// margin before its expiry.
func (c *Credential) FreshAt(now time.Time, margin time.Duration) bool {
	return c.Valid() && now.Before(c.ExpiresAt.Add(-margin))
}

// String never includes the token or sign.
func (c *Credential) String() string {
	if c == nil {
		return "<nil credential>"
	}
	return fmt.Sprintf("credential{service=%s expiresAt=%s}", c.Service, c.ExpiresAt.Format(time.RFC3339))
}

// MarshalZerologObject logs the credential without its secrets.
func (c *Credential) MarshalZerologObject(e *zerolog.Event) {
	e.Str("service", c.Service).
		Str("source", c.Source).
		Time("obtained_at", c.ObtainedAt).
		Time("expires_at", c.ExpiresAt)
}

// LoginTicketResponse is the decoded payload of a successful loginCms call.
type LoginTicketResponse struct {
	Token          string
	Sign           string
	Source         string
	Destination    string
	UniqueID       uint32
	GenerationTime time.Time
	ExpirationTime time.Time
}

type loginTicketResponseXML struct {
	Header struct {
		Source         string `xml:"source"`
		Destination    string `xml:"destination"`
		UniqueID       uint32 `xml:"uniqueId"`
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Credentials struct {
		Token string `xml:"token"`
		Sign  string `xml:"sign"`
	} `xml:"credentials"`
}

// parseTime accepts the timestamp forms the authority emits, with or
// without fractional seconds.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, TimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
