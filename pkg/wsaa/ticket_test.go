package wsaa

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTicketBuilder_Window(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("ART", -3*3600))
	b := NewTicketBuilder("ws_sr_padron_a13", TicketOptions{Now: fixedClock(now)})

	tra := b.Build()

	assert.Equal(t, "ws_sr_padron_a13", tra.Service)
	assert.Equal(t, now.Add(-5*time.Minute), tra.GenerationTime)
	assert.Equal(t, now.Add(12*time.Hour), tra.ExpirationTime)
	assert.True(t, tra.GenerationTime.Before(now))
	assert.True(t, tra.ExpirationTime.After(now))
	assert.Equal(t, uint32(now.Unix()), tra.UniqueID)
}

func TestTicketBuilder_CustomWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	b := NewTicketBuilder("wsfe", TicketOptions{
		TTL:       time.Hour,
		ClockSkew: time.Minute,
		Now:       fixedClock(now),
	})

	tra := b.Build()
	assert.Equal(t, now.Add(-time.Minute), tra.GenerationTime)
	assert.Equal(t, now.Add(time.Hour), tra.ExpirationTime)
	assert.Equal(t, "wsfe", b.Service())
}

func TestTicketBuilder_TruncatesToSeconds(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 999_000_000, time.UTC)
	b := NewTicketBuilder("wsfe", TicketOptions{Now: fixedClock(now)})

	tra := b.Build()
	assert.Zero(t, tra.GenerationTime.Nanosecond())
	assert.Zero(t, tra.ExpirationTime.Nanosecond())
}

func TestTicketBuilder_UniqueIDsWithinSameSecond(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	b := NewTicketBuilder("wsfe", TicketOptions{Now: fixedClock(now)})

	first := b.Build()
	second := b.Build()
	assert.NotEqual(t, first.UniqueID, second.UniqueID)
	assert.Equal(t, first.UniqueID+1, second.UniqueID)
}

func TestTicketBuilder_UniqueIDsConcurrent(t *testing.T) {
	b := NewTicketBuilder("wsfe", TicketOptions{Now: fixedClock(time.Now())})

	const n = 50
	ids := make(chan uint32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- b.Build().UniqueID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint32]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate uniqueId %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestLoginTicketRequest_Marshal(t *testing.T) {
	loc := time.FixedZone("ART", -3*3600)
	tra := LoginTicketRequest{
		UniqueID:       1709298000,
		GenerationTime: time.Date(2024, 3, 1, 9, 55, 0, 0, loc),
		ExpirationTime: time.Date(2024, 3, 1, 22, 0, 0, 0, loc),
		Service:        "ws_sr_padron_a13",
	}

	out, err := tra.Marshal()
	require.NoError(t, err)

	doc := string(out)
	assert.True(t, strings.HasPrefix(doc, "<?xml"))
	assert.Contains(t, doc, `<loginTicketRequest version="1.0">`)
	assert.Contains(t, doc, "<uniqueId>1709298000</uniqueId>")
	assert.Contains(t, doc, "<generationTime>2024-03-01T09:55:00-03:00</generationTime>")
	assert.Contains(t, doc, "<expirationTime>2024-03-01T22:00:00-03:00</expirationTime>")
	assert.Contains(t, doc, "<service>ws_sr_padron_a13</service>")

	parsed, err := ParseLoginTicketRequest(out)
	require.NoError(t, err)
	assert.Equal(t, tra.UniqueID, parsed.UniqueID)
	assert.True(t, tra.GenerationTime.Equal(parsed.GenerationTime))
	assert.True(t, tra.ExpirationTime.Equal(parsed.ExpirationTime))
	assert.Equal(t, tra.Service, parsed.Service)
}

func TestParseLoginTicketRequest_InvalidTime(t *testing.T) {
	_, err := ParseLoginTicketRequest([]byte(`<loginTicketRequest version="1.0"><header><uniqueId>1</uniqueId>` +
		`<generationTime>yesterday</generationTime><expirationTime>2024-03-01T22:00:00-03:00</expirationTime>` +
		`</header><service>wsfe</service></loginTicketRequest>`))
	assert.ErrorContains(t, err, "generationTime")
}

func TestCredential_FreshAt(t *testing.T) {
	exp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cred := &Credential{Token: "T", Sign: "S", ExpiresAt: exp}

	assert.True(t, cred.FreshAt(exp.Add(-time.Hour), 15*time.Minute))
	assert.False(t, cred.FreshAt(exp.Add(-10*time.Minute), 15*time.Minute))
	assert.False(t, cred.FreshAt(exp.Add(time.Minute), 0))

	var nilCred *Credential
	assert.False(t, nilCred.FreshAt(exp.Add(-time.Hour), 0))
	assert.False(t, (&Credential{Token: "T", ExpiresAt: exp}).FreshAt(exp.Add(-time.Hour), 0))
}

func TestCredential_StringHidesSecrets(t *testing.T) {
	cred := &Credential{Token: "secret-token", Sign: "secret-sign", Service: "wsfe"}
	s := cred.String()
	assert.NotContains(t, s, "secret-token")
	assert.NotContains(t, s, "secret-sign")
	assert.Contains(t, s, "wsfe")
}
