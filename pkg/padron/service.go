package padron

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/padronkit/padron-core/pkg/wsaa"
)

// CredentialSource hands out credentials and accepts invalidations.
// Implemented by *wsaa.Keeper.
type CredentialSource interface {
	Credential(ctx context.Context) (*wsaa.Credential, error)
	Invalidate(ctx context.Context, cred *wsaa.Credential)
}

// PersonaGetter performs a single registry lookup. Implemented by *Client.
type PersonaGetter interface {
	GetPersona(ctx context.Context, cred *wsaa.Credential, cuit string) (*Persona, bool, error)
}

// Recorder receives lookup measurements. Implemented by internal/metrics.
type Recorder interface {
	ObserveRegistryLookup(outcome string, d time.Duration)
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	Credentials CredentialSource
	Registry    PersonaGetter
	Logger      *zerolog.Logger
	Recorder    Recorder
}

// Service answers lookups for callers that never see the credential.
type Service struct {
	creds    CredentialSource
	registry PersonaGetter
	log      zerolog.Logger
	recorder Recorder
}

// NewService creates a lookup service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Credentials == nil {
		return nil, errors.New("credential source is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry client is required")
	}
	s := &Service{
		creds:    cfg.Credentials,
		registry: cfg.Registry,
		log:      zerolog.Nop(),
		recorder: cfg.Recorder,
	}
	if cfg.Logger != nil {
		s.log = *cfg.Logger
	}
	return s, nil
}

// Lookup returns the registry record for cuit, or found=false if the registry
// has none. When the registry rejects the credential it is invalidated, a new
// one is obtained and the call is retried once.
func (s *Service) Lookup(ctx context.Context, cuit string) (*Persona, bool, error) {
	cuit, err := NormalizeCUIT(cuit)
	if err != nil {
		s.record(false, err, 0)
		return nil, false, err
	}

	start := time.Now()
	p, found, err := s.lookup(ctx, cuit)
	s.record(found, err, time.Since(start))
	return p, found, err
}

func (s *Service) lookup(ctx context.Context, cuit string) (*Persona, bool, error) {
	cred, err := s.creds.Credential(ctx)
	if err != nil {
		return nil, false, err
	}

	p, found, err := s.registry.GetPersona(ctx, cred, cuit)
	if !errors.Is(err, wsaa.ErrAuthorizationExpired) {
		return p, found, err
	}

	s.log.Warn().Err(err).Str("cuit", cuit).Msg("registry rejected credential, renewing")
	s.creds.Invalidate(ctx, cred)

	cred, err = s.creds.Credential(ctx)
	if err != nil {
		return nil, false, err
	}
	return s.registry.GetPersona(ctx, cred, cuit)
}

func (s *Service) record(found bool, err error, d time.Duration) {
	if s.recorder == nil {
		return
	}
	outcome := "found"
	switch {
	case errors.Is(err, ErrInvalidCUIT):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
		if code := wsaa.GetErrorCode(err); code != "" {
			outcome = strings.ToLower(code)
		}
	case !found:
		outcome = "not_found"
	}
	s.recorder.ObserveRegistryLookup(outcome, d)
}

// Result is the outcome of one lookup in a batch.
type Result struct {
	CUIT    string   `json:"cuit"`
	Found   bool     `json:"found"`
	Persona *Persona `json:"persona,omitempty"`
	Error   string   `json:"error,omitempty"`

	Err error `json:"-"`
}

// LookupMany looks up each CUIT in order, sharing the cached credential.
// Per-CUIT failures are reported in the results; a cancelled ctx stops the batch.
func (s *Service) LookupMany(ctx context.Context, cuits []string) ([]Result, error) {
	results := make([]Result, 0, len(cuits))
	for _, cuit := range cuits {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		p, found, err := s.Lookup(ctx, cuit)
		r := Result{CUIT: cuit, Found: found, Persona: p, Err: err}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results, nil
}
