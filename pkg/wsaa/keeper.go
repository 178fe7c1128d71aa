package wsaa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultRenewBefore is the margin before expiry at which a credential is
// treated as stale.
const DefaultRenewBefore = 15 * time.Minute

// KeeperState is the state of the credential cache.
type KeeperState string

// Keeper states.
const (
	StateEmpty KeeperState = "empty"
	StateValid KeeperState = "valid"
)

// Authority exchanges a ticket request for a credential.
type Authority interface {
	Authenticate(ctx context.Context, tra LoginTicketRequest, signer TicketSigner) (*Credential, error)
}

// CredentialStore persists credentials across process restarts.
// Load returns (nil, nil) when nothing is stored under key.
type CredentialStore interface {
	Load(ctx context.Context, key string) (*Credential, error)
	Save(ctx context.Context, key string, cred *Credential) error
	Delete(ctx context.Context, key string) error
}

// Observer receives keeper measurements. Implemented by internal/metrics.
type Observer interface {
	ObserveTicketCycle(outcome string, d time.Duration)
	ObserveCredentialLookup(result string)
}

// KeeperConfig holds configuration for the Keeper.
type KeeperConfig struct {
	Builder   *TicketBuilder
	Signer    TicketSigner
	Authority Authority

	// Store is optional. When set, a persisted fresh credential is adopted
	// before a new ticket cycle is started.
	Store CredentialStore

	// StoreKey identifies the credential in Store (default: the service name).
	StoreKey string

	RenewBefore   time.Duration
	CheckInterval time.Duration

	Now      func() time.Time
	Logger   *zerolog.Logger
	Observer Observer
}

// Keeper owns the current credential and rebuilds it when it goes stale.
// At most one rebuild runs at a time; concurrent callers wait for its result.
type Keeper struct {
	config KeeperConfig
	log    zerolog.Logger

	mu       sync.RWMutex
	current  *Credential
	rejected string // token of the last invalidated credential

	// cycleMu serializes ticket cycles across Credential and Refresh.
	cycleMu sync.Mutex
	group   singleflight.Group
}

// NewKeeper creates a new Keeper.
func NewKeeper(config KeeperConfig) (*Keeper, error) {
	if config.Builder == nil {
		return nil, errors.New("ticket builder is required")
	}
	if config.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if config.Authority == nil {
		return nil, errors.New("authority is required")
	}
	if config.RenewBefore <= 0 {
		config.RenewBefore = DefaultRenewBefore
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.StoreKey == "" {
		config.StoreKey = config.Builder.Service()
	}

	k := &Keeper{config: config, log: zerolog.Nop()}
	if config.Logger != nil {
		k.log = config.Logger.With().Str("service", config.Builder.Service()).Logger()
	}
	return k, nil
}

// Credential returns a credential that stays valid for at least the renewal
// margin, running a ticket cycle first if needed.
func (k *Keeper) Credential(ctx context.Context) (*Credential, error) {
	k.mu.RLock()
	cur := k.current
	k.mu.RUnlock()

	if cur.FreshAt(k.config.Now(), k.config.RenewBefore) {
		k.observeLookup("hit")
		return cur.clone(), nil
	}
	return k.rebuild(ctx, false)
}

// Refresh bypasses any cached or stored credential and runs a ticket cycle.
// The current credential keeps being served until the new one replaces it.
func (k *Keeper) Refresh(ctx context.Context) (*Credential, error) {
	return k.rebuild(ctx, true)
}

// Invalidate demotes the cache to empty if cred is still the current
// credential, and removes it from the store. A nil cred invalidates whatever
// is cached.
func (k *Keeper) Invalidate(ctx context.Context, cred *Credential) {
	k.mu.Lock()
	if k.current == nil || (cred != nil && k.current.Token != cred.Token) {
		k.mu.Unlock()
		return
	}
	k.rejected = k.current.Token
	k.current = nil
	k.mu.Unlock()

	k.log.Info().Msg("credential invalidated")
	if k.config.Store != nil {
		if err := k.config.Store.Delete(ctx, k.config.StoreKey); err != nil {
			k.log.Warn().Err(err).Msg("failed to delete stored credential")
		}
	}
}

// Status describes the cache without exposing the credential.
type Status struct {
	State      KeeperState
	Service    string
	Source     string
	ObtainedAt time.Time
	ExpiresAt  time.Time
}

// Status reports the current state of the cache.
func (k *Keeper) Status() Status {
	k.mu.RLock()
	defer k.mu.RUnlock()

	st := Status{State: StateEmpty, Service: k.config.Builder.Service()}
	if k.current.FreshAt(k.config.Now(), k.config.RenewBefore) {
		st.State = StateValid
		st.Source = k.current.Source
		st.ObtainedAt = k.current.ObtainedAt
		st.ExpiresAt = k.current.ExpiresAt
	}
	return st
}

// Run keeps the credential fresh until ctx is done. The first acquisition
// must succeed; later failures are logged and retried on the next tick.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.config.CheckInterval)
	defer ticker.Stop()

	if _, err := k.Credential(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := k.Credential(ctx); err != nil {
				k.log.Error().Err(err).Msg("credential renewal failed")
			}
		}
	}
}

func (k *Keeper) rebuild(ctx context.Context, force bool) (*Credential, error) {
	key := "rebuild"
	if force {
		key = "refresh"
	}
	// The cycle outlives any single waiter; the HTTP client timeout bounds it.
	ch := k.group.DoChan(key, func() (any, error) {
		return k.acquire(context.WithoutCancel(ctx), force)
	})

	select {
	case <-ctx.Done():
		return nil, WrapError(ErrCodeTransport, "gave up waiting for credential", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Credential).clone(), nil
	}
}

func (k *Keeper) acquire(ctx context.Context, force bool) (*Credential, error) {
	k.cycleMu.Lock()
	defer k.cycleMu.Unlock()

	now := k.config.Now()

	k.mu.Lock()
	if !force && k.current.FreshAt(now, k.config.RenewBefore) {
		// Another cycle finished while we waited.
		cur := k.current
		k.mu.Unlock()
		k.observeLookup("hit")
		return cur, nil
	}
	if !force {
		k.current = nil
	}
	k.mu.Unlock()

	if !force {
		if stored := k.loadStored(ctx, now); stored != nil {
			k.setCurrent(stored)
			k.observeLookup("store")
			return stored, nil
		}
	}
	k.observeLookup("miss")

	log := k.log.With().Str("cycle_id", uuid.NewString()).Logger()
	tra := k.config.Builder.Build()
	log.Info().
		Uint32("unique_id", tra.UniqueID).
		Time("expiration_time", tra.ExpirationTime).
		Msg("requesting access ticket")

	start := time.Now()
	cred, err := k.config.Authority.Authenticate(ctx, tra, k.config.Signer)
	if err == nil && !cred.Valid() {
		err = NewError(ErrCodeParse, "authority returned an incomplete credential")
	}
	if err != nil {
		k.observeCycle(outcomeOf(err), time.Since(start))
		log.Error().Err(err).Msg("ticket cycle failed")
		return nil, err
	}
	k.observeCycle("success", time.Since(start))
	log.Info().Object("credential", cred).Msg("access ticket granted")

	k.setCurrent(cred)
	if k.config.Store != nil {
		if err := k.config.Store.Save(ctx, k.config.StoreKey, cred); err != nil {
			log.Warn().Err(err).Msg("failed to persist credential")
		}
	}
	return cred, nil
}

func (k *Keeper) loadStored(ctx context.Context, now time.Time) *Credential {
	if k.config.Store == nil {
		return nil
	}
	stored, err := k.config.Store.Load(ctx, k.config.StoreKey)
	if err != nil {
		k.log.Warn().Err(err).Msg("failed to load stored credential")
		return nil
	}
	if stored == nil || stored.Service != k.config.Builder.Service() {
		return nil
	}
	if !stored.FreshAt(now, k.config.RenewBefore) {
		return nil
	}
	k.mu.RLock()
	rejected := k.rejected
	k.mu.RUnlock()
	if rejected != "" && stored.Token == rejected {
		k.log.Debug().Msg("ignoring invalidated stored credential")
		return nil
	}
	k.log.Debug().Object("credential", stored).Msg("adopted stored credential")
	return stored
}

func (k *Keeper) setCurrent(cred *Credential) {
	k.mu.Lock()
	k.current = cred
	k.mu.Unlock()
}

func (k *Keeper) observeLookup(result string) {
	if k.config.Observer != nil {
		k.config.Observer.ObserveCredentialLookup(result)
	}
}

func (k *Keeper) observeCycle(outcome string, d time.Duration) {
	if k.config.Observer != nil {
		k.config.Observer.ObserveTicketCycle(outcome, d)
	}
}

func outcomeOf(err error) string {
	if code := GetErrorCode(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}

func (c *Credential) clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
