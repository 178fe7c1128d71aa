package wsaa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeAuthority grants "T<n>"/"S<n>" credentials expiring with the request.
type fakeAuthority struct {
	calls   atomic.Int32
	err     error
	entered chan struct{}
	release chan struct{}
}

func (a *fakeAuthority) Authenticate(ctx context.Context, tra LoginTicketRequest, signer TicketSigner) (*Credential, error) {
	n := a.calls.Add(1)
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.release != nil {
		<-a.release
	}
	if a.err != nil {
		return nil, a.err
	}
	return &Credential{
		Token:     fmt.Sprintf("T%d", n),
		Sign:      fmt.Sprintf("S%d", n),
		Service:   tra.Service,
		ExpiresAt: tra.ExpirationTime,
	}, nil
}

type nopSigner struct{}

func (nopSigner) SignBase64([]byte) (string, error) { return "cms", nil }

type mapStore struct {
	mu      sync.Mutex
	entries map[string]*Credential
	deletes int
}

func newMapStore() *mapStore {
	return &mapStore{entries: make(map[string]*Credential)}
}

func (s *mapStore) Load(_ context.Context, key string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key].clone(), nil
}

func (s *mapStore) Save(_ context.Context, key string, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cred.clone()
	return nil
}

func (s *mapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	s.deletes++
	return nil
}

type recordingObserver struct {
	mu      sync.Mutex
	cycles  []string
	lookups []string
}

func (o *recordingObserver) ObserveTicketCycle(outcome string, _ time.Duration) {
	o.mu.Lock()
	o.cycles = append(o.cycles, outcome)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveCredentialLookup(result string) {
	o.mu.Lock()
	o.lookups = append(o.lookups, result)
	o.mu.Unlock()
}

func newTestKeeper(t *testing.T, clock *testClock, authority Authority, mutate func(*KeeperConfig)) *Keeper {
	t.Helper()
	cfg := KeeperConfig{
		Builder:   NewTicketBuilder("ws_sr_padron_a13", TicketOptions{TTL: time.Hour, Now: clock.Now}),
		Signer:    nopSigner{},
		Authority: authority,
		Now:       clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	k, err := NewKeeper(cfg)
	require.NoError(t, err)
	return k
}

func TestNewKeeper_RequiresCollaborators(t *testing.T) {
	_, err := NewKeeper(KeeperConfig{})
	assert.Error(t, err)

	_, err = NewKeeper(KeeperConfig{Builder: NewTicketBuilder("wsfe", TicketOptions{})})
	assert.Error(t, err)

	_, err = NewKeeper(KeeperConfig{Builder: NewTicketBuilder("wsfe", TicketOptions{}), Signer: nopSigner{}})
	assert.Error(t, err)
}

func TestKeeper_ReuseAndRenewInsideMargin(t *testing.T) {
	clock := newTestClock()
	auth := &fakeAuthority{}
	k := newTestKeeper(t, clock, auth, nil)
	ctx := context.Background()

	assert.Equal(t, StateEmpty, k.Status().State)

	first, err := k.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T1", first.Token)
	assert.Equal(t, clock.Now().Add(time.Hour), first.ExpiresAt)
	assert.Equal(t, StateValid, k.Status().State)

	clock.Advance(time.Minute)
	again, err := k.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T1", again.Token)
	assert.Equal(t, int32(1), auth.calls.Load())

	// 50 minutes in, 10 minutes remain: inside the 15 minute margin.
	clock.Advance(49 * time.Minute)
	assert.Equal(t, StateEmpty, k.Status().State)

	renewed, err := k.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T2", renewed.Token)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestKeeper_ReturnsCopies(t *testing.T) {
	k := newTestKeeper(t, newTestClock(), &fakeAuthority{}, nil)

	cred, err := k.Credential(context.Background())
	require.NoError(t, err)
	cred.Token = "tampered"

	again, err := k.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T1", again.Token)
}

func TestKeeper_ConcurrentCallersShareOneCycle(t *testing.T) {
	auth := &fakeAuthority{entered: make(chan struct{}, 16), release: make(chan struct{})}
	k := newTestKeeper(t, newTestClock(), auth, nil)

	const n = 10
	var wg sync.WaitGroup
	tokens := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := k.Credential(context.Background())
			if assert.NoError(t, err) {
				tokens <- cred.Token
			}
		}()
	}

	<-auth.entered
	time.Sleep(50 * time.Millisecond)
	close(auth.release)
	wg.Wait()
	close(tokens)

	assert.Equal(t, int32(1), auth.calls.Load())
	for token := range tokens {
		assert.Equal(t, "T1", token)
	}
}

func TestKeeper_FailedCycleLeavesCacheEmpty(t *testing.T) {
	obs := &recordingObserver{}
	auth := &fakeAuthority{err: NewError(ErrCodeTransport, "connection refused")}
	k := newTestKeeper(t, newTestClock(), auth, func(c *KeeperConfig) { c.Observer = obs })

	_, err := k.Credential(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, StateEmpty, k.Status().State)
	assert.Equal(t, []string{"transport_error"}, obs.cycles)
	assert.Equal(t, []string{"miss"}, obs.lookups)
}

func TestKeeper_IncompleteCredentialIsParseError(t *testing.T) {
	k := newTestKeeper(t, newTestClock(), authorityFunc(func() (*Credential, error) {
		return &Credential{Token: "T"}, nil
	}), nil)

	_, err := k.Credential(context.Background())
	assert.True(t, errors.Is(err, ErrParse))
	assert.Equal(t, StateEmpty, k.Status().State)
}

type authorityFunc func() (*Credential, error)

func (f authorityFunc) Authenticate(context.Context, LoginTicketRequest, TicketSigner) (*Credential, error) {
	return f()
}

func TestKeeper_Invalidate(t *testing.T) {
	store := newMapStore()
	auth := &fakeAuthority{}
	k := newTestKeeper(t, newTestClock(), auth, func(c *KeeperConfig) { c.Store = store })
	ctx := context.Background()

	cred, err := k.Credential(ctx)
	require.NoError(t, err)

	// A stale caller holding an older credential does not evict the current one.
	k.Invalidate(ctx, &Credential{Token: "T0", Sign: "S0"})
	assert.Equal(t, StateValid, k.Status().State)
	assert.Equal(t, 0, store.deletes)

	k.Invalidate(ctx, cred)
	assert.Equal(t, StateEmpty, k.Status().State)
	assert.Equal(t, 1, store.deletes)

	renewed, err := k.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T2", renewed.Token)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestKeeper_AdoptsStoredCredential(t *testing.T) {
	clock := newTestClock()
	store := newMapStore()
	obs := &recordingObserver{}
	require.NoError(t, store.Save(context.Background(), "ws_sr_padron_a13", &Credential{
		Token:     "stored",
		Sign:      "stored-sign",
		Service:   "ws_sr_padron_a13",
		ExpiresAt: clock.Now().Add(6 * time.Hour),
	}))

	auth := &fakeAuthority{}
	k := newTestKeeper(t, clock, auth, func(c *KeeperConfig) {
		c.Store = store
		c.Observer = obs
	})

	cred, err := k.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored", cred.Token)
	assert.Equal(t, int32(0), auth.calls.Load())
	assert.Equal(t, []string{"store"}, obs.lookups)
}

func TestKeeper_IgnoresStaleOrForeignStoredCredential(t *testing.T) {
	clock := newTestClock()
	store := newMapStore()
	require.NoError(t, store.Save(context.Background(), "ws_sr_padron_a13", &Credential{
		Token:     "stale",
		Sign:      "stale-sign",
		Service:   "ws_sr_padron_a13",
		ExpiresAt: clock.Now().Add(5 * time.Minute),
	}))

	auth := &fakeAuthority{}
	k := newTestKeeper(t, clock, auth, func(c *KeeperConfig) { c.Store = store })

	cred, err := k.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T1", cred.Token)

	saved, _ := store.Load(context.Background(), "ws_sr_padron_a13")
	require.NotNil(t, saved)
	assert.Equal(t, "T1", saved.Token)

	require.NoError(t, store.Save(context.Background(), "other", &Credential{
		Token: "x", Sign: "y", Service: "wsfe", ExpiresAt: clock.Now().Add(time.Hour),
	}))
	k2 := newTestKeeper(t, clock, auth, func(c *KeeperConfig) {
		c.Store = store
		c.StoreKey = "other"
	})
	cred, err = k2.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T2", cred.Token)
}

func TestKeeper_RefreshBypassesCacheAndStore(t *testing.T) {
	clock := newTestClock()
	store := newMapStore()
	auth := &fakeAuthority{}
	k := newTestKeeper(t, clock, auth, func(c *KeeperConfig) { c.Store = store })

	_, err := k.Credential(context.Background())
	require.NoError(t, err)

	cred, err := k.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T2", cred.Token)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestKeeper_RefreshAndCredentialShareOneCycle(t *testing.T) {
	auth := &fakeAuthority{entered: make(chan struct{}, 2), release: make(chan struct{})}
	k := newTestKeeper(t, newTestClock(), auth, nil)
	ctx := context.Background()

	refreshed := make(chan *Credential, 1)
	go func() {
		cred, err := k.Refresh(ctx)
		assert.NoError(t, err)
		refreshed <- cred
	}()
	<-auth.entered

	got := make(chan *Credential, 1)
	go func() {
		cred, err := k.Credential(ctx)
		assert.NoError(t, err)
		got <- cred
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), auth.calls.Load(), "no second cycle while Refresh is in flight")
	close(auth.release)

	assert.Equal(t, "T1", (<-refreshed).Token)
	assert.Equal(t, "T1", (<-got).Token)
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestKeeper_RefreshKeepsServingCurrent(t *testing.T) {
	auth := &fakeAuthority{entered: make(chan struct{}, 2), release: make(chan struct{})}
	k := newTestKeeper(t, newTestClock(), auth, nil)
	ctx := context.Background()

	go func() { <-auth.entered; auth.release <- struct{}{} }()
	first, err := k.Credential(ctx)
	require.NoError(t, err)
	require.Equal(t, "T1", first.Token)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := k.Refresh(ctx)
		assert.NoError(t, err)
	}()
	<-auth.entered

	cred, err := k.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T1", cred.Token)
	assert.Equal(t, StateValid, k.Status().State)

	close(auth.release)
	<-done
	cred, err = k.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T2", cred.Token)
	assert.Equal(t, int32(2), auth.calls.Load())
}

// stickyStore keeps entries when Delete fails.
type stickyStore struct {
	*mapStore
}

func (s stickyStore) Delete(context.Context, string) error {
	return errors.New("store unavailable")
}

func TestKeeper_InvalidatedCredentialNotReadoptedFromStore(t *testing.T) {
	store := stickyStore{newMapStore()}
	auth := &fakeAuthority{}
	k := newTestKeeper(t, newTestClock(), auth, func(c *KeeperConfig) { c.Store = store })
	ctx := context.Background()

	cred, err := k.Credential(ctx)
	require.NoError(t, err)
	require.Equal(t, "T1", cred.Token)

	k.Invalidate(ctx, cred)
	stored, err := store.Load(ctx, "ws_sr_padron_a13")
	require.NoError(t, err)
	require.NotNil(t, stored, "failed delete leaves the entry behind")

	renewed, err := k.Credential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T2", renewed.Token)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestKeeper_WaiterCancellation(t *testing.T) {
	auth := &fakeAuthority{entered: make(chan struct{}, 1), release: make(chan struct{})}
	k := newTestKeeper(t, newTestClock(), auth, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := k.Credential(ctx)
		errCh <- err
	}()

	<-auth.entered
	cancel()
	err := <-errCh
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, context.Canceled))

	// The cycle itself still completes and populates the cache.
	close(auth.release)
	require.Eventually(t, func() bool {
		return k.Status().State == StateValid
	}, time.Second, 10*time.Millisecond)
}

func TestKeeper_Run(t *testing.T) {
	auth := &fakeAuthority{}
	k := newTestKeeper(t, newTestClock(), auth, func(c *KeeperConfig) {
		c.CheckInterval = 10 * time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, k.Run(ctx))
	assert.Equal(t, int32(1), auth.calls.Load(), "fresh credential is not renewed on each tick")
	assert.Equal(t, StateValid, k.Status().State)
}

func TestKeeper_RunFailsOnFirstAcquisition(t *testing.T) {
	auth := &fakeAuthority{err: NewError(ErrCodeSigningFailed, "certificate expired")}
	k := newTestKeeper(t, newTestClock(), auth, nil)

	err := k.Run(context.Background())
	assert.True(t, errors.Is(err, ErrSigningFailed))
}
