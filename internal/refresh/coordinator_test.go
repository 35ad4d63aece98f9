package refresh

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lggm33/afp-vault/internal/crypto"
	"github.com/lggm33/afp-vault/internal/models"
	"github.com/lggm33/afp-vault/internal/provider"
	"github.com/lggm33/afp-vault/internal/services"
	"github.com/lggm33/afp-vault/internal/store"
)

// stubRefresher scripts provider behavior per call and counts invocations.
type stubRefresher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, refreshSecret string) (*provider.RefreshResult, error)
}

func (s *stubRefresher) Refresh(
	ctx context.Context,
	p models.Provider,
	refreshSecret string,
) (*provider.RefreshResult, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call, refreshSecret)
}

func (s *stubRefresher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func successAfter(failures int) func(int, string) (*provider.RefreshResult, error) {
	return func(call int, _ string) (*provider.RefreshResult, error) {
		if call <= failures {
			return nil, fmt.Errorf("%w: 503 from provider", provider.ErrRefreshTransient)
		}
		return &provider.RefreshResult{
			AccessSecret:  "access-rotated",
			RefreshSecret: "refresh-rotated",
			ExpiresAt:     time.Now().Add(time.Hour),
		}, nil
	}
}

type coordinatorFixture struct {
	coordinator *Coordinator
	creds       *services.CredentialService
	store       *store.Store
	refresher   *stubRefresher
}

func newFixture(t *testing.T, refresher *stubRefresher) *coordinatorFixture {
	t.Helper()

	// A named shared-cache database keeps all pooled connections on the
	// same data, which plain :memory: does not under concurrent access.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	s, err := store.New("sqlite", dsn)
	require.NoError(t, err)

	key := make([]byte, crypto.KeySize)
	_, err = rand.Read(key)
	require.NoError(t, err)
	cipher, err := crypto.New(key)
	require.NoError(t, err)

	audit := services.NewAuditService(s, nil)
	creds := services.NewCredentialService(s, cipher, audit, 5*time.Minute, nil)

	coordinator := NewCoordinator(creds, audit, refresher, NewMemoryLocker(), Config{
		LockLease:     30 * time.Second,
		LockWait:      2 * time.Second,
		MaxAttempts:   3,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 10 * time.Millisecond,
	}, nil)
	// Backoff sleeps are skipped in tests.
	coordinator.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	return &coordinatorFixture{
		coordinator: coordinator,
		creds:       creds,
		store:       s,
		refresher:   refresher,
	}
}

func (f *coordinatorFixture) seed(
	t *testing.T,
	refreshSecret string,
	expiresAt time.Time,
) models.Identity {
	t.Helper()
	identity := models.Identity{
		UserID:       uuid.New().String(),
		EmailAddress: "inbox@example.com",
		Provider:     models.ProviderGmail,
	}
	_, err := f.creds.Upsert(
		context.Background(), identity, "access-original", refreshSecret, nil, expiresAt,
	)
	require.NoError(t, err)
	return identity
}

func TestEnsureFreshFastPath(t *testing.T) {
	refresher := &stubRefresher{fn: successAfter(0)}
	f := newFixture(t, refresher)
	identity := f.seed(t, "refresh-secret", time.Now().Add(time.Hour))

	secret, err := f.coordinator.EnsureFresh(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, "access-original", secret)
	assert.Zero(t, refresher.callCount(), "live token must not hit the provider")
}

func TestEnsureFreshRotatesExpiringToken(t *testing.T) {
	refresher := &stubRefresher{fn: successAfter(0)}
	f := newFixture(t, refresher)
	identity := f.seed(t, "refresh-secret", time.Now().Add(time.Minute))

	secret, err := f.coordinator.EnsureFresh(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, "access-rotated", secret)
	assert.Equal(t, 1, refresher.callCount())

	// Next call takes the fast path against the rotated record.
	secret, err = f.coordinator.EnsureFresh(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, "access-rotated", secret)
	assert.Equal(t, 1, refresher.callCount())

	// The refresh left a token_refresh entry.
	entries, err := f.store.ListAuditEntriesForUser(
		context.Background(), identity.UserID, 100, time.Time{}, "",
	)
	require.NoError(t, err)
	var refreshes int
	for _, e := range entries {
		if e.Action == models.ActionTokenRefresh {
			refreshes++
			assert.True(t, e.Success)
		}
	}
	assert.Equal(t, 1, refreshes)
}

func TestEnsureFreshConcurrentCallersRefreshOnce(t *testing.T) {
	refresher := &stubRefresher{fn: successAfter(0)}
	f := newFixture(t, refresher)
	identity := f.seed(t, "refresh-secret", time.Now().Add(time.Minute))

	const callers = 10
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			secret, err := f.coordinator.EnsureFresh(context.Background(), identity)
			if err == nil && secret != "access-rotated" {
				err = fmt.Errorf("unexpected secret %q", secret)
			}
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		// Contended callers may be told to retry; nobody may fail otherwise.
		if err != nil {
			assert.ErrorIs(t, err, services.ErrNeedsRefresh)
		}
	}
	assert.Equal(t, 1, refresher.callCount(), "exactly one provider call across all callers")
}

func TestEnsureFreshRejectedExhaustsIdentity(t *testing.T) {
	refresher := &stubRefresher{fn: func(int, string) (*provider.RefreshResult, error) {
		return nil, fmt.Errorf("%w: invalid_grant", provider.ErrRefreshRejected)
	}}
	f := newFixture(t, refresher)
	identity := f.seed(t, "refresh-secret", time.Now().Add(time.Minute))

	_, err := f.coordinator.EnsureFresh(context.Background(), identity)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, refresher.callCount(), "a rejection is not retried")

	// The record is deactivated until re-authorization.
	_, err = f.coordinator.EnsureFresh(context.Background(), identity)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestEnsureFreshTransientFailuresExhaustAfterBudget(t *testing.T) {
	refresher := &stubRefresher{fn: func(int, string) (*provider.RefreshResult, error) {
		return nil, fmt.Errorf("%w: connection refused", provider.ErrRefreshTransient)
	}}
	f := newFixture(t, refresher)
	identity := f.seed(t, "refresh-secret", time.Now().Add(time.Minute))

	_, err := f.coordinator.EnsureFresh(context.Background(), identity)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, refresher.callCount(), "retries stop at the attempt budget")

	_, err = f.coordinator.EnsureFresh(context.Background(), identity)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestEnsureFreshTransientThenSuccess(t *testing.T) {
	refresher := &stubRefresher{fn: successAfter(2)}
	f := newFixture(t, refresher)
	identity := f.seed(t, "refresh-secret", time.Now().Add(time.Minute))

	secret, err := f.coordinator.EnsureFresh(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, "access-rotated", secret)
	assert.Equal(t, 3, refresher.callCount())
}

func TestEnsureFreshWithoutRefreshSecret(t *testing.T) {
	refresher := &stubRefresher{fn: successAfter(0)}
	f := newFixture(t, refresher)
	identity := f.seed(t, "", time.Now().Add(time.Minute))

	_, err := f.coordinator.EnsureFresh(context.Background(), identity)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Zero(t, refresher.callCount(), "no provider call without refresh material")
}

func TestEnsureFreshLockContention(t *testing.T) {
	refresher := &stubRefresher{fn: successAfter(0)}
	f := newFixture(t, refresher)
	f.coordinator.cfg.LockWait = 100 * time.Millisecond
	identity := f.seed(t, "refresh-secret", time.Now().Add(time.Minute))

	// Another holder is mid-refresh.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := f.coordinator.locker.Acquire(ctx, identity.String(), time.Minute)
	require.NoError(t, err)
	defer lease.Release()

	_, err = f.coordinator.EnsureFresh(context.Background(), identity)
	assert.ErrorIs(t, err, services.ErrNeedsRefresh)
	assert.Zero(t, refresher.callCount())
}

func TestSweepRefreshesWindowedIdentities(t *testing.T) {
	refresher := &stubRefresher{fn: func(int, string) (*provider.RefreshResult, error) {
		return &provider.RefreshResult{
			AccessSecret: "access-rotated",
			ExpiresAt:    time.Now().Add(time.Hour),
		}, nil
	}}
	f := newFixture(t, refresher)

	f.seed(t, "refresh-a", time.Now().Add(time.Minute))
	f.seed(t, "refresh-b", time.Now().Add(2*time.Minute))
	f.seed(t, "refresh-c", time.Now().Add(time.Hour)) // outside the window

	refreshed, err := f.coordinator.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed)
	assert.Equal(t, 2, refresher.callCount())

	// Idempotent: everything is fresh now.
	refreshed, err = f.coordinator.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, refreshed)
	assert.Equal(t, 2, refresher.callCount())
}

func TestSweepToleratesExhaustedIdentities(t *testing.T) {
	refresher := &stubRefresher{fn: func(_ int, refreshSecret string) (*provider.RefreshResult, error) {
		if refreshSecret == "refresh-bad" {
			return nil, fmt.Errorf("%w: invalid_grant", provider.ErrRefreshRejected)
		}
		return &provider.RefreshResult{
			AccessSecret: "access-rotated",
			ExpiresAt:    time.Now().Add(time.Hour),
		}, nil
	}}
	f := newFixture(t, refresher)

	f.seed(t, "refresh-bad", time.Now().Add(time.Minute))
	f.seed(t, "refresh-good", time.Now().Add(time.Minute))

	// One identity exhausts, the other still rotates.
	refreshed, err := f.coordinator.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)
}
