package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lggm33/afp-vault/internal/metrics"
	"github.com/lggm33/afp-vault/internal/models"
	"github.com/lggm33/afp-vault/internal/provider"
	"github.com/lggm33/afp-vault/internal/services"
	"github.com/lggm33/afp-vault/internal/store"
)

// ErrExhausted means refreshing this identity is hopeless without a fresh
// grant: the provider rejected the refresh secret, none exists, or the
// retry budget ran out. The record has been deactivated.
var ErrExhausted = errors.New("credential exhausted, re-authorization required")

// Config bundles the coordinator's tunables.
type Config struct {
	LockLease     time.Duration // Lease on the per-identity lock
	LockWait      time.Duration // Bounded wait when acquiring it
	MaxAttempts   int           // Provider refresh attempts per cycle
	RetryDelay    time.Duration // Initial backoff after a transient failure
	MaxRetryDelay time.Duration // Backoff ceiling
}

// Coordinator drives the per-identity refresh state machine:
//
//	Live -> NeedsRefresh -> Refreshing -> {Live, Exhausted}
//
// Refreshing is entered only under the exclusive lease lock, so at most one
// refresh is in flight per identity across all callers and processes.
// Callers only ever see services.ErrNeedsRefresh (retry later) or
// ErrExhausted (re-authorize); raw provider errors go to the audit log.
type Coordinator struct {
	creds     *services.CredentialService
	audit     *services.AuditService
	refresher provider.TokenRefresher
	locker    Locker
	cfg       Config
	metrics   metrics.Recorder

	sleep func(ctx context.Context, d time.Duration) error // overridable in tests
}

// NewCoordinator creates a refresh coordinator.
func NewCoordinator(
	creds *services.CredentialService,
	audit *services.AuditService,
	refresher provider.TokenRefresher,
	locker Locker,
	cfg Config,
	m metrics.Recorder,
) *Coordinator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &Coordinator{
		creds:     creds,
		audit:     audit,
		refresher: refresher,
		locker:    locker,
		cfg:       cfg,
		metrics:   m,
		sleep:     sleepContext,
	}
}

// EnsureFresh returns a live access secret for the identity, refreshing it
// first when needed. Plaintext is decrypted locally under the lock and
// discarded by the caller after use.
func (c *Coordinator) EnsureFresh(
	ctx context.Context,
	identity models.Identity,
) (string, error) {
	// Fast path: the stored secret is still live.
	secret, err := c.creds.GetLiveAccessSecret(ctx, identity)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, services.ErrNeedsRefresh) {
		return "", err
	}

	lockCtx, cancel := context.WithTimeout(ctx, c.cfg.LockWait)
	defer cancel()

	lease, err := c.locker.Acquire(lockCtx, identity.String(), c.cfg.LockLease)
	if err != nil {
		// Another holder is refreshing this identity right now. Not a
		// failure: the identity stays in NeedsRefresh and the caller
		// retries later.
		c.metrics.RecordLockAcquire(false)
		return "", services.ErrNeedsRefresh
	}
	c.metrics.RecordLockAcquire(true)
	defer lease.Release()

	// Re-check under the lock: a concurrent holder may have already
	// rotated the secrets while we waited.
	secret, err = c.creds.GetLiveAccessSecret(ctx, identity)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, services.ErrNeedsRefresh) {
		return "", err
	}

	return c.refreshLocked(ctx, identity)
}

// refreshLocked runs the Refreshing state while the caller holds the lock.
func (c *Coordinator) refreshLocked(
	ctx context.Context,
	identity models.Identity,
) (string, error) {
	cred, err := c.creds.ActiveCredential(ctx, identity)
	if err != nil {
		return "", err
	}

	refreshSecret, err := c.creds.RefreshSecret(cred)
	if err != nil {
		// Undecryptable refresh material is as terminal as a rejection.
		return "", c.exhaust(ctx, identity, err)
	}
	if refreshSecret == "" {
		return "", c.exhaust(ctx, identity,
			fmt.Errorf("no refresh secret available for this grant"))
	}

	delay := c.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		result, err := c.refresher.Refresh(ctx, identity.Provider, refreshSecret)

		switch {
		case err == nil:
			return c.commit(ctx, identity, cred, result)

		case errors.Is(err, provider.ErrRefreshRejected):
			c.metrics.RecordRefreshAttempt("rejected")
			return "", c.exhaust(ctx, identity, err)

		default:
			// Transient: back to NeedsRefresh, eligible for retry until
			// the attempt budget runs out.
			c.metrics.RecordRefreshAttempt("transient")
			if auditErr := c.recordRefreshAudit(ctx, identity, err); auditErr != nil {
				return "", auditErr
			}
			if attempt >= c.cfg.MaxAttempts {
				// Retry budget exceeded: route to Exhausted rather than
				// hammering the provider indefinitely.
				return "", c.exhaust(ctx, identity,
					fmt.Errorf("refresh attempts exhausted after %d transient failures", attempt))
			}
			if err := c.sleep(ctx, delay); err != nil {
				// Cancelled between attempts: the lock is released by the
				// caller's defer and the identity stays in NeedsRefresh.
				return "", err
			}
			delay *= 2
			if delay > c.cfg.MaxRetryDelay {
				delay = c.cfg.MaxRetryDelay
			}
		}
	}
}

// commit persists a successful rotation and re-enters Live.
func (c *Coordinator) commit(
	ctx context.Context,
	identity models.Identity,
	cred *models.Credential,
	result *provider.RefreshResult,
) (string, error) {
	commitErr := c.creds.CommitRotation(
		ctx, cred, result.AccessSecret, result.RefreshSecret, result.ExpiresAt,
	)

	if auditErr := c.recordRefreshAudit(ctx, identity, commitErr); auditErr != nil {
		return "", auditErr
	}
	if commitErr != nil {
		return "", commitErr
	}

	c.metrics.RecordRefreshAttempt("success")
	return result.AccessSecret, nil
}

// exhaust deactivates the identity, audits the terminal transition and
// reports ErrExhausted. The raw cause goes only to the audit detail, never
// to the caller.
func (c *Coordinator) exhaust(
	ctx context.Context,
	identity models.Identity,
	cause error,
) error {
	if err := c.creds.MarkExhausted(ctx, identity); err != nil {
		log.Printf("Failed to deactivate exhausted credential %s: %v", identity, err)
	}
	c.metrics.RecordRefreshAttempt("exhausted")

	if auditErr := c.recordRefreshAudit(ctx, identity, cause); auditErr != nil {
		return auditErr
	}
	return ErrExhausted
}

// recordRefreshAudit writes the token_refresh entry for one state
// transition. An audit write failure outranks the transition's own outcome.
func (c *Coordinator) recordRefreshAudit(
	ctx context.Context,
	identity models.Identity,
	opErr error,
) error {
	entry := &models.AuditEntry{
		UserID:       identity.UserID,
		EmailAddress: identity.EmailAddress,
		Provider:     identity.Provider,
		Action:       models.ActionTokenRefresh,
		Success:      opErr == nil,
	}
	if opErr != nil {
		entry.ErrorDetail = opErr.Error()
	}
	return c.audit.Record(ctx, entry)
}

// Sweep refreshes every identity currently inside the lookahead window. It
// is the idempotent entry point handed to the scheduler; overlapping sweeps
// deduplicate on the per-identity lock. Returns the number of identities
// successfully rotated.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	start := time.Now()

	identities, err := c.creds.NeedingRefresh(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, identity := range identities {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}

		// The plaintext is discarded immediately; the sweep only cares
		// that the stored record was rotated.
		_, err := c.EnsureFresh(ctx, identity)
		switch {
		case err == nil:
			refreshed++
		case errors.Is(err, services.ErrNeedsRefresh):
			// Contended with another sweep or caller; their refresh counts.
		case errors.Is(err, ErrExhausted):
			log.Printf("Credential %s exhausted during sweep", identity)
		case errors.Is(err, store.ErrRecordNotFound):
			// Revoked between listing and locking.
		default:
			log.Printf("Sweep refresh failed for %s: %v", identity, err)
		}
	}

	c.metrics.RecordSweep(time.Since(start), refreshed)
	return refreshed, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
