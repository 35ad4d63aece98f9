package provider

import (
	"context"
	"errors"
	"time"

	"github.com/lggm33/afp-vault/internal/models"
)

var (
	// ErrRefreshRejected means the provider explicitly refused the refresh
	// secret (revoked at the provider, unknown client, ...). Terminal for
	// the identity: only a fresh grant recovers it.
	ErrRefreshRejected = errors.New("provider rejected the refresh secret")

	// ErrRefreshTransient covers network failures and provider-side
	// hiccups. Retryable with backoff, within bounds.
	ErrRefreshTransient = errors.New("transient provider failure")
)

// RefreshResult is a successful token rotation as returned by the provider.
// RefreshSecret is empty when the provider kept the previous one valid.
type RefreshResult struct {
	AccessSecret  string
	RefreshSecret string
	ExpiresAt     time.Time
}

// TokenRefresher exchanges a refresh secret for fresh token material. The
// boundary is untrusted and unreliable; implementations classify every
// failure as ErrRefreshRejected or ErrRefreshTransient.
type TokenRefresher interface {
	Refresh(
		ctx context.Context,
		p models.Provider,
		refreshSecret string,
	) (*RefreshResult, error)
}
