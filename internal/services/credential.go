package services

import (
	"context"
	"fmt"
	"time"

	"github.com/lggm33/afp-vault/internal/crypto"
	"github.com/lggm33/afp-vault/internal/metrics"
	"github.com/lggm33/afp-vault/internal/models"
	"github.com/lggm33/afp-vault/internal/store"
	"github.com/lggm33/afp-vault/internal/util"
)

// CredentialService is the credential record store of the vault. It owns the
// encrypt-before-persist rule and the audit rule: every Upsert,
// GetLiveAccessSecret and Revoke call writes exactly one audit entry before
// returning, on failure paths included.
type CredentialService struct {
	store     *store.Store
	cipher    *crypto.Cipher
	audit     *AuditService
	lookahead time.Duration
	metrics   metrics.Recorder

	now func() time.Time // overridable in tests
}

// NewCredentialService creates a new credential service. lookahead is the
// margin before true expiry at which a token is proactively treated as
// needing refresh.
func NewCredentialService(
	s *store.Store,
	cipher *crypto.Cipher,
	audit *AuditService,
	lookahead time.Duration,
	m metrics.Recorder,
) *CredentialService {
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &CredentialService{
		store:     s,
		cipher:    cipher,
		audit:     audit,
		lookahead: lookahead,
		metrics:   m,
		now:       time.Now,
	}
}

// Upsert encrypts both secrets and atomically creates or fully replaces the
// record for the identity. Partial writes are impossible: ciphertext fields
// and expiry commit together or not at all. The returned record carries
// metadata only, never plaintext.
func (s *CredentialService) Upsert(
	ctx context.Context,
	identity models.Identity,
	accessSecret, refreshSecret string,
	scopes models.ScopeList,
	expiresAt time.Time,
) (*models.Credential, error) {
	cred, opErr := s.upsert(ctx, identity, accessSecret, refreshSecret, scopes, expiresAt)

	s.metrics.RecordCredentialOp("issue", opErr == nil)
	if auditErr := s.recordAudit(ctx, identity, models.ActionTokenIssue, opErr); auditErr != nil {
		return nil, auditErr
	}
	if opErr != nil {
		return nil, opErr
	}
	return cred, nil
}

func (s *CredentialService) upsert(
	ctx context.Context,
	identity models.Identity,
	accessSecret, refreshSecret string,
	scopes models.ScopeList,
	expiresAt time.Time,
) (*models.Credential, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if accessSecret == "" {
		return nil, fmt.Errorf("access secret is required")
	}
	// No token without a known validity window
	if expiresAt.IsZero() {
		return nil, fmt.Errorf("expires_at is required")
	}

	encAccess, err := s.cipher.Encrypt(accessSecret)
	if err != nil {
		return nil, err
	}
	encRefresh, err := s.cipher.Encrypt(refreshSecret)
	if err != nil {
		return nil, err
	}

	return s.store.UpsertCredential(ctx, identity, store.CredentialUpdate{
		EncryptedAccessSecret:  encAccess,
		EncryptedRefreshSecret: encRefresh,
		Scopes:                 scopes,
		ExpiresAt:              expiresAt,
	})
}

// GetLiveAccessSecret decrypts and returns the access secret for the
// identity. It returns store.ErrRecordNotFound when no active record exists
// and ErrNeedsRefresh when the expiry is within the lookahead window or
// already past; callers route the latter through the refresh coordinator.
func (s *CredentialService) GetLiveAccessSecret(
	ctx context.Context,
	identity models.Identity,
) (string, error) {
	secret, opErr := s.liveAccessSecret(ctx, identity)

	s.metrics.RecordCredentialOp("access", opErr == nil)
	if auditErr := s.recordAudit(ctx, identity, models.ActionTokenAccess, opErr); auditErr != nil {
		return "", auditErr
	}
	if opErr != nil {
		return "", opErr
	}
	return secret, nil
}

func (s *CredentialService) liveAccessSecret(
	ctx context.Context,
	identity models.Identity,
) (string, error) {
	cred, err := s.store.GetActiveCredential(ctx, identity)
	if err != nil {
		return "", err
	}
	if s.withinLookahead(cred) {
		return "", ErrNeedsRefresh
	}
	return s.cipher.Decrypt(cred.EncryptedAccessSecret)
}

// Revoke marks the record inactive. Idempotent: revoking an absent or
// already-revoked record is not an error. The record is retained for audit
// continuity.
func (s *CredentialService) Revoke(ctx context.Context, identity models.Identity) error {
	opErr := s.store.DeactivateCredential(ctx, identity)

	s.metrics.RecordCredentialOp("revoke", opErr == nil)
	if auditErr := s.recordAudit(ctx, identity, models.ActionTokenRevoke, opErr); auditErr != nil {
		return auditErr
	}
	return opErr
}

// ActiveCredential is the un-audited lookup used by the refresh coordinator
// while it holds the per-identity lock; the coordinator records the refresh
// attempt itself.
func (s *CredentialService) ActiveCredential(
	ctx context.Context,
	identity models.Identity,
) (*models.Credential, error) {
	return s.store.GetActiveCredential(ctx, identity)
}

// RefreshSecret decrypts the record's refresh secret. Returns the explicit
// absent value ("") when the provider flow never handed one out.
func (s *CredentialService) RefreshSecret(cred *models.Credential) (string, error) {
	return s.cipher.Decrypt(cred.EncryptedRefreshSecret)
}

// AccessSecret decrypts the record's access secret without freshness checks.
func (s *CredentialService) AccessSecret(cred *models.Credential) (string, error) {
	return s.cipher.Decrypt(cred.EncryptedAccessSecret)
}

// CommitRotation persists the outcome of a successful provider refresh as a
// full replacement of the record's secrets and expiry. When the provider did
// not rotate the refresh secret, the previous one is carried forward.
func (s *CredentialService) CommitRotation(
	ctx context.Context,
	cred *models.Credential,
	accessSecret, refreshSecret string,
	expiresAt time.Time,
) error {
	encAccess, err := s.cipher.Encrypt(accessSecret)
	if err != nil {
		return err
	}

	encRefresh := cred.EncryptedRefreshSecret
	if refreshSecret != "" {
		encRefresh, err = s.cipher.Encrypt(refreshSecret)
		if err != nil {
			return err
		}
	}

	_, err = s.store.UpsertCredential(ctx, cred.Identity(), store.CredentialUpdate{
		EncryptedAccessSecret:  encAccess,
		EncryptedRefreshSecret: encRefresh,
		Scopes:                 cred.Scopes,
		ExpiresAt:              expiresAt,
	})
	return err
}

// MarkExhausted deactivates the record after a terminal refresh failure.
// The identity stays inactive until a fresh grant re-authorizes it.
func (s *CredentialService) MarkExhausted(ctx context.Context, identity models.Identity) error {
	return s.store.DeactivateCredential(ctx, identity)
}

// NeedingRefresh lists identities of active records inside the lookahead
// window, for the sweep entry point.
func (s *CredentialService) NeedingRefresh(ctx context.Context) ([]models.Identity, error) {
	creds, err := s.store.ListCredentialsNeedingRefresh(ctx, s.now().Add(s.lookahead))
	if err != nil {
		return nil, err
	}

	identities := make([]models.Identity, 0, len(creds))
	for i := range creds {
		identities = append(identities, creds[i].Identity())
	}
	return identities, nil
}

// Fresh reports whether the record's access secret is still usable without a
// refresh.
func (s *CredentialService) Fresh(cred *models.Credential) bool {
	return !s.withinLookahead(cred)
}

// withinLookahead reports whether expiry is within the lookahead window or
// already past. The boundary itself needs refresh: a token with exactly
// `lookahead` left is not considered live.
func (s *CredentialService) withinLookahead(cred *models.Credential) bool {
	return cred.ExpiresAt.Sub(s.now()) <= s.lookahead
}

func (s *CredentialService) recordAudit(
	ctx context.Context,
	identity models.Identity,
	action models.AuditAction,
	opErr error,
) error {
	entry := &models.AuditEntry{
		UserID:        identity.UserID,
		EmailAddress:  identity.EmailAddress,
		Provider:      identity.Provider,
		Action:        action,
		Success:       opErr == nil,
		OriginAddress: util.GetIPFromContext(ctx),
	}
	if opErr != nil {
		entry.ErrorDetail = opErr.Error()
	}
	return s.audit.Record(ctx, entry)
}
