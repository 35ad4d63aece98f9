package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lggm33/afp-vault/internal/models"
)

// CredentialUpdate carries the full replacement state for an upsert. The
// store never applies partial secret updates; access secret, refresh secret
// and expiry always change together.
type CredentialUpdate struct {
	EncryptedAccessSecret  string
	EncryptedRefreshSecret string
	Scopes                 models.ScopeList
	ExpiresAt              time.Time
}

// UpsertCredential atomically creates or fully replaces the record for the
// given identity. A replaced record is reactivated: a fresh grant supersedes
// an earlier revocation. Either every field of the update is committed or
// none is.
func (s *Store) UpsertCredential(
	ctx context.Context,
	identity models.Identity,
	update CredentialUpdate,
) (*models.Credential, error) {
	var result *models.Credential

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Credential
		err := tx.Where(
			"user_id = ? AND email_address = ? AND provider = ?",
			identity.UserID, identity.EmailAddress, identity.Provider,
		).First(&existing).Error

		switch {
		case err == nil:
			existing.EncryptedAccessSecret = update.EncryptedAccessSecret
			existing.EncryptedRefreshSecret = update.EncryptedRefreshSecret
			existing.Scopes = update.Scopes
			existing.ExpiresAt = update.ExpiresAt
			existing.IsActive = true
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			result = &existing
			return nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			created := models.Credential{
				ID:                     uuid.New().String(),
				UserID:                 identity.UserID,
				EmailAddress:           identity.EmailAddress,
				Provider:               identity.Provider,
				EncryptedAccessSecret:  update.EncryptedAccessSecret,
				EncryptedRefreshSecret: update.EncryptedRefreshSecret,
				Scopes:                 update.Scopes,
				ExpiresAt:              update.ExpiresAt,
				IsActive:               true,
			}
			if err := tx.Create(&created).Error; err != nil {
				return err
			}
			result = &created
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetCredential returns the record for the identity regardless of its
// active state, or ErrRecordNotFound.
func (s *Store) GetCredential(
	ctx context.Context,
	identity models.Identity,
) (*models.Credential, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).Where(
		"user_id = ? AND email_address = ? AND provider = ?",
		identity.UserID, identity.EmailAddress, identity.Provider,
	).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// GetActiveCredential returns the active record for the identity. Revoked
// records are reported as ErrRecordNotFound.
func (s *Store) GetActiveCredential(
	ctx context.Context,
	identity models.Identity,
) (*models.Credential, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).Where(
		"user_id = ? AND email_address = ? AND provider = ? AND is_active = ?",
		identity.UserID, identity.EmailAddress, identity.Provider, true,
	).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// DeactivateCredential sets is_active=false for the identity. Idempotent:
// deactivating an absent or already-inactive record is not an error. The
// row is retained for audit continuity.
func (s *Store) DeactivateCredential(ctx context.Context, identity models.Identity) error {
	return s.db.WithContext(ctx).Model(&models.Credential{}).Where(
		"user_id = ? AND email_address = ? AND provider = ?",
		identity.UserID, identity.EmailAddress, identity.Provider,
	).Update("is_active", false).Error
}

// ListCredentialsNeedingRefresh returns active records whose expiry falls at
// or before the deadline (now + lookahead window).
func (s *Store) ListCredentialsNeedingRefresh(
	ctx context.Context,
	deadline time.Time,
) ([]models.Credential, error) {
	var creds []models.Credential
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND expires_at <= ?", true, deadline).
		Order("expires_at ASC").
		Find(&creds).Error
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// CountActiveCredentials counts active records for a provider, for the
// metrics gauge job.
func (s *Store) CountActiveCredentials(
	ctx context.Context,
	provider models.Provider,
) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("provider = ? AND is_active = ?", provider, true).
		Count(&count).Error
	return count, err
}
