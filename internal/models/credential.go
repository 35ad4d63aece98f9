package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Provider identifies the external email provider a credential was granted by.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGmail, ProviderOutlook:
		return true
	}
	return false
}

// Identity is the unique (user, email address, provider) triple that
// addresses a credential record. A user may hold several records that differ
// by provider or address, never two for the same triple.
type Identity struct {
	UserID       string   `json:"user_id"`
	EmailAddress string   `json:"email_address"`
	Provider     Provider `json:"provider"`
}

// Validate checks that all identity components are present and the provider
// is a known one.
func (id Identity) Validate() error {
	if id.UserID == "" {
		return fmt.Errorf("identity: user_id is required")
	}
	if id.EmailAddress == "" {
		return fmt.Errorf("identity: email_address is required")
	}
	if !id.Provider.Valid() {
		return fmt.Errorf("identity: unsupported provider %q", id.Provider)
	}
	return nil
}

// String renders the identity as a stable key, usable as a lock key.
func (id Identity) String() string {
	return fmt.Sprintf("%s/%s/%s", id.UserID, id.Provider, id.EmailAddress)
}

// ScopeList stores granted OAuth scope names as a JSON array column.
type ScopeList []string

// Value implements the driver.Valuer interface for database storage
func (s ScopeList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil //nolint:nilnil // nil driver.Value represents SQL NULL, which is valid here
	}
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for database retrieval
func (s *ScopeList) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal ScopeList value: %v", value)
	}

	var result ScopeList
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}

	*s = result
	return nil
}

// Credential binds a user, an email address and a provider to a pair of
// encrypted token secrets with expiry metadata. Secrets are stored only as
// ciphertext; plaintext exists transiently in memory around cipher calls.
type Credential struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	// Identity (unique triple)
	UserID       string   `gorm:"type:varchar(36);uniqueIndex:idx_credentials_identity;index;not null" json:"user_id"`
	EmailAddress string   `gorm:"type:varchar(255);uniqueIndex:idx_credentials_identity;not null"      json:"email_address"`
	Provider     Provider `gorm:"type:varchar(20);uniqueIndex:idx_credentials_identity;not null"       json:"provider"`

	// Encrypted token material. The refresh secret is optional: some
	// provider flows never hand one out.
	EncryptedAccessSecret  string `gorm:"type:text;not null" json:"-"`
	EncryptedRefreshSecret string `gorm:"type:text"          json:"-"`

	Scopes    ScopeList `gorm:"type:json"      json:"scopes"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`

	// IsActive=false marks logical revocation. Revoked records are retained
	// for audit continuity, never hard-deleted.
	IsActive bool `gorm:"index;not null;default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Credential) TableName() string {
	return "credentials"
}

// Identity returns the unique triple addressing this record.
func (c *Credential) Identity() Identity {
	return Identity{
		UserID:       c.UserID,
		EmailAddress: c.EmailAddress,
		Provider:     c.Provider,
	}
}

// HasRefreshSecret reports whether the record carries refresh token material.
func (c *Credential) HasRefreshSecret() bool {
	return c.EncryptedRefreshSecret != ""
}
