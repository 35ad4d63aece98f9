package models

import "time"

// AuditAction is the closed set of credential operations recorded in the
// audit log. Extend deliberately; audit queries rely on this staying small.
type AuditAction string

const (
	ActionTokenIssue   AuditAction = "token_issue"
	ActionTokenRefresh AuditAction = "token_refresh"
	ActionTokenAccess  AuditAction = "token_access"
	ActionTokenRevoke  AuditAction = "token_revoke"
)

// Valid reports whether a is a known audit action.
func (a AuditAction) Valid() bool {
	switch a {
	case ActionTokenIssue, ActionTokenRefresh, ActionTokenAccess, ActionTokenRevoke:
		return true
	}
	return false
}

// AuditEntry records one attempted credential operation. Entries are
// append-only: no UpdatedAt, never mutated or deleted by the vault.
//
// The credential is referenced by identity (email address + provider next to
// UserID), not by row ID, so audit history survives later lifecycle changes
// of the record. The reference fields stay empty when a failed lookup had no
// resolvable credential.
type AuditEntry struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	UserID       string   `gorm:"type:varchar(36);index;not null" json:"user_id"`
	EmailAddress string   `gorm:"type:varchar(255)"               json:"email_address,omitempty"`
	Provider     Provider `gorm:"type:varchar(20)"                json:"provider,omitempty"`

	Action      AuditAction `gorm:"type:varchar(20);index;not null" json:"action"`
	Success     bool        `gorm:"index;not null"                  json:"success"`
	ErrorDetail string      `gorm:"type:text"                       json:"error_detail,omitempty"`

	// OriginAddress holds the network origin of the triggering request,
	// empty for internally scheduled work. varchar(45) fits IPv6.
	OriginAddress string `gorm:"type:varchar(45)" json:"origin_address,omitempty"`

	// Timestamp is assigned at write time and is monotonically
	// non-decreasing across entries written by one process.
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
}

// TableName specifies the table name for GORM
func (AuditEntry) TableName() string {
	return "audit_entries"
}
