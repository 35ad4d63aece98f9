package store

import "errors"

var (
	// ErrRecordNotFound wraps GORM's not found error for consistency.
	// Inactive (revoked) credentials are reported as not found by the
	// active-record lookups.
	ErrRecordNotFound = errors.New("record not found")
)
