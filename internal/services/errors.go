package services

import "errors"

var (
	// ErrNeedsRefresh signals that the stored access secret is within the
	// lookahead window or past expiry. It is a routing signal, not a
	// failure: callers go through the refresh coordinator and retry.
	ErrNeedsRefresh = errors.New("access token needs refresh")

	// ErrAuditWrite reports that the audit record of an operation could not
	// be durably written. It outranks the operation's own outcome: an
	// unaudited credential mutation is treated as failed even when the
	// mutation itself succeeded.
	ErrAuditWrite = errors.New("audit write failed")
)
