package metrics

import "time"

// Recorder is the metrics interface the vault records through. Init returns
// either the Prometheus implementation or the zero-overhead noop.
type Recorder interface {
	// Credential operations (issue, access, revoke)
	RecordCredentialOp(op string, success bool)

	// Refresh coordination
	RecordRefreshAttempt(outcome string) // success, transient, rejected, exhausted
	RecordLockAcquire(acquired bool)
	RecordSweep(duration time.Duration, refreshed int)

	// Audit log
	RecordAuditWrite(success bool)

	// Gauge updates (background job)
	SetActiveCredentials(provider string, count int)
	SetAuditEntriesTotal(count int)

	// Database health
	RecordDatabaseQueryError(operation string)
}
