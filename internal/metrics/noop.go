package metrics

import "time"

// NoopMetrics is the no-op Recorder used when metrics are disabled.
type NoopMetrics struct{}

// NewNoopMetrics creates a no-op metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordCredentialOp(op string, success bool)        {}
func (n *NoopMetrics) RecordRefreshAttempt(outcome string)               {}
func (n *NoopMetrics) RecordLockAcquire(acquired bool)                   {}
func (n *NoopMetrics) RecordSweep(duration time.Duration, refreshed int) {}
func (n *NoopMetrics) RecordAuditWrite(success bool)                     {}
func (n *NoopMetrics) SetActiveCredentials(provider string, count int)   {}
func (n *NoopMetrics) SetAuditEntriesTotal(count int)                    {}
func (n *NoopMetrics) RecordDatabaseQueryError(operation string)         {}
