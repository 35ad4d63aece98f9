package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lggm33/afp-vault/internal/metrics"
	"github.com/lggm33/afp-vault/internal/models"
)

// auditWriteTimeout bounds the detached durable append in Record.
const auditWriteTimeout = 5 * time.Second

// AuditStore is the slice of the store the audit service writes through.
type AuditStore interface {
	CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	ListAuditEntriesForUser(
		ctx context.Context,
		userID string,
		limit int,
		before time.Time,
		beforeID string,
	) ([]models.AuditEntry, error)
}

// AuditService appends credential operation records. Writes are synchronous:
// an operation is not reported complete to its caller until its audit entry
// is durably stored. A failed write surfaces as ErrAuditWrite so callers can
// tell "the operation failed" apart from "we lost the record of it."
type AuditService struct {
	store   AuditStore
	metrics metrics.Recorder

	// Write timestamps are assigned here and never go backwards, even if
	// the wall clock does.
	mu   sync.Mutex
	last time.Time
}

// NewAuditService creates a new audit service
func NewAuditService(store AuditStore, m metrics.Recorder) *AuditService {
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &AuditService{store: store, metrics: m}
}

// Record assigns the entry an ID and a monotonically non-decreasing
// timestamp, then durably appends it. Entries are immutable once written.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.Timestamp = s.nextTimestamp()

	// The append must outlive the triggering request: a caller whose
	// context has already been cancelled still gets its entry written.
	// Same detached-context pattern as the redis lease release.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := s.store.CreateAuditEntry(writeCtx, entry); err != nil {
		s.metrics.RecordAuditWrite(false)
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	s.metrics.RecordAuditWrite(true)
	return nil
}

// ListForUser returns a user's audit entries newest first, paginated by a
// composite (timestamp, id) cursor. A zero `before` starts at the newest
// entry; `beforeID` disambiguates entries sharing the boundary timestamp.
func (s *AuditService) ListForUser(
	ctx context.Context,
	userID string,
	limit int,
	before time.Time,
	beforeID string,
) ([]models.AuditEntry, error) {
	return s.store.ListAuditEntriesForUser(ctx, userID, limit, before, beforeID)
}

func (s *AuditService) nextTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	return now
}
