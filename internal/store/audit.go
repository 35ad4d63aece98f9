package store

import (
	"context"
	"time"

	"github.com/lggm33/afp-vault/internal/models"
)

// CreateAuditEntry durably appends one audit entry. There is no update or
// delete counterpart; entries are immutable once written and retention is an
// administrative concern outside the vault.
func (s *Store) CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// ListAuditEntriesForUser returns entries newest first, paginated by a
// composite (timestamp, id) cursor matching the sort order. Pass a zero
// `before` for the first page; subsequent pages pass the timestamp and ID of
// the last entry seen. Write timestamps are non-decreasing, not strictly
// increasing, so the cursor must include the ID or entries sharing the
// boundary timestamp would be skipped. Cursor pagination stays correct under
// concurrent inserts, unlike offsets.
func (s *Store) ListAuditEntriesForUser(
	ctx context.Context,
	userID string,
	limit int,
	before time.Time,
	beforeID string,
) ([]models.AuditEntry, error) {
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !before.IsZero() {
		if beforeID != "" {
			query = query.Where(
				"timestamp < ? OR (timestamp = ? AND id < ?)",
				before, before, beforeID,
			)
		} else {
			query = query.Where("timestamp < ?", before)
		}
	}

	var entries []models.AuditEntry
	err := query.Order("timestamp DESC, id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CountAuditEntries counts all audit entries, for the metrics gauge job.
func (s *Store) CountAuditEntries(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.AuditEntry{}).Count(&count).Error
	return count, err
}
