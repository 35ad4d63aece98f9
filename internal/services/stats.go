package services

import (
	"context"
	"log"
	"time"

	"github.com/lggm33/afp-vault/internal/cache"
	"github.com/lggm33/afp-vault/internal/metrics"
	"github.com/lggm33/afp-vault/internal/models"
	"github.com/lggm33/afp-vault/internal/store"
)

// statsCacheTTL bounds how often the gauges hit the database with COUNT
// queries. The background job ticks more often than this; between ticks the
// cached counts are reused.
const statsCacheTTL = 30 * time.Second

// StatsService feeds the Prometheus gauges from periodic database counts,
// cached so the gauge ticker does not translate into a COUNT query per tick.
type StatsService struct {
	store   *store.Store
	counts  cache.Cache[int64]
	metrics metrics.Recorder
}

// NewStatsService creates the gauge updater. A nil cache falls back to an
// in-process memory cache.
func NewStatsService(s *store.Store, counts cache.Cache[int64], m metrics.Recorder) *StatsService {
	if counts == nil {
		counts = cache.NewMemoryCache[int64]()
	}
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &StatsService{
		store:   s,
		counts:  counts,
		metrics: m,
	}
}

// Update refreshes every gauge once. Individual count failures are logged
// and skipped so one bad query does not starve the remaining gauges.
func (s *StatsService) Update(ctx context.Context) {
	for _, provider := range []models.Provider{models.ProviderGmail, models.ProviderOutlook} {
		count, err := cache.GetWithFetch(ctx, s.counts, "active:"+string(provider), statsCacheTTL,
			func(ctx context.Context, _ string) (int64, error) {
				return s.store.CountActiveCredentials(ctx, provider)
			})
		if err != nil {
			log.Printf("Stats: counting active %s credentials: %v", provider, err)
			s.metrics.RecordDatabaseQueryError("count_active_credentials")
			continue
		}
		s.metrics.SetActiveCredentials(string(provider), int(count))
	}

	count, err := cache.GetWithFetch(ctx, s.counts, "audit:total", statsCacheTTL,
		func(ctx context.Context, _ string) (int64, error) {
			return s.store.CountAuditEntries(ctx)
		})
	if err != nil {
		log.Printf("Stats: counting audit entries: %v", err)
		s.metrics.RecordDatabaseQueryError("count_audit_entries")
		return
	}
	s.metrics.SetAuditEntriesTotal(int(count))
}

// Run updates the gauges on a fixed interval until the context is done. It
// is shaped as a graceful job: blocking, returning when ctx is cancelled.
func (s *StatsService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Update(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Update(ctx)
		}
	}
}
