package usecase

import (
	"context"
	"time"

	"schematic-pipeline/internal/domain/ports/repository"
	"schematic-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ MonitorUseCase = (*monitorUC)(nil)

// MonitorUseCase surfaces jobs that were recorded but never picked up.
// It reports; it does not re-enqueue.
type MonitorUseCase interface {
	CheckStale(ctx context.Context) (int, error)
}

type monitorUC struct {
	jobs       repository.JobRepository
	staleAfter time.Duration
	limit      int
	now        func() time.Time
	log        *zerolog.Logger
}

func NewMonitorUseCase(jobs repository.JobRepository, staleAfter time.Duration, limit int, logger *zerolog.Logger) *monitorUC {
	return &monitorUC{
		jobs:       jobs,
		staleAfter: staleAfter,
		limit:      limit,
		now:        time.Now,
		log:        logger,
	}
}

func (m *monitorUC) CheckStale(ctx context.Context) (int, error) {
	stale, err := m.jobs.ListStaleWaiting(ctx, m.now().Add(-m.staleAfter), m.limit)
	if err != nil {
		return 0, err
	}
	metrics.SetStaleWaiting(len(stale))
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(stale))
	for _, j := range stale {
		ids = append(ids, j.ID)
	}
	m.log.Warn().
		Int("count", len(stale)).
		Strs("job_ids", ids).
		Dur("stale_after", m.staleAfter).
		Msg("jobs waiting past pickup horizon")
	return len(stale), nil
}
