package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/repository"
	"schematic-pipeline/internal/infra/metrics"
	red "schematic-pipeline/internal/infra/redis"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

var _ repository.JobRepository = (*jobRepoCacheDecorator)(nil)

type jobRepoCacheDecorator struct {
	inner  repository.JobRepository
	cache  red.RedisClient
	ttl    time.Duration
	logger *zerolog.Logger
}

// NewJobRepoCacheDecorator caches FindByID for jobs that reached a terminal
// status. Non-terminal jobs always go to the database.
func NewJobRepoCacheDecorator(inner repository.JobRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.JobRepository {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l := logger.With().Str("component", "job_cache").Logger()
	return &jobRepoCacheDecorator{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: &l,
	}
}

func jobCacheKey(id string) string { return fmt.Sprintf("job:%s", id) }

func (d *jobRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	// reads inside a transaction must see the transaction's view
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}

	key := jobCacheKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var job model.Job
		if json.Unmarshal([]byte(val), &job) == nil {
			metrics.IncCacheRequest("job", "hit")
			return &job, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		metrics.IncCacheRequest("job", "error")
		d.logger.Warn().Err(err).Str("job_id", id).Msg("cache get failed")
	}

	metrics.IncCacheRequest("job", "miss")
	job, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, job)
	return job, nil
}

func (d *jobRepoCacheDecorator) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	return d.inner.Create(ctx, tx, job)
}

func (d *jobRepoCacheDecorator) UpdateStatus(ctx context.Context, u model.StatusUpdate) (*model.Job, error) {
	if err := d.cache.Del(ctx, jobCacheKey(u.JobID)); err != nil {
		d.logger.Warn().Err(err).Str("job_id", u.JobID).Msg("cache invalidation failed")
	}
	job, err := d.inner.UpdateStatus(ctx, u)
	if err != nil {
		return nil, err
	}
	d.store(ctx, job)
	return job, nil
}

func (d *jobRepoCacheDecorator) ListStaleWaiting(ctx context.Context, olderThan time.Time, limit int) ([]*model.Job, error) {
	return d.inner.ListStaleWaiting(ctx, olderThan, limit)
}

func (d *jobRepoCacheDecorator) store(ctx context.Context, job *model.Job) {
	if job == nil || !job.Status.IsTerminal() {
		return
	}
	b, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, jobCacheKey(job.ID), b, d.ttl); err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("cache set failed")
	}
}
