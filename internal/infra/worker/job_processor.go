package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/adapter"
	"schematic-pipeline/internal/domain/ports/repository"
	"schematic-pipeline/internal/infra/logging"
	"schematic-pipeline/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// errAbandoned marks work interrupted by shutdown. The delivery is left
// unacked so another consumer reclaims it.
var errAbandoned = errors.New("job abandoned on shutdown")

// errStatusNotRecorded marks an outcome whose terminal status write failed.
// The delivery is left unacked so the job is retried.
var errStatusNotRecorded = errors.New("job status not recorded")

type JobProcessor struct {
	jobs          repository.JobRepository
	gen           adapter.Generator
	sink          adapter.ArtifactSink
	jobTimeout    time.Duration
	statusTimeout time.Duration
	log           *zerolog.Logger
}

func NewJobProcessor(
	jobs repository.JobRepository,
	gen adapter.Generator,
	sink adapter.ArtifactSink,
	jobTimeout time.Duration,
	statusTimeout time.Duration,
	log *zerolog.Logger,
) *JobProcessor {
	if statusTimeout <= 0 {
		statusTimeout = 10 * time.Second
	}
	l := log.With().Str("component", "job_processor").Logger()
	return &JobProcessor{
		jobs:          jobs,
		gen:           gen,
		sink:          sink,
		jobTimeout:    jobTimeout,
		statusTimeout: statusTimeout,
		log:           &l,
	}
}

// Start receives deliveries until ctx is done and runs each on pool. A
// delivery is received only once a pool slot is free, so its visibility
// window starts when work on it can start. A delivery is acked once Process
// has a recorded outcome for it: finished, failed, skipped or dropped.
// Start returns nil when ctx is done and an error wrapping
// domain.ErrQueueClosed when the queue can no longer deliver.
func (p *JobProcessor) Start(ctx context.Context, queue adapter.WorkQueue, pool *Pool) error {
	p.log.Info().Int("concurrency", pool.Size()).Msg("Job processor started")
	slots := make(chan struct{}, pool.Size())
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Job processor stopping")
			return nil
		case slots <- struct{}{}:
		}
		release := func() { <-slots }

		d, err := queue.Receive(ctx)
		if err != nil {
			release()
			if errors.Is(err, domain.ErrQueueEmpty) || ctx.Err() != nil {
				continue
			}
			if errors.Is(err, domain.ErrQueueClosed) {
				p.log.Error().Err(err).Msg("work queue closed")
				return err
			}
			p.log.Error().Err(err).Dur("backoff", backoff).Msg("receive failed")
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		delivery := d
		err = pool.Submit(ctx, func(workCtx context.Context) error {
			defer release()
			if delivery.Redelivered {
				p.log.Info().Str("job_id", delivery.Item.JobID).Str("delivery_id", delivery.ID).Msg("redelivered work item")
			}
			tctx := logging.WithTraceID(workCtx, uuid.NewString())
			perr := p.Process(tctx, delivery.Item)
			if !shouldAck(perr) {
				p.log.Warn().Err(perr).Str("job_id", delivery.Item.JobID).Msg("delivery left pending")
				return nil
			}
			ackCtx, cancel := context.WithTimeout(context.Background(), p.statusTimeout)
			defer cancel()
			if err := queue.Ack(ackCtx, delivery); err != nil {
				p.log.Error().Err(err).Str("job_id", delivery.Item.JobID).Msg("ack failed")
			}
			return nil
		})
		if err != nil {
			release()
			// the delivery stays pending and is reclaimed later
			p.log.Info().Err(err).Str("job_id", d.Item.JobID).Msg("submit aborted")
		}
	}
}

// shouldAck is false for outcomes that must be retried by redelivery.
func shouldAck(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, domain.ErrGenerationFailed) || errors.Is(err, domain.ErrSinkFailed)
}

// Process runs one work item through generation and storage and records the
// outcome on the job. It returns nil on success or when the item needs no
// work, and an error wrapping domain.ErrGenerationFailed or
// domain.ErrSinkFailed when the job was failed.
func (p *JobProcessor) Process(ctx context.Context, item model.WorkItem) error {
	ctx = logging.WithJobID(ctx, item.JobID)
	log := logging.With(ctx, p.log)
	defer logging.TraceDuration(log, "JobProcessor.Process")()

	loadCtx, cancelLoad := context.WithTimeout(ctx, p.statusTimeout)
	job, err := p.jobs.FindByID(loadCtx, repository.NoTX, item.JobID)
	cancelLoad()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("work item for unknown job dropped")
			metrics.IncJobProcessed("dropped")
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.IsTerminal() {
		log.Info().Str("status", string(job.Status)).Msg("duplicate delivery of completed job skipped")
		metrics.IncJobProcessed("skipped")
		return nil
	}

	prompt := item.Prompt
	if prompt == "" {
		prompt = job.Prompt
	}

	// best-effort: a missing "started" must not block generation
	startCtx, cancelStart := context.WithTimeout(ctx, p.statusTimeout)
	_, err = p.jobs.UpdateStatus(startCtx, model.StatusUpdate{
		JobID:             job.ID,
		Status:            model.JobStatusStarted,
		IncrementAttempts: true,
	})
	cancelStart()
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info().Msg("job completed concurrently, skipping")
			metrics.IncJobProcessed("skipped")
			return nil
		}
		metrics.IncStatusWriteError(string(model.JobStatusStarted))
		log.Warn().Err(err).Msg("could not mark job started")
	}

	log.Info().Str("prompt", logging.Preview(prompt, 64)).Msg("Processing job")
	start := time.Now()
	art, err := p.generate(ctx, job.ID, prompt)
	elapsed := time.Since(start)
	metrics.ObserveGeneration(elapsed, err == nil)

	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("job interrupted by shutdown")
			return fmt.Errorf("%w: %v", errAbandoned, err)
		}
		if werr := p.fail(log, job.ID, err); werr != nil {
			return fmt.Errorf("%w: %v", errStatusNotRecorded, werr)
		}
		metrics.IncJobProcessed(string(model.JobStatusFailed))
		return err
	}

	if err := p.writeStatus(model.StatusUpdate{
		JobID:        job.ID,
		Status:       model.JobStatusFinished,
		ArtifactKey:  art.Key,
		ArtifactSize: art.Size,
	}); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info().Msg("job completed concurrently, artifact left in place")
			metrics.IncJobProcessed("skipped")
			return nil
		}
		metrics.IncStatusWriteError(string(model.JobStatusFinished))
		log.Error().Err(err).Str("key", art.Key).Msg("artifact stored but job not marked finished")
		return fmt.Errorf("%w: %v", errStatusNotRecorded, err)
	}

	metrics.IncJobProcessed(string(model.JobStatusFinished))
	metrics.AddArtifactBytes(art.Size)
	log.Info().Str("key", art.Key).Int64("size", art.Size).Dur("duration", elapsed).Msg("Job finished")
	return nil
}

// generate streams the generator output into the sink under the per-job
// timeout.
func (p *JobProcessor) generate(ctx context.Context, jobID, prompt string) (*model.Artifact, error) {
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	body, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		if !errors.Is(err, domain.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
		}
		return nil, err
	}
	defer body.Close()

	src := &trackingReader{r: body}
	art, err := p.sink.Put(ctx, jobID, src)
	if err != nil {
		if src.err != nil {
			return nil, fmt.Errorf("%w: read generation stream: %w", domain.ErrGenerationFailed, src.err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s: %w", domain.ErrGenerationFailed, p.jobTimeout, err)
		}
		if !errors.Is(err, domain.ErrSinkFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrSinkFailed, err)
		}
		return nil, err
	}
	return art, nil
}

// fail records the failure. It returns the write error when the job could
// not be marked failed; the caller then leaves the delivery pending so the
// job is retried instead of staying started. A job completed concurrently
// counts as recorded.
func (p *JobProcessor) fail(log *zerolog.Logger, jobID string, cause error) error {
	log.Error().Err(cause).Msg("Job failed")
	err := p.writeStatus(model.StatusUpdate{
		JobID:     jobID,
		Status:    model.JobStatusFailed,
		LastError: model.TruncateError(cause.Error()),
	})
	if err == nil || errors.Is(err, domain.ErrInvalidTransition) {
		return nil
	}
	metrics.IncStatusWriteError(string(model.JobStatusFailed))
	log.Error().Err(err).Msg("could not mark job failed")
	return err
}

// writeStatus uses its own deadline so that terminal writes still happen
// after the job context expired.
func (p *JobProcessor) writeStatus(u model.StatusUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.statusTimeout)
	defer cancel()
	_, err := p.jobs.UpdateStatus(ctx, u)
	return err
}

// trackingReader remembers the first read error of the generation stream so
// that a sink error caused by the source is classified as a generation
// failure.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(b []byte) (int, error) {
	n, err := t.r.Read(b)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
