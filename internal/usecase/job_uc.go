package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/adapter"
	"schematic-pipeline/internal/domain/ports/repository"
	"schematic-pipeline/internal/infra/logging"
	"schematic-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

// JobUseCase is the intake side of the pipeline plus the status read.
type JobUseCase interface {
	// Generate validates the request, records a waiting job and enqueues it.
	Generate(ctx context.Context, req model.GenerateRequest) (*model.GenerateResponse, error)
	Get(ctx context.Context, id string) (*model.Job, error)
}

type jobUC struct {
	jobs      repository.JobRepository
	queue     adapter.WorkPublisher
	maxPrompt int
	log       *zerolog.Logger
}

func NewJobUseCase(jobs repository.JobRepository, queue adapter.WorkPublisher, maxPromptLength int, logger *zerolog.Logger) *jobUC {
	return &jobUC{
		jobs:      jobs,
		queue:     queue,
		maxPrompt: maxPromptLength,
		log:       logger,
	}
}

func (u *jobUC) Generate(ctx context.Context, req model.GenerateRequest) (*model.GenerateResponse, error) {
	defer logging.TraceDuration(u.log, "JobUC.Generate")()

	prompt, err := u.validate(req)
	if err != nil {
		return nil, err
	}

	job, err := model.NewJob("", prompt)
	if err != nil {
		return nil, err
	}
	if err := u.jobs.Create(ctx, repository.NoTX, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.IncJobCreated()

	log := logging.With(logging.WithJobID(ctx, job.ID), u.log)
	if err := u.queue.Publish(ctx, model.WorkItem{Prompt: prompt, JobID: job.ID}); err != nil {
		metrics.IncJobOrphaned()
		log.Error().Err(err).Msg("job recorded but not enqueued")
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrOrphanedJob, job.ID, err)
	}

	log.Info().Str("prompt", logging.Preview(prompt, 64)).Msg("job accepted")
	return &model.GenerateResponse{JobID: job.ID}, nil
}

func (u *jobUC) Get(ctx context.Context, id string) (*model.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrNotFound
	}
	return u.jobs.FindByID(ctx, repository.NoTX, id)
}

func (u *jobUC) validate(req model.GenerateRequest) (string, error) {
	prompt, err := req.Text()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is empty", domain.ErrInvalidArgument)
	}
	// postgres text columns cannot store NUL
	if strings.ContainsRune(prompt, 0) {
		return "", fmt.Errorf("%w: prompt contains a NUL character", domain.ErrInvalidArgument)
	}
	if u.maxPrompt > 0 && utf8.RuneCountInString(prompt) > u.maxPrompt {
		return "", fmt.Errorf("%w: prompt longer than %d characters", domain.ErrInvalidArgument, u.maxPrompt)
	}
	return prompt, nil
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidArgument)
}
