package repository

import (
	"context"
	"time"

	"schematic-pipeline/internal/domain/model"
)

type JobRepository interface {
	// Create inserts a new job. Returns domain.ErrAlreadyExists on id collision.
	Create(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// UpdateStatus atomically checks the transition against the stored status
	// and applies the partial update. Returns domain.ErrNotFound or
	// domain.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, u model.StatusUpdate) (*model.Job, error)
	// ListStaleWaiting returns jobs still waiting that were created before olderThan.
	ListStaleWaiting(ctx context.Context, olderThan time.Time, limit int) ([]*model.Job, error)
}
