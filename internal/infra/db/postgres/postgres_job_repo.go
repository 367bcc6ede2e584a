package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/repository"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.JobRepository = (*jobRepo)(nil)

const uniqueViolation = "23505"

const jobColumns = `id, prompt, status, attempts, last_error, artifact_key, artifact_size, created_at, updated_at`

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{
		pool: pool,
		tm:   tm,
	}
}

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = model.NewJobID()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	const q = `
INSERT INTO jobs (id, prompt, status, attempts, last_error, artifact_key, artifact_size, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	_, err = exec.Exec(ctx, q,
		job.ID, job.Prompt, string(job.Status), job.Attempts, job.LastError,
		job.ArtifactKey, job.ArtifactSize, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	row := exec.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// UpdateStatus locks the row, validates the transition in Go and writes the
// new state in one transaction, so concurrent deliveries of the same job
// serialize on the row lock.
func (r *jobRepo) UpdateStatus(ctx context.Context, u model.StatusUpdate) (*model.Job, error) {
	var updated *model.Job
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		exec, err := getExecutor(r.pool, tx)
		if err != nil {
			return err
		}
		row := exec.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, u.JobID)
		job, err := scanJob(row)
		if err != nil {
			return err
		}
		if err := job.Apply(u); err != nil {
			return err
		}

		const q = `
UPDATE jobs SET
  status = $2,
  attempts = $3,
  last_error = $4,
  artifact_key = $5,
  artifact_size = $6,
  updated_at = $7
WHERE id = $1;`
		if _, err := exec.Exec(ctx, q,
			job.ID, string(job.Status), job.Attempts, job.LastError,
			job.ArtifactKey, job.ArtifactSize, job.UpdatedAt); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *jobRepo) ListStaleWaiting(ctx context.Context, olderThan time.Time, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE status = 'waiting' AND created_at < $1
ORDER BY created_at
LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status string
	err := row.Scan(
		&j.ID, &j.Prompt, &status, &j.Attempts, &j.LastError,
		&j.ArtifactKey, &j.ArtifactSize, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	j.Status = model.JobStatus(status)
	return &j, nil
}
