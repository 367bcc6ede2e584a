//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

func TestJobRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	finished := &model.Job{ID: "job-1", Prompt: "a castle", Status: model.JobStatusFinished, ArtifactKey: "job-1.schem"}
	finishedJSON, _ := json.Marshal(finished)

	t.Run("FindByID should return from cache on hit", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				if key != "job:job-1" {
					t.Errorf("unexpected cache key %q", key)
				}
				return string(finishedJSON), nil
			},
		}
		innerCalled := false
		inner := &mockInnerJobRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
				innerCalled = true
				return nil, nil
			},
		}

		decorator := NewJobRepoCacheDecorator(inner, mockRedis, time.Minute, &logger)
		got, err := decorator.FindByID(ctx, nil, "job-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerCalled {
			t.Error("inner repository should not be called on a cache hit")
		}
		if got.Status != model.JobStatusFinished || got.ArtifactKey != "job-1.schem" {
			t.Errorf("unexpected job from cache: %+v", got)
		}
	})

	t.Run("FindByID should only cache terminal jobs", func(t *testing.T) {
		var stored []string
		mockRedis := &mockRedisClient{
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				stored = append(stored, key)
				return nil
			},
		}
		inner := &mockInnerJobRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
				if id == "job-1" {
					return finished, nil
				}
				return &model.Job{ID: id, Status: model.JobStatusStarted}, nil
			},
		}

		decorator := NewJobRepoCacheDecorator(inner, mockRedis, time.Minute, &logger)
		if _, err := decorator.FindByID(ctx, nil, "job-2"); err != nil {
			t.Fatalf("FindByID(job-2): %v", err)
		}
		if _, err := decorator.FindByID(ctx, nil, "job-1"); err != nil {
			t.Fatalf("FindByID(job-1): %v", err)
		}
		if len(stored) != 1 || stored[0] != "job:job-1" {
			t.Errorf("expected only the finished job to be cached, got %v", stored)
		}
	})

	t.Run("FindByID should fall back to the database when redis fails", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return "", errors.New("connection refused")
			},
		}
		inner := &mockInnerJobRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
				return &model.Job{ID: id, Status: model.JobStatusWaiting}, nil
			},
		}

		decorator := NewJobRepoCacheDecorator(inner, mockRedis, time.Minute, &logger)
		got, err := decorator.FindByID(ctx, nil, "job-3")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.ID != "job-3" {
			t.Errorf("expected job-3, got %+v", got)
		}
	})

	t.Run("FindByID should propagate not found", func(t *testing.T) {
		inner := &mockInnerJobRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
				return nil, domain.ErrNotFound
			},
		}
		decorator := NewJobRepoCacheDecorator(inner, &mockRedisClient{}, time.Minute, &logger)
		if _, err := decorator.FindByID(ctx, nil, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateStatus should invalidate the cache", func(t *testing.T) {
		var deletedKeys []string
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deletedKeys = append(deletedKeys, keys...)
				return nil
			},
		}
		inner := &mockInnerJobRepo{
			UpdateStatusFunc: func(ctx context.Context, u model.StatusUpdate) (*model.Job, error) {
				return &model.Job{ID: u.JobID, Status: u.Status}, nil
			},
		}

		decorator := NewJobRepoCacheDecorator(inner, mockRedis, time.Minute, &logger)
		_, err := decorator.UpdateStatus(ctx, model.StatusUpdate{JobID: "job-4", Status: model.JobStatusStarted})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deletedKeys) != 1 || deletedKeys[0] != "job:job-4" {
			t.Fatalf("expected job:job-4 to be deleted, got %v", deletedKeys)
		}
	})
}
