package usecase

import (
	"context"
	"testing"
	"time"

	"schematic-pipeline/internal/domain/model"

	"github.com/rs/zerolog"
)

func TestMonitorUseCase_CheckStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newMemJobRepo()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	seed := func(id string, status model.JobStatus, age time.Duration) {
		_ = repo.Create(ctx, nil, &model.Job{ID: id, Prompt: "p", Status: status, CreatedAt: now.Add(-age)})
	}
	seed("old-waiting", model.JobStatusWaiting, time.Hour)
	seed("older-waiting", model.JobStatusWaiting, 2*time.Hour)
	seed("fresh-waiting", model.JobStatusWaiting, time.Minute)
	seed("old-started", model.JobStatusStarted, time.Hour)
	seed("old-finished", model.JobStatusFinished, time.Hour)

	logger := zerolog.Nop()
	uc := NewMonitorUseCase(repo, 15*time.Minute, 100, &logger)
	uc.now = func() time.Time { return now }

	n, err := uc.CheckStale(ctx)
	if err != nil {
		t.Fatalf("CheckStale: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 stale jobs, got %d", n)
	}

	// reporting must not change any job
	j, _ := repo.FindByID(ctx, nil, "old-waiting")
	if j.Status != model.JobStatusWaiting {
		t.Errorf("monitor must not modify jobs, got %s", j.Status)
	}
}

func TestMonitorUseCase_RespectsLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newMemJobRepo()
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		_ = repo.Create(ctx, nil, &model.Job{ID: id, Status: model.JobStatusWaiting, CreatedAt: now.Add(-time.Hour)})
	}
	logger := zerolog.Nop()
	uc := NewMonitorUseCase(repo, time.Minute, 2, &logger)

	n, err := uc.CheckStale(ctx)
	if err != nil {
		t.Fatalf("CheckStale: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected limit of 2 to apply, got %d", n)
	}
}
