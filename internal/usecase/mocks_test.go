package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/repository"
)

// memJobRepo is a small in-memory implementation used by unit tests.
type memJobRepo struct {
	mu        sync.RWMutex
	store     map[string]*model.Job
	createErr error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.Job)}
}

func (m *memJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) UpdateStatus(ctx context.Context, u model.StatusUpdate) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[u.JobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := j.Apply(u); err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) ListStaleWaiting(ctx context.Context, olderThan time.Time, limit int) ([]*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Job
	for _, j := range m.store {
		if j.Status == model.JobStatusWaiting && j.CreatedAt.Before(olderThan) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memPublisher records published work items.
type memPublisher struct {
	mu    sync.Mutex
	items []model.WorkItem
	err   error
}

func (p *memPublisher) Publish(ctx context.Context, item model.WorkItem) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
	return nil
}
