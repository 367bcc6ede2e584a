//go:build !integration

package postgres

import (
	"context"
	"time"

	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/domain/ports/repository"
	red "schematic-pipeline/internal/infra/redis"

	"github.com/go-redis/redis/v8"
)

// mockInnerJobRepo mocks the database repository that the job decorator wraps.
type mockInnerJobRepo struct {
	CreateFunc           func(ctx context.Context, tx repository.Tx, job *model.Job) error
	FindByIDFunc         func(ctx context.Context, tx repository.Tx, id string) (*model.Job, error)
	UpdateStatusFunc     func(ctx context.Context, u model.StatusUpdate) (*model.Job, error)
	ListStaleWaitingFunc func(ctx context.Context, olderThan time.Time, limit int) ([]*model.Job, error)
}

func (m *mockInnerJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	return m.CreateFunc(ctx, tx, job)
}
func (m *mockInnerJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerJobRepo) UpdateStatus(ctx context.Context, u model.StatusUpdate) (*model.Job, error) {
	return m.UpdateStatusFunc(ctx, u)
}
func (m *mockInnerJobRepo) ListStaleWaiting(ctx context.Context, olderThan time.Time, limit int) ([]*model.Job, error) {
	return m.ListStaleWaitingFunc(ctx, olderThan, limit)
}

// mockRedisClient mocks our Redis client wrapper. Unset funcs behave like an
// empty cache.
type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", redis.Nil
	}
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) Close() error                   { return nil }
