package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPool_RunsTasks(t *testing.T) {
	logger := zerolog.Nop()
	p := NewPool(3, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var n int32
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		if err := p.Submit(ctx, func(ctx context.Context) error {
			atomic.AddInt32(&n, 1)
			done <- struct{}{}
			return nil
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	p.Stop()
	if atomic.LoadInt32(&n) != 10 {
		t.Fatalf("expected 10 tasks to run, got %d", n)
	}
}

func TestPool_SubmitBlocksWhenBusy(t *testing.T) {
	logger := zerolog.Nop()
	p := NewPool(1, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	release := make(chan struct{})
	if err := p.Submit(ctx, func(ctx context.Context) error { <-release; return nil }); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	sctx, scancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer scancel()
	err := p.Submit(sctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Submit to block until deadline, got %v", err)
	}

	close(release)
	p.Stop()
}

func TestPool_SubmitAfterStop(t *testing.T) {
	logger := zerolog.Nop()
	p := NewPool(1, &logger)
	p.Start(context.Background())
	p.Stop()
	p.Stop()

	if err := p.Submit(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
	if err := p.Submit(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil task")
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	logger := zerolog.Nop()
	p := NewPool(1, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	_ = p.Submit(ctx, func(ctx context.Context) error { panic("boom") })

	ran := make(chan struct{})
	if err := p.Submit(ctx, func(ctx context.Context) error { close(ran); return nil }); err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	p.Stop()
}
