package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StaleChecker is the minimal interface the scheduler needs from the monitor
// use case.
type StaleChecker interface {
	// CheckStale reports jobs waiting past the pickup horizon and returns how
	// many it found.
	CheckStale(ctx context.Context) (int, error)
}

// Scheduler periodically runs a StaleChecker.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	checker  StaleChecker
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a scheduler that runs checker.CheckStale every
// interval. If interval <= 0 it defaults to 1 minute.
func NewScheduler(interval time.Duration, checker StaleChecker, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		interval: interval,
		timeout:  30 * time.Second,
		checker:  checker,
		log:      &l,
		done:     make(chan struct{}),
	}
}

// Start begins the scheduler loop in a background goroutine. Calling Start
// multiple times has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	s.runOnce()
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("scheduler context cancelled; stopping")
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Scheduler) runOnce() {
	runCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	n, err := s.checker.CheckStale(runCtx)
	if err != nil {
		s.log.Error().Err(err).Msg("stale job check failed")
		return
	}
	if n > 0 {
		s.log.Debug().Int("stale", n).Msg("stale job check done")
	}
}

// Stop cancels the scheduler and waits for the loop to finish. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
	s.log.Info().Msg("scheduler stopped")
}
