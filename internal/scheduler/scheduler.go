// Package scheduler triggers digest sweeps on a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper runs one delivery cycle and reports how many emails it delivered.
type Sweeper interface {
	Run(ctx context.Context) (int, error)
}

// Scheduler periodically runs a Sweeper. At most one sweep runs at a time.
type Scheduler struct {
	sweeper Sweeper
	log     *slog.Logger
	tick    time.Duration
	running sync.Mutex
}

// New creates a Scheduler with a 1-minute interval.
func New(sweeper Sweeper, log *slog.Logger) *Scheduler {
	return &Scheduler{
		sweeper: sweeper,
		log:     log,
		tick:    1 * time.Minute,
	}
}

// SetTickInterval overrides the default 1-minute sweep interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run sweeps immediately and then on every tick, blocking until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single sweep. It returns false without sweeping when
// another sweep is still in progress.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.TryLock() {
		s.log.Warn("previous sweep still running, skipping tick")
		return false
	}
	defer s.running.Unlock()

	if ctx.Err() != nil {
		return true
	}

	start := time.Now()
	delivered, err := s.sweeper.Run(ctx)
	if err != nil {
		s.log.Error("sweep", "error", err)
		return true
	}
	if delivered > 0 {
		s.log.Info("delivered emails", "count", delivered, "took", time.Since(start))
	}
	return true
}
