package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TriggerFunc performs one run. It returns false when the run was skipped
// because another one was still active.
type TriggerFunc func(ctx context.Context) bool

// Scheduler triggers runs at a fixed interval, starting with one run at
// startup. Runs never overlap: a tick that finds a run active is skipped.
type Scheduler struct {
	interval time.Duration
	trigger  TriggerFunc
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewScheduler(interval time.Duration, trigger TriggerFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		interval: interval,
		trigger:  trigger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() {
	if s.interval <= 0 {
		slog.Debug("Scheduler disabled")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("Scheduler started", "interval", s.interval)
		s.tick()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop cancels an in-flight run and waits for the scheduler to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

func (s *Scheduler) tick() {
	if s.ctx.Err() != nil {
		return
	}

	if !s.trigger(s.ctx) {
		slog.Info("Scheduled run skipped, run in progress")
	}
}
