package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"kalshi-edge/internal/api"
	"kalshi-edge/internal/config"
	"kalshi-edge/internal/metrics"
)

// Stage is one named step of a scheduler cycle.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs the fast cycle every FastInterval and the daily cycle once a
// day at DailyHourUTC. Stages run in order; a failing stage is logged and
// counted and the cycle moves on. At most one cycle runs at a time.
type Scheduler struct {
	cfg    config.SchedulerConfig
	fast   []Stage
	daily  []Stage
	mu     sync.Mutex
	emit   func(api.DashboardEvent)
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler creates a scheduler over the given stage lists.
func NewScheduler(cfg config.SchedulerConfig, fast, daily []Stage, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		fast:   fast,
		daily:  daily,
		emit:   func(api.DashboardEvent) {},
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Run blocks until ctx is cancelled. The fast cycle runs once immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FastInterval)
	defer ticker.Stop()

	daily := time.NewTimer(s.untilDaily())
	defer daily.Stop()

	s.logger.Info("scheduler started",
		"fast_interval", s.cfg.FastInterval,
		"daily_hour_utc", s.cfg.DailyHourUTC,
		"next_daily", s.now().Add(s.untilDaily()),
	)
	s.RunFast(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunFast(ctx)
		case <-daily.C:
			s.RunDaily(ctx)
			daily.Reset(s.untilDaily())
		}
	}
}

// RunFast runs the fast cycle. It returns false if another cycle was running.
func (s *Scheduler) RunFast(ctx context.Context) bool {
	return s.runCycle(ctx, "fast", s.fast)
}

// RunDaily runs the daily cycle. It returns false if another cycle was running.
func (s *Scheduler) RunDaily(ctx context.Context) bool {
	return s.runCycle(ctx, "daily", s.daily)
}

func (s *Scheduler) runCycle(ctx context.Context, name string, stages []Stage) bool {
	if !s.mu.TryLock() {
		s.logger.Warn("cycle skipped, previous cycle still running", "cycle", name)
		return false
	}
	defer s.mu.Unlock()

	start := time.Now()
	var failed []string
	for _, st := range stages {
		if ctx.Err() != nil {
			break
		}
		stageStart := time.Now()
		err := st.Run(ctx)
		metrics.ObserveStage(st.Name, stageStart, err)
		if err != nil {
			failed = append(failed, st.Name)
			s.logger.Error("stage failed", "cycle", name, "stage", st.Name, "error", err)
		}
	}

	elapsed := time.Since(start)
	s.logger.Info("cycle complete", "cycle", name, "stages", len(stages), "failed", len(failed), "duration", elapsed)
	s.emit(api.DashboardEvent{
		Type:      api.EventCycle,
		Timestamp: s.now(),
		Data:      api.CycleEvent{Cycle: name, Stages: len(stages), Failed: failed, Duration: elapsed},
	})
	return true
}

func (s *Scheduler) untilDaily() time.Duration {
	now := s.now().UTC()
	return nextDaily(now, s.cfg.DailyHourUTC).Sub(now)
}

// nextDaily returns the first hour:00 UTC strictly after now.
func nextDaily(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
