// Package scheduler drives the tick loop of spec §4.6: each tick, every
// enabled schedule is expanded over its miss window and every firing found
// is enqueued through the storage layer's guarded protocol.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jrjohn/cronbridge/internal/clock"
	"github.com/jrjohn/cronbridge/internal/cronx"
	"github.com/jrjohn/cronbridge/internal/metrics"
	"github.com/jrjohn/cronbridge/internal/schedule"
	"github.com/jrjohn/cronbridge/internal/store"
)

// Config holds tick-loop tunables.
type Config struct {
	// TickInterval is how often the loop wakes up and considers every
	// schedule.
	TickInterval time.Duration
	// MissWindow is how far back each tick looks for firings it has not
	// yet seen. A replica that was down or a tick that was skipped relies
	// on this window to replay what it missed.
	MissWindow time.Duration
}

// Scheduler runs the tick loop over a fixed set of schedules loaded at
// bootstrap.
type Scheduler struct {
	clock     clock.Clock
	evaluator *cronx.Evaluator
	store     *store.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
	schedules []*schedule.Schedule
	cfg       Config
}

// New returns a Scheduler over schedules, driven by clk and persisting
// through st.
func New(clk clock.Clock, ev *cronx.Evaluator, st *store.Store, m *metrics.Metrics, logger *zap.Logger, schedules []*schedule.Schedule, cfg Config) *Scheduler {
	return &Scheduler{
		clock:     clk,
		evaluator: ev,
		store:     st,
		metrics:   m,
		logger:    logger,
		schedules: schedules,
		cfg:       cfg,
	}
}

// Run ticks every cfg.TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs a single pass over every schedule.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()
	s.metrics.Ticks.Inc()

	for _, sched := range s.schedules {
		s.tickSchedule(ctx, sched, now)
	}
}

func (s *Scheduler) tickSchedule(ctx context.Context, sched *schedule.Schedule, now time.Time) {
	enabled, err := s.store.IsEnabled(ctx, sched.Name)
	if err != nil {
		s.logger.Error("failed to check schedule enabled state", zap.String("schedule", sched.Name), zap.Error(err))
		s.metrics.StorageErrors.Inc()
		return
	}
	if !enabled {
		s.logger.Debug("schedule disabled, skipping", zap.String("schedule", sched.Name))
		return
	}

	// End is nudged one nanosecond past now so a firing exactly at now is
	// part of this tick's window.
	window := schedule.TimeRange{Start: now.Add(-s.cfg.MissWindow), End: now.Add(time.Nanosecond)}
	jobs, err := sched.GetJobs(s.evaluator, window)
	if err != nil {
		s.logger.Error("failed to expand firings", zap.String("schedule", sched.Name), zap.Error(err))
		return
	}

	for _, job := range jobs {
		acquired, err := s.store.Enqueue(ctx, job)
		if err != nil {
			s.logger.Error("failed to enqueue firing",
				zap.String("schedule", sched.Name),
				zap.Time("firing", job.FiringTime),
				zap.Error(err),
			)
			s.metrics.StorageErrors.Inc()
			continue
		}
		if acquired {
			s.metrics.FiringsEnqueued.Inc()
			s.logger.Info("enqueued firing",
				zap.String("schedule", sched.Name),
				zap.Time("firing", job.FiringTime),
				zap.String("queue", job.Job.Queue),
			)
		} else {
			s.metrics.LockContention.Inc()
			s.logger.Debug("firing already enqueued, skipping",
				zap.String("schedule", sched.Name),
				zap.Time("firing", job.FiringTime),
			)
		}
	}

	if err := s.store.RecordTimes(ctx, s.evaluator, sched, now); err != nil {
		s.logger.Error("failed to record schedule times", zap.String("schedule", sched.Name), zap.Error(err))
		s.metrics.StorageErrors.Inc()
	}
}
