// Package bootstrap wires the scheduler's dependencies together the way
// the teacher's cmd/worker/main.go does: load config, connect to Redis and
// ping it, build every collaborator in dependency order, reconcile
// configured schedules into Redis, and hand back a runnable App.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jrjohn/cronbridge/internal/clock"
	"github.com/jrjohn/cronbridge/internal/config"
	"github.com/jrjohn/cronbridge/internal/cronx"
	"github.com/jrjohn/cronbridge/internal/errs"
	"github.com/jrjohn/cronbridge/internal/metrics"
	"github.com/jrjohn/cronbridge/internal/redisx"
	"github.com/jrjohn/cronbridge/internal/schedule"
	"github.com/jrjohn/cronbridge/internal/scheduler"
	"github.com/jrjohn/cronbridge/internal/store"
)

// App bundles the components cmd/cronbridge needs after bootstrap: the
// scheduler to run, the metrics registry to serve, and the Redis client to
// close on shutdown.
type App struct {
	Scheduler   *scheduler.Scheduler
	Store       *store.Store
	Metrics     *metrics.Metrics
	RedisClient *redis.Client
	Logger      *zap.Logger
}

// Run loads configuration, connects to Redis, reconciles the configured
// schedules into it, and returns a ready-to-run App. Any failure here is
// fatal at startup (spec §7: "Bootstrap failures abort startup").
func Run(ctx context.Context, logger *zap.Logger) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, errs.New(errs.StorageUnavailable, "bootstrap.Run", fmt.Errorf("failed to connect to redis: %w", err))
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr()))

	gateway := redisx.New(redisClient)
	ns := store.Namespaces{Scheduler: cfg.StorageOpts.Namespace, Worker: cfg.StorageOpts.ExqNamespace}
	st := store.New(gateway, ns)
	ev := cronx.New()

	schedules, err := buildSchedules(cfg)
	if err != nil {
		redisClient.Close()
		return nil, err
	}

	for _, s := range schedules {
		if err := st.PersistSchedule(ctx, s); err != nil {
			redisClient.Close()
			return nil, errs.New(errs.StorageUnavailable, "bootstrap.Run", err)
		}
		logger.Info("reconciled schedule", zap.String("schedule", s.Name), zap.String("cron", s.Cron))
	}

	m := metrics.New()
	sched := scheduler.New(clock.System{}, ev, st, m, logger, schedules, scheduler.Config{
		TickInterval: cfg.ServerOpts.TickInterval(),
		MissWindow:   cfg.ServerOpts.MissWindow(),
	})

	return &App{Scheduler: sched, Store: st, Metrics: m, RedisClient: redisClient, Logger: logger}, nil
}

// buildSchedules turns the configured schedule map into validated
// schedule.Schedule values, falling back to server_opts.time_zone when an
// entry names none of its own.
func buildSchedules(cfg *config.Config) ([]*schedule.Schedule, error) {
	defaultOffset, err := config.ParseOffset(cfg.ServerOpts.TimeZone)
	if err != nil {
		return nil, errs.New(errs.ConfigInvalid, "bootstrap.buildSchedules", err)
	}

	schedules := make([]*schedule.Schedule, 0, len(cfg.Schedules))
	for name, sc := range cfg.Schedules {
		offset := defaultOffset
		if sc.Timezone != "" {
			offset, err = config.ParseOffset(sc.Timezone)
			if err != nil {
				return nil, errs.New(errs.ConfigInvalid, "bootstrap.buildSchedules", err)
			}
		}

		opts := schedule.Options{
			Enabled:         sc.IsEnabled(),
			IncludeMetadata: sc.IncludeMetadata,
			TZOffset:        offset,
			Queue:           sc.Queue,
		}
		tmpl := schedule.JobTemplate{Class: sc.Class, Queue: sc.Queue, Args: sc.Args}

		s, err := schedule.New(name, sc.Description, sc.Cron, tmpl, opts)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}
