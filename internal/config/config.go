// Package config loads the scheduler's configuration through viper, the way
// the teacher's internal/config/config.go does: a file read tolerantly,
// environment overrides on top, and a programmatic default for every field
// before either is applied.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jrjohn/cronbridge/internal/errs"
)

// Config is the scheduler's full configuration, spec §6.
type Config struct {
	StorageOpts StorageOpts               `mapstructure:"storage_opts"`
	ServerOpts  ServerOpts                `mapstructure:"server_opts"`
	Redis       RedisSpec                 `mapstructure:"redis"`
	Schedules   map[string]ScheduleConfig `mapstructure:"schedules"`
}

// StorageOpts names the two Redis key prefixes spec §4.5 and §6 split
// definitions/state from queues/locks across.
type StorageOpts struct {
	// Namespace prefixes schedule definitions and state.
	Namespace string `mapstructure:"namespace"`
	// ExqNamespace prefixes the Sidekiq-compatible queues and the
	// enqueued-jobs lock set.
	ExqNamespace string `mapstructure:"exq_namespace"`
}

// ServerOpts holds the scheduler loop's tunables.
type ServerOpts struct {
	// MissedJobsThresholdMS is the miss window, in milliseconds: how far
	// back each tick looks for firings it has not yet enqueued.
	MissedJobsThresholdMS int64 `mapstructure:"missed_jobs_threshold_duration"`
	// TickIntervalMS is how often the loop wakes up.
	TickIntervalMS int64 `mapstructure:"tick_interval_duration"`
	// TimeZone is the default offset ("+00:00", "+05:30", ...) applied to
	// any schedule that does not name its own.
	TimeZone string `mapstructure:"time_zone"`
}

// MissWindow returns the configured miss window as a time.Duration.
func (s ServerOpts) MissWindow() time.Duration {
	return time.Duration(s.MissedJobsThresholdMS) * time.Millisecond
}

// TickInterval returns the configured tick interval as a time.Duration.
func (s ServerOpts) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMS) * time.Millisecond
}

// RedisSpec describes the connection this module dials.
type RedisSpec struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Name     string        `mapstructure:"name"`
	DB       int           `mapstructure:"db"`
	Password string        `mapstructure:"password"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// Addr returns the host:port pair go-redis expects.
func (r RedisSpec) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ScheduleConfig is one entry of the `schedules` map, spec §6.
type ScheduleConfig struct {
	Description     string `mapstructure:"description"`
	Cron            string `mapstructure:"cron"`
	Class           string `mapstructure:"class"`
	Queue           string `mapstructure:"queue"`
	Args            []any  `mapstructure:"args"`
	IncludeMetadata bool   `mapstructure:"include_metadata"`
	Enabled         *bool  `mapstructure:"enabled"`
	Timezone        string `mapstructure:"timezone"`
}

// IsEnabled returns the configured enabled flag, defaulting true when the
// entry omits it (spec §3: "enabled (bool, default true)").
func (c ScheduleConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// Load reads configuration from (in order of increasing precedence) built-in
// defaults, an optional config file, and CRONBRIDGE_-prefixed environment
// variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/cronbridge/")

	v.SetEnvPrefix("CRONBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errs.New(errs.ConfigInvalid, "config.Load", fmt.Errorf("failed to read config file: %w", err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.New(errs.ConfigInvalid, "config.Load", fmt.Errorf("failed to unmarshal config: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage_opts.namespace", "cronbridge")
	v.SetDefault("storage_opts.exq_namespace", "exq")

	v.SetDefault("server_opts.missed_jobs_threshold_duration", int64(5*time.Minute/time.Millisecond))
	v.SetDefault("server_opts.tick_interval_duration", int64(15*time.Second/time.Millisecond))
	v.SetDefault("server_opts.time_zone", "+00:00")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.backoff", time.Second)
}

// ParseOffset parses a fixed UTC offset of the form "+05:30" or "-08:00"
// into the Duration to add to UTC to reach local time.
func ParseOffset(tz string) (time.Duration, error) {
	if tz == "" {
		return 0, nil
	}

	t, err := time.Parse("-07:00", tz)
	if err != nil {
		return 0, fmt.Errorf("unknown timezone offset %q: %w", tz, err)
	}
	_, offsetSeconds := t.Zone()
	return time.Duration(offsetSeconds) * time.Second, nil
}

// Validate checks required fields (every schedule needs a cron expression and
// a class) and rejects malformed timezone offsets before bootstrap ever
// touches Redis. It does not parse cron expressions; schedule.New rejects a
// malformed one when bootstrap builds the schedules.
func (c *Config) Validate() error {
	if c.StorageOpts.Namespace == "" {
		return errs.New(errs.ConfigInvalid, "Config.Validate", fmt.Errorf("storage_opts.namespace is required"))
	}
	if c.StorageOpts.ExqNamespace == "" {
		return errs.New(errs.ConfigInvalid, "Config.Validate", fmt.Errorf("storage_opts.exq_namespace is required"))
	}
	if c.ServerOpts.MissedJobsThresholdMS <= 0 {
		return errs.New(errs.ConfigInvalid, "Config.Validate", fmt.Errorf("server_opts.missed_jobs_threshold_duration must be positive"))
	}
	if c.ServerOpts.TickIntervalMS <= 0 {
		return errs.New(errs.ConfigInvalid, "Config.Validate", fmt.Errorf("server_opts.tick_interval_duration must be positive"))
	}
	if _, err := ParseOffset(c.ServerOpts.TimeZone); err != nil {
		return errs.New(errs.ConfigInvalid, "Config.Validate", err)
	}

	for name, sc := range c.Schedules {
		if err := sc.validate(name); err != nil {
			return err
		}
	}

	return nil
}

func (c ScheduleConfig) validate(name string) error {
	if c.Cron == "" {
		return errs.New(errs.ConfigInvalid, "ScheduleConfig.validate", fmt.Errorf("schedule %q: cron is required", name))
	}
	if c.Class == "" {
		return errs.New(errs.ConfigInvalid, "ScheduleConfig.validate", fmt.Errorf("schedule %q: class is required", name))
	}
	if _, err := ParseOffset(c.Timezone); err != nil {
		return errs.New(errs.ConfigInvalid, "ScheduleConfig.validate", fmt.Errorf("schedule %q: %w", name, err))
	}
	return nil
}
