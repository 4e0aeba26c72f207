// Package schedule models an immutable scheduled job definition (spec.md
// §3, §4.3): a cron expression, a Sidekiq-shaped job template, and the
// options that govern how and whether it fires.
package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jrjohn/cronbridge/internal/cronx"
	"github.com/jrjohn/cronbridge/internal/errs"
)

// JobTemplate is the serialized job object a firing produces, at least
// {class, queue?, args?} per spec.md §3.
type JobTemplate struct {
	Class string `json:"class"`
	Queue string `json:"queue,omitempty"`
	Args  []any  `json:"args,omitempty"`
}

// Options are the recognized schedule options from spec.md §3, parsed into
// an explicit record rather than a loosely-typed map (spec.md §9).
type Options struct {
	Enabled         bool
	IncludeMetadata bool
	TZOffset        time.Duration
	Queue           string
}

// DefaultOptions returns the documented defaults: enabled, no metadata, UTC,
// no queue override.
func DefaultOptions() Options {
	return Options{Enabled: true}
}

// Schedule is an immutable scheduled job definition.
type Schedule struct {
	Name        string
	Description string
	Cron        string
	JobTemplate JobTemplate
	Options     Options
}

// New validates and constructs a Schedule. The cron expression is validated
// eagerly so a malformed schedule never reaches the storage layer.
func New(name, description, cronExpr string, tmpl JobTemplate, opts Options) (*Schedule, error) {
	if name == "" {
		return nil, errs.New(errs.ConfigInvalid, "schedule.New", fmt.Errorf("schedule name is required"))
	}
	if cronExpr == "" {
		return nil, errs.New(errs.ConfigInvalid, "schedule.New", fmt.Errorf("cron expression is required for %q", name))
	}
	if tmpl.Class == "" {
		return nil, errs.New(errs.ConfigInvalid, "schedule.New", fmt.Errorf("job class is required for %q", name))
	}
	if _, err := cronx.New().Parse(cronExpr); err != nil {
		return nil, errs.New(errs.ConfigInvalid, "schedule.New", fmt.Errorf("schedule %q: %w", name, err))
	}
	if tmpl.Queue == "" {
		tmpl.Queue = "default"
	}
	if opts.Queue != "" {
		tmpl.Queue = opts.Queue
	}

	return &Schedule{
		Name:        name,
		Description: description,
		Cron:        cronExpr,
		JobTemplate: tmpl,
		Options:     opts,
	}, nil
}

// ScheduledJob is one materialized firing: the wire job and the instant it
// fired at.
type ScheduledJob struct {
	Job        WireJob
	FiringTime time.Time
}

// WireJob is the Sidekiq-shaped job payload written to the queue (spec.md
// §6).
type WireJob struct {
	Class      string `json:"class"`
	Args       []any  `json:"args"`
	Queue      string `json:"queue"`
	JID        string `json:"jid"`
	Retry      bool   `json:"retry"`
	EnqueuedAt float64 `json:"enqueued_at"`
}

// TimeRange is a half-open instant window [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// GetJobs computes every firing of s within window via ev, ascending by
// firing time, applying IncludeMetadata to each.
func (s *Schedule) GetJobs(ev *cronx.Evaluator, window TimeRange) ([]ScheduledJob, error) {
	firings, err := ev.FiringsWithin(s.Cron, s.Options.TZOffset, window.Start, window.End)
	if err != nil {
		return nil, errs.New(errs.ConfigInvalid, "Schedule.GetJobs", err)
	}

	jobs := make([]ScheduledJob, 0, len(firings))
	for _, firing := range firings {
		args := append([]any{}, s.JobTemplate.Args...)
		if s.Options.IncludeMetadata {
			local := firing.Add(s.Options.TZOffset)
			args = append(args, map[string]string{
				"scheduled_at": local.Format(time.RFC3339),
			})
		}

		jobs = append(jobs, ScheduledJob{
			Job: WireJob{
				Class:      s.JobTemplate.Class,
				Args:       args,
				Queue:      s.JobTemplate.Queue,
				JID:        uuid.New().String(),
				Retry:      true,
				EnqueuedAt: float64(firing.UnixNano()) / 1e9,
			},
			FiringTime: firing,
		})
	}
	return jobs, nil
}
