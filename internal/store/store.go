// Package store implements the Redis key schema and the guarded enqueue
// protocol of spec §4.5: schedule persistence, per-schedule runtime state
// (enabled flag, first/last/prev/next times), and the at-most-once enqueue
// built on internal/redisx's compare-and-set primitive.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/jrjohn/cronbridge/internal/cronx"
	"github.com/jrjohn/cronbridge/internal/errs"
	"github.com/jrjohn/cronbridge/internal/redisx"
	"github.com/jrjohn/cronbridge/internal/schedule"
)

// Namespaces are the two distinct configurable key prefixes spec §3.1 calls
// out: schedule definitions and state share the scheduler namespace; queues
// and the enqueued-jobs lock set share the worker namespace.
type Namespaces struct {
	Scheduler string
	Worker    string
}

func joinKey(prefix string, parts ...string) string {
	segments := make([]string, 0, len(parts)+1)
	if prefix != "" {
		segments = append(segments, prefix)
	}
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, ":")
}

func (ns Namespaces) schedulesKey() string { return joinKey(ns.Scheduler, "schedules") }
func (ns Namespaces) statesKey() string    { return joinKey(ns.Scheduler, "states") }
func (ns Namespaces) lastTimesKey() string { return joinKey(ns.Scheduler, "last_times") }
func (ns Namespaces) nextTimesKey() string { return joinKey(ns.Scheduler, "next_times") }
func (ns Namespaces) firstRunsKey() string { return joinKey(ns.Scheduler, "first_runs") }
func (ns Namespaces) lastRunsKey() string  { return joinKey(ns.Scheduler, "last_runs") }

func (ns Namespaces) queuesKey() string            { return joinKey(ns.Worker, "queues") }
func (ns Namespaces) queueKey(queue string) string  { return joinKey(ns.Worker, "queue", queue) }
func (ns Namespaces) lockKey(encodedJob, firing string) string {
	return joinKey(ns.Worker, "enqueued_jobs", encodedJob, firing)
}

// Store wraps a redisx.Gateway with the scheduler's key schema.
type Store struct {
	gateway *redisx.Gateway
	ns      Namespaces
}

// New returns a Store over gateway using ns as the key namespaces.
func New(gateway *redisx.Gateway, ns Namespaces) *Store {
	return &Store{gateway: gateway, ns: ns}
}

// CircuitState reports the underlying gateway's circuit breaker state, so a
// health endpoint can surface a Redis outage without reaching past the
// store's own abstraction boundary.
func (s *Store) CircuitState() string {
	return s.gateway.CircuitState()
}

// PersistSchedule writes s's definition to the schedules hash and its
// configured enabled flag to the states hash, overwriting both
// unconditionally. This is the reconciliation point at bootstrap: whatever
// config says about enabled wins over whatever a prior SetEnabled call left
// behind. Bootstrap is the only caller; the scheduler loop never mutates
// definitions.
func (s *Store) PersistSchedule(ctx context.Context, sched *schedule.Schedule) error {
	if err := s.gateway.HSetJSON(ctx, s.ns.schedulesKey(), sched.Name, sched); err != nil {
		return err
	}
	return s.gateway.HSetJSON(ctx, s.ns.statesKey(), sched.Name, stateRecord{Enabled: sched.Options.Enabled})
}

// LoadSchedules reads every schedule definition currently in Redis.
func (s *Store) LoadSchedules(ctx context.Context) ([]*schedule.Schedule, error) {
	names, err := s.gateway.HKeys(ctx, s.ns.schedulesKey())
	if err != nil {
		return nil, err
	}

	out := make([]*schedule.Schedule, 0, len(names))
	for _, name := range names {
		var sched schedule.Schedule
		found, err := s.gateway.HGetJSON(ctx, s.ns.schedulesKey(), name, &sched)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		out = append(out, &sched)
	}
	return out, nil
}

// stateRecord is the structured decode target for a schedule's enabled
// state, per spec §9's open question: decode to a record rather than
// indexing a raw JSON blob, and default to enabled on any absence or
// malformed value rather than panicking.
type stateRecord struct {
	Enabled bool `json:"enabled"`
}

// IsEnabled reports whether name is enabled. A schedule with no entry in
// the states hash is enabled by default (P2).
func (s *Store) IsEnabled(ctx context.Context, name string) (bool, error) {
	rec := stateRecord{Enabled: true} // kept when the stored blob has no enabled field
	found, err := s.gateway.HGetJSON(ctx, s.ns.statesKey(), name, &rec)
	if err != nil {
		return true, nil
	}
	if !found {
		return true, nil
	}
	return rec.Enabled, nil
}

// SetEnabled writes name's enabled state explicitly.
func (s *Store) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return s.gateway.HSetJSON(ctx, s.ns.statesKey(), name, stateRecord{Enabled: enabled})
}

// RecordTimes computes one previous and one next firing of sched relative to
// now and records them, alongside first_run (written once) and last_run
// (overwritten every call). Per spec §9, this is informational only and may
// be observed in any order relative to Enqueue — no dedup logic depends on
// it.
func (s *Store) RecordTimes(ctx context.Context, ev *cronx.Evaluator, sched *schedule.Schedule, now time.Time) error {
	prev, err := ev.PreviousFirings(sched.Cron, sched.Options.TZOffset, now, 1)
	if err != nil {
		return errs.New(errs.ConfigInvalid, "Store.RecordTimes", err)
	}
	if len(prev) > 0 {
		if err := s.gateway.HSetJSON(ctx, s.ns.lastTimesKey(), sched.Name, prev[0]); err != nil {
			return err
		}
	}

	next, err := ev.NextFirings(sched.Cron, sched.Options.TZOffset, now, 1)
	if err != nil {
		return errs.New(errs.ConfigInvalid, "Store.RecordTimes", err)
	}
	if len(next) > 0 {
		if err := s.gateway.HSetJSON(ctx, s.ns.nextTimesKey(), sched.Name, next[0]); err != nil {
			return err
		}
	}

	if _, err := s.gateway.HSetIfAbsent(ctx, s.ns.firstRunsKey(), sched.Name, now); err != nil {
		return err
	}

	return s.gateway.HSetJSON(ctx, s.ns.lastRunsKey(), sched.Name, now)
}

// encodeJob produces the content-addressed job component of a lock key. It
// deliberately excludes jid and enqueued_at: those vary per replica and per
// call, and the lock must be the same key regardless of which replica
// computed it for a given (schedule, firing) pair.
func encodeJob(tmpl schedule.JobTemplate) (string, error) {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Enqueue performs the guarded enqueue protocol of spec §4.5: compute the
// content-addressed lock key for (job template, firing instant), then run
// the gateway's cas primitive. It returns whether this call performed the
// write; a false return means the pair was already enqueued by some replica
// or earlier tick — the normal dedup outcome, not an error.
func (s *Store) Enqueue(ctx context.Context, job schedule.ScheduledJob) (bool, error) {
	tmpl := schedule.JobTemplate{
		Class: job.Job.Class,
		Queue: job.Job.Queue,
		Args:  job.Job.Args,
	}
	encoded, err := encodeJob(tmpl)
	if err != nil {
		return false, errs.New(errs.EncodingError, "Store.Enqueue", err)
	}

	payload, err := json.Marshal(job.Job)
	if err != nil {
		return false, errs.New(errs.EncodingError, "Store.Enqueue", err)
	}

	lockKey := s.ns.lockKey(encoded, job.FiringTime.UTC().Format(time.RFC3339Nano))
	return s.gateway.Enqueue(ctx, lockKey, s.ns.queuesKey(), s.ns.queueKey(job.Job.Queue), job.Job.Queue, payload)
}
