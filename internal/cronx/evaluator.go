// Package cronx evaluates 5-field cron expressions in a fixed UTC offset,
// producing the previous/next/windowed firings the scheduler needs to
// replay missed ticks and enqueue jobs in order.
//
// robfig/cron/v3 only exposes a forward cron.Schedule.Next(t); every
// operation here is built from repeated calls to it. Timezone handling uses
// the fixed-offset-shift trick: to evaluate in an offset off, shift the
// instant by +off, run Next in that shifted frame, then shift the result
// back by -off. That is exact for fixed offsets, which is all spec's
// tz_offset describes — there is no wall-clock/DST synchronization to get
// right here.
package cronx

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field cron expressions (minute hour dom month
// dow), matching spec.md's "5-field cron expression".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// maxLookback bounds the exponential backward search in PreviousFirings so a
// cron expression with no matching minute (if one were ever constructed)
// cannot spin forever.
const maxLookback = 10 * 365 * 24 * time.Hour

// Evaluator evaluates cron expressions. It holds no state and is safe for
// concurrent use.
type Evaluator struct{}

// New returns an Evaluator.
func New() *Evaluator {
	return &Evaluator{}
}

// Parse validates a cron expression, returning errs.ConfigInvalid-flavored
// errors via the caller (this package only returns the parse error itself;
// schedule construction is responsible for classifying it).
func (e *Evaluator) Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// firstAfter returns the first firing of sched strictly after t, in the
// frame shifted by offset.
func firstAfter(sched cron.Schedule, offset time.Duration, t time.Time) time.Time {
	shifted := t.UTC().Add(offset)
	next := sched.Next(shifted)
	return next.Add(-offset)
}

// FiringsWithin returns every firing of cronExpr in the half-open window
// [start, end), ascending. It is the primitive the other two operations are
// built from.
func (e *Evaluator) FiringsWithin(cronExpr string, offset time.Duration, start, end time.Time) ([]time.Time, error) {
	sched, err := e.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	return firingsWithin(sched, offset, start, end), nil
}

func firingsWithin(sched cron.Schedule, offset time.Duration, start, end time.Time) []time.Time {
	var out []time.Time
	cursor := start.Add(-time.Nanosecond) // so a firing exactly at start is not skipped
	for {
		next := firstAfter(sched, offset, cursor)
		if !next.Before(end) {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out
}

// NextFirings returns the n firings of cronExpr strictly after from,
// ascending.
func (e *Evaluator) NextFirings(cronExpr string, offset time.Duration, from time.Time, n int) ([]time.Time, error) {
	sched, err := e.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]time.Time, 0, n)
	cursor := from
	for len(out) < n {
		next := firstAfter(sched, offset, cursor)
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

// PreviousFirings returns the n most recent firings of cronExpr at or before
// from, descending. It widens its lookback window exponentially until it
// has collected n firings (or hits maxLookback), then reuses FiringsWithin
// so the result is consistent with NextFirings by construction.
func (e *Evaluator) PreviousFirings(cronExpr string, offset time.Duration, from time.Time, n int) ([]time.Time, error) {
	sched, err := e.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	end := from.Add(time.Nanosecond) // include a firing exactly at 'from'
	lookback := time.Minute
	var within []time.Time
	for {
		start := from.Add(-lookback)
		within = firingsWithin(sched, offset, start, end)
		if len(within) >= n || lookback >= maxLookback {
			break
		}
		lookback *= 2
	}

	if len(within) > n {
		within = within[len(within)-n:]
	}
	reverse(within)
	return within, nil
}

func reverse(ts []time.Time) {
	for i, j := 0, len(ts)-1; i < j; i, j = i+1, j-1 {
		ts[i], ts[j] = ts[j], ts[i]
	}
}
