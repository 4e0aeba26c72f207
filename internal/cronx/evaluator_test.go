package cronx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestFiringsWithin_EveryMinute(t *testing.T) {
	e := New()
	start := mustTime("2024-01-01T00:00:00Z")
	end := mustTime("2024-01-01T00:03:00Z")

	firings, err := e.FiringsWithin("* * * * *", 0, start, end)
	require.NoError(t, err)
	require.Len(t, firings, 3)
	assert.Equal(t, mustTime("2024-01-01T00:00:00Z"), firings[0])
	assert.Equal(t, mustTime("2024-01-01T00:01:00Z"), firings[1])
	assert.Equal(t, mustTime("2024-01-01T00:02:00Z"), firings[2])
}

func TestFiringsWithin_HalfOpen(t *testing.T) {
	e := New()
	// scenario 1 from spec.md: the window [23:59:30, 00:00:30) holds exactly
	// one firing, 00:00:00; neither bound is itself a firing.
	start := mustTime("2023-12-31T23:59:30Z")
	end := mustTime("2024-01-01T00:00:30Z")

	firings, err := e.FiringsWithin("* * * * *", 0, start, end)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, mustTime("2024-01-01T00:00:00Z"), firings[0])
}

func TestFiringsWithin_MissedReplayWindow(t *testing.T) {
	// scenario 3 from spec.md.
	e := New()
	start := mustTime("2024-01-01T00:00:10Z")
	end := mustTime("2024-01-01T00:05:10Z")

	firings, err := e.FiringsWithin("*/1 * * * *", 0, start, end)
	require.NoError(t, err)
	want := []time.Time{
		mustTime("2024-01-01T00:01:00Z"),
		mustTime("2024-01-01T00:02:00Z"),
		mustTime("2024-01-01T00:03:00Z"),
		mustTime("2024-01-01T00:04:00Z"),
		mustTime("2024-01-01T00:05:00Z"),
	}
	assert.Equal(t, want, firings)
}

func TestNextFirings_ExclusiveOfFrom(t *testing.T) {
	e := New()
	from := mustTime("2024-01-01T00:00:00Z")

	firings, err := e.NextFirings("* * * * *", 0, from, 2)
	require.NoError(t, err)
	require.Len(t, firings, 2)
	assert.Equal(t, mustTime("2024-01-01T00:01:00Z"), firings[0])
	assert.Equal(t, mustTime("2024-01-01T00:02:00Z"), firings[1])
}

func TestPreviousFirings_InclusiveOfFrom(t *testing.T) {
	e := New()
	from := mustTime("2024-01-01T00:01:00Z")

	firings, err := e.PreviousFirings("* * * * *", 0, from, 2)
	require.NoError(t, err)
	require.Len(t, firings, 2)
	assert.Equal(t, mustTime("2024-01-01T00:01:00Z"), firings[0])
	assert.Equal(t, mustTime("2024-01-01T00:00:00Z"), firings[1])
}

func TestPreviousFirings_NotExactlyOnFrom(t *testing.T) {
	e := New()
	from := mustTime("2024-01-01T00:00:30Z")

	firings, err := e.PreviousFirings("* * * * *", 0, from, 1)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, mustTime("2024-01-01T00:00:00Z"), firings[0])
}

func TestPreviousFirings_WidensLookback(t *testing.T) {
	e := New()
	// Monthly cron: the naive 1-minute initial lookback must widen far
	// enough to find the previous firing.
	from := mustTime("2024-03-15T00:00:00Z")

	firings, err := e.PreviousFirings("0 0 1 * *", 0, from, 1)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, mustTime("2024-03-01T00:00:00Z"), firings[0])
}

// P3: firings_within(c, off, a, b) equals the intersection with [a,b) of the
// union of previous_firings and next_firings sequences around an interior
// point.
func TestProperty_FiringsWithinMatchesPreviousAndNextUnion(t *testing.T) {
	e := New()
	a := mustTime("2024-01-01T00:00:00Z")
	b := mustTime("2024-01-01T01:00:00Z")
	mid := mustTime("2024-01-01T00:30:00Z")

	within, err := e.FiringsWithin("*/7 * * * *", 0, a, b)
	require.NoError(t, err)

	prev, err := e.PreviousFirings("*/7 * * * *", 0, mid, 20)
	require.NoError(t, err)
	next, err := e.NextFirings("*/7 * * * *", 0, mid, 20)
	require.NoError(t, err)

	union := map[time.Time]bool{}
	for _, t := range prev {
		union[t] = true
	}
	for _, t := range next {
		union[t] = true
	}

	var filtered []time.Time
	for t := range union {
		if !t.Before(a) && t.Before(b) {
			filtered = append(filtered, t)
		}
	}
	assert.ElementsMatch(t, within, filtered)
}

func TestEquivalentCronExpressionsYieldIdenticalFirings(t *testing.T) {
	e := New()
	start := mustTime("2024-01-01T00:00:00Z")
	end := mustTime("2024-01-01T01:00:00Z")

	a, err := e.FiringsWithin("*/5 * * * *", 0, start, end)
	require.NoError(t, err)
	b, err := e.FiringsWithin("0,5,10,15,20,25,30,35,40,45,50,55 * * * *", 0, start, end)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestFixedOffsetTimezone(t *testing.T) {
	// scenario 6 from spec.md: cron "0 9 * * *" at offset +05:30 fires
	// when UTC wall time is 03:30.
	e := New()
	offset := 5*time.Hour + 30*time.Minute
	start := mustTime("2024-01-01T03:00:00Z")
	end := mustTime("2024-01-01T04:00:00Z")

	firings, err := e.FiringsWithin("0 9 * * *", offset, start, end)
	require.NoError(t, err)
	require.Len(t, firings, 1)
	assert.Equal(t, mustTime("2024-01-01T03:30:00Z"), firings[0])
}

func TestParseInvalidCronExpression(t *testing.T) {
	e := New()
	_, err := e.Parse("not a cron expression")
	assert.Error(t, err)
}
