package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemNowIsUTC(t *testing.T) {
	now := System{}.Now()
	assert.Equal(t, time.UTC, now.Location())
}

func TestMockAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(start)
	assert.Equal(t, start, m.Now())

	m.Advance(30 * time.Second)
	assert.Equal(t, start.Add(30*time.Second), m.Now())

	m.Advance(-10 * time.Second)
	assert.Equal(t, start.Add(20*time.Second), m.Now())
}

func TestMockSet(t *testing.T) {
	m := NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	next := time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)
	m.Set(next)
	assert.Equal(t, next, m.Now())
}

func TestMockNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("test", 5*3600)
	local := time.Date(2024, 1, 1, 5, 0, 0, 0, loc)
	m := NewMock(local)
	assert.Equal(t, time.UTC, m.Now().Location())
	assert.True(t, m.Now().Equal(local))
}
