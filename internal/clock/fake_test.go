package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockAdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	early := c.After(time.Second)
	late := c.After(time.Minute)
	require.Equal(t, 2, c.Waiters())

	c.Advance(2 * time.Second)
	select {
	case got := <-early:
		assert.Equal(t, start.Add(2*time.Second), got)
	default:
		t.Fatal("expected early timer to fire")
	}
	select {
	case <-late:
		t.Fatal("late timer fired too soon")
	default:
	}
	assert.Equal(t, 1, c.Waiters())
}

func TestAutoClockMovesTime(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewAutoClock(start)

	<-c.After(5 * time.Second)
	<-c.After(5 * time.Second)
	assert.Equal(t, start.Add(10*time.Second), c.Now())
}
