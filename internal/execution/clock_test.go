package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockMultiplier(t *testing.T) {
	real := &fakeClock{t: time.Unix(0, 0)}
	c := NewClock(nine, 60, real.Now)

	real.Add(time.Minute)
	assert.Equal(t, nine.Add(time.Hour), c.Now())

	require.NoError(t, c.SetMultiplier(1))
	real.Add(time.Minute)
	assert.Equal(t, nine.Add(time.Hour+time.Minute), c.Now(), "new multiplier only affects the future")

	assert.ErrorIs(t, c.SetMultiplier(0), ErrInvalidMultiplier)
	assert.ErrorIs(t, c.SetMultiplier(-2), ErrInvalidMultiplier)
}

func TestClockMonotonic(t *testing.T) {
	real := &fakeClock{t: time.Unix(1000, 0)}
	c := NewClock(nine, 1, real.Now)

	real.Add(10 * time.Minute)
	seen := c.Now()

	// wall clock jumps backwards
	real.Add(-time.Hour)
	assert.False(t, c.Now().Before(seen))

	c.Pause()
	paused := c.Now()
	real.Add(2 * time.Hour)
	assert.Equal(t, paused, c.Now())
	c.Resume()
	assert.Equal(t, paused, c.Now(), "resume continues from the frozen value")
}

func TestClockAdvance(t *testing.T) {
	real := &fakeClock{t: time.Unix(0, 0)}
	c := NewClock(nine, 1, real.Now)
	c.Pause()

	assert.Equal(t, nine.Add(30*time.Minute), c.Advance(30*time.Minute))
	assert.Equal(t, nine.Add(30*time.Minute), c.Advance(-time.Hour), "negative advance is ignored")
	assert.True(t, c.Paused())
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)

	b.Publish(Notice{Kind: NoticeState, Message: "one"})
	b.Publish(Notice{Kind: NoticeState, Message: "two"})
	assert.Equal(t, uint64(1), b.Dropped())
	assert.Equal(t, "one", (<-ch).Message)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel() // idempotent

	b.Close()
	late, _ := b.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
