package execution

import (
	"errors"
	"sync"
	"time"
)

var ErrInvalidMultiplier = errors.New("time multiplier must be positive")

// Clock is a simulated clock: real elapsed time scaled by a multiplier.
// It never runs backwards. Pausing freezes it and resuming continues from
// the frozen value.
type Clock struct {
	mu         sync.Mutex
	real       func() time.Time
	base       time.Time // simulated time at anchor
	anchor     time.Time // real time at anchor
	multiplier float64
	paused     bool
	last       time.Time
}

// NewClock starts a simulated clock at start. real supplies wall-clock
// time and defaults to time.Now.
func NewClock(start time.Time, multiplier float64, real func() time.Time) *Clock {
	if real == nil {
		real = time.Now
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	return &Clock{
		real:       real,
		base:       start,
		anchor:     real(),
		multiplier: multiplier,
		last:       start,
	}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() time.Time {
	now := c.base
	if !c.paused {
		elapsed := c.real().Sub(c.anchor)
		if elapsed > 0 {
			now = c.base.Add(time.Duration(float64(elapsed) * c.multiplier))
		}
	}
	if now.Before(c.last) {
		now = c.last
	}
	c.last = now
	return now
}

// rebase folds elapsed time into base so a new multiplier or pause state
// only affects the future.
func (c *Clock) rebase() {
	c.base = c.nowLocked()
	c.anchor = c.real()
}

func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.rebase()
	c.paused = true
}

func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.anchor = c.real()
	c.paused = false
}

func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Clock) SetMultiplier(m float64) error {
	if m <= 0 {
		return ErrInvalidMultiplier
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebase()
	c.multiplier = m
	return nil
}

func (c *Clock) Multiplier() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.multiplier
}

// Advance jumps simulated time forward by d, even while paused. Negative
// durations are ignored.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebase()
	if d > 0 {
		c.base = c.base.Add(d)
	}
	return c.nowLocked()
}
