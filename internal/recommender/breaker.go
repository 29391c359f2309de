package recommender

import (
	"errors"
	"sync"
	"time"

	"github.com/julianstephens/wayfare/internal/logger"
)

var ErrCircuitOpen = errors.New("recommender circuit is open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops calling the recommender after repeated failures and lets a
// single trial call through once the cooldown has passed.
type Breaker struct {
	failures int
	cooldown time.Duration
	now      func() time.Time

	mu          sync.Mutex
	state       BreakerState
	consecutive int
	openedAt    time.Time
	probing     bool
}

func NewBreaker(failures int, cooldown time.Duration) *Breaker {
	if failures <= 0 {
		failures = 1
	}
	return &Breaker{failures: failures, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		logger.Info("Recommender circuit half-open")
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

// Mark records the outcome of an allowed call.
func (b *Breaker) Mark(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		if b.state != BreakerClosed {
			logger.Info("Recommender circuit closed")
		}
		b.state = BreakerClosed
		b.consecutive = 0
		return
	}

	b.consecutive++
	if b.state == BreakerHalfOpen || b.consecutive >= b.failures {
		if b.state != BreakerOpen {
			logger.Warn("Recommender circuit open", "failures", b.consecutive, "cooldown", b.cooldown)
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
