package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/execution"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
)

// Queue is a bounded FIFO of events waiting for the pipeline. Push never
// blocks; events arriving at a full queue are dropped.
type Queue struct {
	ch      chan models.QueuedEvent
	dropped atomic.Uint64
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = constants.DefaultQueueSize
	}
	return &Queue{ch: make(chan models.QueuedEvent, size)}
}

func (q *Queue) Push(ev models.QueuedEvent) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		logger.Warn("Event queue full, dropping event", "event", ev.Type, "slot", ev.SlotID)
		return false
	}
}

func (q *Queue) Len() int        { return len(q.ch) }
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Sink receives the results that should be shown.
type Sink interface {
	Deliver(ctx context.Context, res Result) error
}

type SinkFunc func(ctx context.Context, res Result) error

func (f SinkFunc) Deliver(ctx context.Context, res Result) error { return f(ctx, res) }

// Poller moves queued events through the pipeline and hands shown results
// to the sink.
type Poller struct {
	pipeline *Pipeline
	queue    *Queue
	sink     Sink
	interval time.Duration

	// Signals, when set, supplies the external signals for each event.
	Signals func() Input
}

func NewPoller(p *Pipeline, q *Queue, sink Sink, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}
	return &Poller{pipeline: p, queue: q, sink: sink, interval: interval}
}

// Drain processes everything currently queued and returns the results.
func (pl *Poller) Drain(ctx context.Context) []Result {
	var out []Result
	for {
		select {
		case ev := <-pl.queue.ch:
			out = append(out, pl.handle(ctx, ev))
		default:
			return out
		}
	}
}

func (pl *Poller) handle(ctx context.Context, ev models.QueuedEvent) Result {
	var in Input
	if pl.Signals != nil {
		in = pl.Signals()
	}
	res := pl.pipeline.Process(ctx, ev, in)
	if res.Show && pl.sink != nil {
		if err := pl.sink.Deliver(ctx, res); err != nil {
			logger.Warn("Failed to deliver notification", "event", ev.Type, "error", err)
		}
	}
	return res
}

// Run drains the queue every interval until ctx is cancelled.
func (pl *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pl.Drain(ctx)
		}
	}
}

// Forward pushes the queued events carried by engine notices onto q until
// ctx is cancelled or the stream closes.
func Forward(ctx context.Context, notices <-chan execution.Notice, q *Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if n.Kind == execution.NoticeEvent && n.Event != nil {
				q.Push(*n.Event)
			}
		}
	}
}
