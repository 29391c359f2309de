package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/julianstephens/wayfare/internal/constants"
	apperrors "github.com/julianstephens/wayfare/internal/errors"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/recommender"
)

var (
	ErrNoRecommender = errors.New("no recommender configured")
	ErrTimeout       = errors.New("recommender timed out")
	ErrStale         = errors.New("engine state changed while the recommender was running")
)

// Recommender produces a recommendation for an event in context.
type Recommender interface {
	Recommend(ctx context.Context, ev models.QueuedEvent, tc models.TripContext) (models.Recommendation, error)
}

type Source string

const (
	SourcePreFilter   Source = "pre_filter"
	SourceFilter      Source = "filter"
	SourceQuick       Source = "quick"
	SourceRecommender Source = "recommender"
	SourceFallback    Source = "fallback"
)

// Result is the outcome of one event. The event carries the actions and
// message to show.
type Result struct {
	Show   bool               `json:"show"`
	Event  models.QueuedEvent `json:"event"`
	Reason string             `json:"reason"`
	Source Source             `json:"source"`
	Tone   models.Tone        `json:"tone,omitempty"`
}

type Config struct {
	Filter         FilterConfig  `yaml:"filter"`
	AmpleBufferMin int           `yaml:"ample_buffer_min"`
	QuickCacheSize int           `yaml:"quick_cache_size"`
	Timeout        time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Filter:         DefaultFilterConfig(),
		AmpleBufferMin: constants.DefaultAmpleBufferMin,
		QuickCacheSize: constants.DefaultQuickCacheSize,
		Timeout:        constants.DefaultRecommenderTimeout,
	}
}

type Pipeline struct {
	agg     *Aggregator
	filter  *Filter
	quick   *QuickRules
	rec     Recommender
	timeout time.Duration
	flight  singleflight.Group

	// OnResult, when set, observes every result.
	OnResult func(Result)
}

// New builds a pipeline. rec may be nil; events then fall back to their
// own actions whenever no quick rule applies.
func New(cfg Config, agg *Aggregator, rec Recommender) (*Pipeline, error) {
	filter, err := NewFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	quick, err := NewQuickRules(cfg.AmpleBufferMin, cfg.QuickCacheSize)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultRecommenderTimeout
	}
	return &Pipeline{agg: agg, filter: filter, quick: quick, rec: rec, timeout: cfg.Timeout}, nil
}

func (p *Pipeline) Filter() *Filter { return p.filter }

// Process decides whether and how to show ev. It never fails: every path,
// including a panic, resolves to a result.
func (p *Pipeline) Process(ctx context.Context, ev models.QueuedEvent, in Input) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pipeline panicked", "event", ev.Type, "panic", r)
			res = p.fallback(ev, "internal error")
		}
		logger.Debug("Event processed", "event", ev.Type, "slot", ev.SlotID, "show", res.Show, "source", res.Source, "reason", res.Reason)
		if p.OnResult != nil {
			p.OnResult(res)
		}
	}()

	if ok, reason := p.filter.PreFilter(ev, p.agg.src.Now()); !ok {
		return Result{Event: ev, Reason: reason, Source: SourcePreFilter}
	}
	tc := p.agg.Build(in)
	if ok, reason := p.filter.Apply(ev, tc); !ok {
		return Result{Event: ev, Reason: reason, Source: SourceFilter}
	}

	if rec, ok := p.quick.Recommend(ev, tc); ok {
		res = p.apply(ev, rec, SourceQuick)
	} else if rec, err := p.generate(ctx, ev, tc); err != nil {
		res = p.fallback(ev, err.Error())
	} else {
		res = p.apply(ev, rec, SourceRecommender)
		if res.Source == SourceRecommender {
			p.quick.Remember(ev, tc, rec)
		}
	}
	if res.Show {
		p.filter.Record(ev, tc.Now)
	}
	return res
}

func (p *Pipeline) apply(ev models.QueuedEvent, rec models.Recommendation, src Source) Result {
	out := ev.Clone()
	if !rec.ShouldShow {
		if ev.Priority != models.PriorityUrgent {
			return Result{Event: out, Reason: rec.ShowReason, Source: src}
		}
		res := p.fallback(ev, "urgent events are always shown")
		res.Source = src
		return res
	}
	if n := len(rec.Actions); n < recommender.MinActions || n > recommender.MaxActions {
		return p.fallback(ev, fmt.Sprintf("recommendation has %d actions", n))
	}
	if rec.Message != "" {
		out.Message = rec.Message
	}
	out.Actions = rec.Actions
	return Result{Show: true, Event: out, Reason: rec.ShowReason, Source: src, Tone: rec.Tone}
}

func (p *Pipeline) fallback(ev models.QueuedEvent, why string) Result {
	out := ev.Clone()
	out.Actions = recommender.Fallback(ev)
	tone := models.ToneInformative
	if ev.Priority == models.PriorityUrgent {
		tone = models.ToneUrgent
	}
	return Result{Show: true, Event: out, Reason: why + "; using fallback actions", Source: SourceFallback, Tone: tone}
}

// generate calls the recommender under the pipeline timeout. Concurrent
// requests for the same event and state version share one call, and an
// answer computed against an older state version is discarded.
func (p *Pipeline) generate(ctx context.Context, ev models.QueuedEvent, tc models.TripContext) (models.Recommendation, error) {
	if p.rec == nil {
		return models.Recommendation{}, ErrNoRecommender
	}
	key := ev.ID + "@" + strconv.FormatUint(tc.StateVersion, 10)
	ch := p.flight.DoChan(key, func() (v interface{}, err error) {
		defer apperrors.Recover(&err, "recommender.Recommend")
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.rec.Recommend(cctx, ev, tc)
	})

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.Err != nil {
			return models.Recommendation{}, fmt.Errorf("recommender failed: %w", r.Err)
		}
		if v := p.agg.src.Version(); v != tc.StateVersion {
			return models.Recommendation{}, ErrStale
		}
		return r.Val.(models.Recommendation), nil
	case <-timer.C:
		return models.Recommendation{}, ErrTimeout
	case <-ctx.Done():
		return models.Recommendation{}, ctx.Err()
	}
}
