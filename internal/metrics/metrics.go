// Package metrics exports Prometheus counters for lifecycle transitions,
// pipeline outcomes and recommender calls.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/execution"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/pipeline"
)

type Metrics struct {
	transitions *prometheus.CounterVec
	results     *prometheus.CounterVec
	recCalls    *prometheus.CounterVec
	recLatency  prometheus.Histogram
}

// New registers wayfare's collectors with reg, or with the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: constants.AppName,
			Name:      "transitions_total",
			Help:      "Activity lifecycle transitions.",
		}, []string{"to", "trigger"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: constants.AppName,
			Name:      "pipeline_results_total",
			Help:      "Events processed by the event pipeline.",
		}, []string{"source", "shown"}),
		recCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: constants.AppName,
			Name:      "recommender_calls_total",
			Help:      "Calls to the action recommender by outcome.",
		}, []string{"outcome"}),
		recLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: constants.AppName,
			Name:      "recommender_duration_seconds",
			Help:      "Latency of action recommender calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		}),
	}
	for _, c := range []prometheus.Collector{m.transitions, m.results, m.recCalls, m.recLatency} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) ObserveTransition(t models.Transition) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(t.To), string(t.Trigger)).Inc()
}

// ObserveResult fits pipeline.Pipeline.OnResult.
func (m *Metrics) ObserveResult(res pipeline.Result) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(string(res.Source), strconv.FormatBool(res.Show)).Inc()
}

// Watch counts transitions from an engine notice stream until ctx is
// cancelled or the stream closes.
func (m *Metrics) Watch(ctx context.Context, notices <-chan execution.Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if n.Kind == execution.NoticeTransition && n.Transition != nil {
				m.ObserveTransition(*n.Transition)
			}
		}
	}
}

type instrumented struct {
	next pipeline.Recommender
	m    *Metrics
}

// Instrument wraps a recommender so every call is counted and timed.
func (m *Metrics) Instrument(r pipeline.Recommender) pipeline.Recommender {
	return &instrumented{next: r, m: m}
}

func (i *instrumented) Recommend(ctx context.Context, ev models.QueuedEvent, tc models.TripContext) (models.Recommendation, error) {
	start := time.Now()
	rec, err := i.next.Recommend(ctx, ev, tc)
	i.m.recLatency.Observe(time.Since(start).Seconds())
	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	i.m.recCalls.WithLabelValues(outcome).Inc()
	return rec, err
}

// Serve exposes g on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("Serving metrics", "addr", addr)

	select {
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
