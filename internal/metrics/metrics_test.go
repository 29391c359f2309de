package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/wayfare/internal/execution"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/pipeline"
)

func newMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestObserveResult(t *testing.T) {
	m := newMetrics(t)
	m.ObserveResult(pipeline.Result{Show: true, Source: pipeline.SourceFallback})
	m.ObserveResult(pipeline.Result{Show: true, Source: pipeline.SourceFallback})
	m.ObserveResult(pipeline.Result{Source: pipeline.SourceFilter})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.results.WithLabelValues("fallback", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("filter", "false")))
}

func TestWatchCountsTransitions(t *testing.T) {
	m := newMetrics(t)
	notices := make(chan execution.Notice, 3)
	notices <- execution.Notice{Kind: execution.NoticeTransition, Transition: &models.Transition{To: models.StateArrived, Trigger: models.TriggerGeofenceEnter}}
	notices <- execution.Notice{Kind: execution.NoticeState, Message: "day complete"}
	notices <- execution.Notice{Kind: execution.NoticeTransition, Transition: &models.Transition{To: models.StateArrived, Trigger: models.TriggerGeofenceEnter}}
	close(notices)

	m.Watch(context.Background(), notices)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("arrived", "geofence_enter")))
}

type recFunc func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error)

func (f recFunc) Recommend(ctx context.Context, ev models.QueuedEvent, tc models.TripContext) (models.Recommendation, error) {
	return f(ctx, ev, tc)
}

func TestInstrument(t *testing.T) {
	m := newMetrics(t)
	errs := []error{nil, errors.New("boom"), context.DeadlineExceeded}
	i := 0
	r := m.Instrument(recFunc(func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error) {
		err := errs[i]
		i++
		return models.Recommendation{}, err
	}))
	for range errs {
		_, _ = r.Recommend(context.Background(), models.QueuedEvent{}, models.TripContext{})
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recCalls.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recCalls.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recCalls.WithLabelValues("timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.recLatency))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveResult(pipeline.Result{})
	m.ObserveTransition(models.Transition{})
}
