package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/wayfare/internal/execution"
	"github.com/julianstephens/wayfare/internal/models"
)

var base = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return base.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
}

type fakeSource struct {
	mu    sync.Mutex
	st    models.ExecutionState
	it    *models.Itinerary
	execs []models.ActivityExecution
}

func (f *fakeSource) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.Now
}

func (f *fakeSource) Version() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.Version
}

func (f *fakeSource) Snapshot() models.ExecutionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeSource) Itinerary() *models.Itinerary { return f.it }

func (f *fakeSource) Executions() []models.ActivityExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ActivityExecution(nil), f.execs...)
}

func (f *fakeSource) set(now string) {
	f.mu.Lock()
	f.st.Now = at(now)
	f.mu.Unlock()
}

func (f *fakeSource) bump() {
	f.mu.Lock()
	f.st.Version++
	f.mu.Unlock()
}

func (f *fakeSource) state(slotID string, s models.ActivityState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.execs {
		if f.execs[i].SlotID == slotID {
			f.execs[i].State = s
		}
	}
}

func named(id string, typ models.SlotType, start, end, name string) models.Slot {
	return models.Slot{ID: id, Type: typ, Start: start, End: end, Behavior: models.BehaviorFlex,
		Options: []models.ActivityOption{{ID: "o-" + id, Name: name, Venue: models.Venue{Name: name, Type: models.VenueTemple}}}}
}

// osaka: m1 09:00-11:00 in progress at 10:30, l1 12:00-13:00 with a 15 min
// commute, d1 dinner booked for 18:00.
func osaka() *fakeSource {
	l1 := named("l1", models.SlotLunch, "12:00", "13:00", "Kani Doraku")
	l1.CommuteMin = 15
	d1 := named("d1", models.SlotDinner, "18:00", "19:30", "Mizuno")
	d1.Fragility = &models.Fragility{BookingRequired: true, BookingTime: "18:00"}
	day := models.Day{Index: 0, City: "Osaka", Slots: []models.Slot{
		named("m1", models.SlotMorning, "09:00", "11:00", "Osaka Castle"), l1, d1,
	}}
	exec := func(s models.Slot, st models.ActivityState) models.ActivityExecution {
		return models.ActivityExecution{SlotID: s.ID, State: st, ScheduledStart: at(s.Start), ScheduledEnd: at(s.End)}
	}
	return &fakeSource{
		st: models.ExecutionState{TripID: "osaka", Running: true, Now: at("10:30"), Version: 7},
		it: &models.Itinerary{TripID: "osaka", Version: 1, Days: []models.Day{day}},
		execs: []models.ActivityExecution{
			exec(day.Slots[0], models.StateInProgress),
			exec(day.Slots[1], models.StateUpcoming),
			exec(day.Slots[2], models.StateUpcoming),
		},
	}
}

type stubRecommender struct {
	calls atomic.Int32
	fn    func(ctx context.Context, ev models.QueuedEvent, tc models.TripContext) (models.Recommendation, error)
}

func (s *stubRecommender) Recommend(ctx context.Context, ev models.QueuedEvent, tc models.TripContext) (models.Recommendation, error) {
	s.calls.Add(1)
	return s.fn(ctx, ev, tc)
}

func answer(msg string) models.Recommendation {
	return models.Recommendation{
		ShouldShow: true,
		ShowReason: "worth knowing",
		Message:    msg,
		Tone:       models.ToneFriendly,
		Actions: []models.ResponseAction{
			models.NewAction(models.ActionNavigate, "Go", "l1"),
			models.NewAction(models.ActionDismiss, "Dismiss", "l1"),
		},
	}
}

func newPipeline(t *testing.T, src *fakeSource, rec Recommender, mutate ...func(*Config)) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Filter.MinGap = 0
	cfg.Timeout = 200 * time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg, NewAggregator(src, nil, time.UTC), rec)
	require.NoError(t, err)
	return p
}

func event(t models.EventType, p models.Priority, msg string, src *fakeSource) models.QueuedEvent {
	ev := models.NewEvent(t, p, msg, src.Now())
	ev.SlotID = "l1"
	return ev
}

func TestAggregatorBuild(t *testing.T) {
	src := osaka()
	tc := NewAggregator(src, nil, time.UTC).Build(Input{TransitDelayMin: 10, Weather: "rain"})

	require.NotNil(t, tc.Current)
	require.NotNil(t, tc.Next)
	assert.Equal(t, "m1", tc.Current.SlotID)
	assert.Equal(t, "Osaka Castle", tc.Current.Name)
	assert.Equal(t, 30, tc.Current.MinutesRemaining)
	assert.Equal(t, "l1", tc.Next.SlotID)
	assert.Equal(t, 90, tc.MinutesUntilNext)
	assert.Equal(t, 15, tc.CommuteMin)
	assert.Equal(t, 90-30-15-10, tc.BufferMin)
	assert.Equal(t, 3, tc.RemainingCount)
	assert.Equal(t, "10:30", tc.LocalTime)
	assert.Equal(t, "UTC", tc.Timezone)
	assert.Equal(t, "rain", tc.Weather)
	assert.Equal(t, uint64(7), tc.StateVersion)
	assert.Empty(t, tc.BookingsAtRisk)
}

func TestAggregatorBookingsAtRisk(t *testing.T) {
	src := osaka()
	src.execs[2].ScheduledStart = at("18:25")
	tc := NewAggregator(src, nil, time.UTC).Build(Input{})
	assert.Equal(t, []string{"d1"}, tc.BookingsAtRisk)

	// the next slot is booked and cannot be reached in time
	src = osaka()
	src.state("l1", models.StateSkipped)
	src.set("17:50")
	src.execs[0].ScheduledEnd = at("17:55")
	src.it.Days[0].Slots[2].CommuteMin = 20
	tc = NewAggregator(src, nil, time.UTC).Build(Input{})
	require.NotNil(t, tc.Next)
	assert.Equal(t, "d1", tc.Next.SlotID)
	assert.True(t, tc.Next.Booked)
	assert.Negative(t, tc.BufferMin)
	assert.Equal(t, []string{"d1"}, tc.BookingsAtRisk)
}

func TestAggregatorNotRunning(t *testing.T) {
	src := osaka()
	src.st.Running = false
	tc := NewAggregator(src, nil, time.UTC).Build(Input{})
	assert.Nil(t, tc.Current)
	assert.Nil(t, tc.Next)
	assert.Equal(t, "osaka", tc.TripID)
}

type fixedZone struct{ loc *time.Location }

func (z fixedZone) Resolve(models.Coordinates) (*time.Location, bool) { return z.loc, true }

func TestAggregatorUsesLocationZone(t *testing.T) {
	src := osaka()
	src.st.Location = &models.Coordinates{Lat: 34.68, Lng: 135.52}
	tc := NewAggregator(src, fixedZone{time.FixedZone("JST", 9*3600)}, time.UTC).Build(Input{})
	assert.Equal(t, "19:30", tc.LocalTime)
	assert.Equal(t, "JST", tc.Timezone)
}

func TestQuietHoursLetUrgentThrough(t *testing.T) {
	src := osaka()
	src.set("23:15")
	p := newPipeline(t, src, nil)

	res := p.Process(context.Background(), event(models.EventGeneral, models.PriorityNormal, "Tomorrow looks sunny", src), Input{})
	assert.False(t, res.Show)
	assert.Equal(t, SourceFilter, res.Source)
	assert.Contains(t, res.Reason, "quiet hours")

	res = p.Process(context.Background(), event(models.EventVenueClosure, models.PriorityUrgent, "Mizuno closed tonight", src), Input{})
	assert.True(t, res.Show)
	assert.Equal(t, models.ToneUrgent, res.Tone)
}

func TestAmpleBufferSuppressesEndingReminder(t *testing.T) {
	src := osaka()
	rec := &stubRecommender{fn: func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error) {
		return answer("unused"), nil
	}}
	p := newPipeline(t, src, rec)

	res := p.Process(context.Background(), event(models.EventActivityEnding, models.PriorityNormal, "Ending soon: Osaka Castle", src), Input{})
	assert.False(t, res.Show)
	assert.Equal(t, SourceQuick, res.Source)
	assert.Equal(t, "ample time and no booking at risk", res.Reason)
	assert.Zero(t, rec.calls.Load())
}

func TestGenerativeAnswerIsCachedByShape(t *testing.T) {
	src := osaka()
	rec := &stubRecommender{fn: func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error) {
		return answer("Grab an umbrella on the way"), nil
	}}
	p := newPipeline(t, src, rec)

	res := p.Process(context.Background(), event(models.EventWeatherAlert, models.PriorityNormal, "Rain from 12:00", src), Input{})
	require.True(t, res.Show)
	assert.Equal(t, SourceRecommender, res.Source)
	assert.Equal(t, "Grab an umbrella on the way", res.Event.Message)
	assert.Len(t, res.Event.Actions, 2)

	res = p.Process(context.Background(), event(models.EventWeatherAlert, models.PriorityNormal, "Rain from 15:00", src), Input{})
	require.True(t, res.Show)
	assert.Equal(t, SourceQuick, res.Source)
	assert.Equal(t, "Rain from 15:00", res.Event.Message)
	assert.Equal(t, int32(1), rec.calls.Load())
}

func TestTimeoutFallsBack(t *testing.T) {
	src := osaka()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	rec := &stubRecommender{fn: func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error) {
		<-release
		return answer("too late"), nil
	}}
	p := newPipeline(t, src, rec, func(c *Config) { c.Timeout = 20 * time.Millisecond })

	ev := event(models.EventTransitDelay, models.PriorityHigh, "Hankyu line delayed 20 min", src)
	ev.Actions = []models.ResponseAction{
		models.NewAction(models.ActionReschedule, "Reschedule", "l1"),
		models.NewAction(models.ActionNavigate, "Other Route", "l1"),
	}
	start := time.Now()
	res := p.Process(context.Background(), ev, Input{})
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.Show)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Contains(t, res.Reason, "fallback")
	assert.Contains(t, res.Reason, ErrTimeout.Error())
	assert.Equal(t, models.ActionReschedule, res.Event.Actions[0].Type)
}

func TestStaleAnswerIsDiscarded(t *testing.T) {
	src := osaka()
	rec := &stubRecommender{fn: func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error) {
		src.bump()
		return answer("stale"), nil
	}}
	p := newPipeline(t, src, rec)

	res := p.Process(context.Background(), event(models.EventGeneral, models.PriorityNormal, "Lunch reminder", src), Input{})
	assert.True(t, res.Show)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Contains(t, res.Reason, ErrStale.Error())
	assert.Equal(t, "Lunch reminder", res.Event.Message)
	require.Len(t, res.Event.Actions, 2)
	assert.Equal(t, models.ActionConfirm, res.Event.Actions[0].Type)
}

func TestTooFewActionsFallsBack(t *testing.T) {
	src := osaka()
	rec := &stubRecommender{fn: func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error) {
		a := answer("Only one choice")
		a.Actions = a.Actions[:1]
		return a, nil
	}}
	p := newPipeline(t, src, rec)

	res := p.Process(context.Background(), event(models.EventWeatherAlert, models.PriorityNormal, "Rain from 12:00", src), Input{})
	require.True(t, res.Show)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Contains(t, res.Reason, "1 actions")
	assert.Equal(t, "Rain from 12:00", res.Event.Message)
	assert.Len(t, res.Event.Actions, 2)

	// a rejected answer is not cached as a quick answer
	res = p.Process(context.Background(), event(models.EventWeatherAlert, models.PriorityNormal, "Rain from 15:00", src), Input{})
	assert.NotEqual(t, SourceQuick, res.Source)
	assert.Equal(t, int32(2), rec.calls.Load())
}

func TestRecommenderFailureAndPanicFallBack(t *testing.T) {
	for name, fn := range map[string]func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error){
		"error": func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error) {
			return models.Recommendation{}, errors.New("boom")
		},
		"panic": func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error) {
			panic("boom")
		},
	} {
		t.Run(name, func(t *testing.T) {
			src := osaka()
			p := newPipeline(t, src, &stubRecommender{fn: fn})
			res := p.Process(context.Background(), event(models.EventGeneral, models.PriorityNormal, "hello", src), Input{})
			assert.True(t, res.Show)
			assert.Equal(t, SourceFallback, res.Source)
		})
	}
}

func TestUrgentAlwaysShown(t *testing.T) {
	src := osaka()
	rec := &stubRecommender{fn: func(context.Context, models.QueuedEvent, models.TripContext) (models.Recommendation, error) {
		return models.Recommendation{ShouldShow: false, ShowReason: "meh"}, nil
	}}
	p := newPipeline(t, src, rec)

	res := p.Process(context.Background(), event(models.EventGeneral, models.PriorityNormal, "minor", src), Input{})
	assert.False(t, res.Show)
	assert.Equal(t, "meh", res.Reason)

	res = p.Process(context.Background(), event(models.EventVenueClosure, models.PriorityUrgent, "Mizuno closed", src), Input{})
	assert.True(t, res.Show)
	assert.NotEmpty(t, res.Event.Actions)
}

func TestPreFilter(t *testing.T) {
	src := osaka()
	var results []Result
	p := newPipeline(t, src, nil)
	p.OnResult = func(r Result) { results = append(results, r) }

	ev := event(models.EventGeneral, models.PriorityNormal, "Lunch at noon", src)
	assert.True(t, p.Process(context.Background(), ev, Input{}).Show)

	dup := event(models.EventGeneral, models.PriorityNormal, "  lunch at NOON ", src)
	res := p.Process(context.Background(), dup, Input{})
	assert.False(t, res.Show)
	assert.Equal(t, SourcePreFilter, res.Source)

	res = p.Process(context.Background(), event(models.EventGeneral, models.PriorityNormal, " ", src), Input{})
	assert.Equal(t, "empty message", res.Reason)

	old := event(models.EventGeneral, models.PriorityNormal, "old news", src)
	old.CreatedAt = src.Now().Add(-time.Hour)
	res = p.Process(context.Background(), old, Input{})
	assert.False(t, res.Show)
	assert.Contains(t, res.Reason, "older than")

	assert.Len(t, results, 4)
}

func TestFilterRateLimits(t *testing.T) {
	cfg := DefaultFilterConfig()
	cfg.QuietStart, cfg.QuietEnd = "", ""
	cfg.MinGap = 2 * time.Minute
	cfg.MaxPerHour = 2
	f, err := NewFilter(cfg)
	require.NoError(t, err)

	ev := models.NewEvent(models.EventGeneral, models.PriorityNormal, "x", base)
	tc := models.TripContext{Now: at("10:00")}
	ok, _ := f.Apply(ev, tc)
	require.True(t, ok)
	f.Record(ev, tc.Now)

	ok, reason := f.Apply(ev, models.TripContext{Now: at("10:01")})
	assert.False(t, ok)
	assert.Contains(t, reason, "since the last notification")

	f.Record(ev, at("10:05"))
	ok, reason = f.Apply(ev, models.TripContext{Now: at("10:10")})
	assert.False(t, ok)
	assert.Contains(t, reason, "hourly limit")

	ok, _ = f.Apply(ev, models.TripContext{Now: at("11:01")})
	assert.True(t, ok)

	urgent := models.NewEvent(models.EventGeneral, models.PriorityUrgent, "x", base)
	ok, _ = f.Apply(urgent, models.TripContext{Now: at("10:06")})
	assert.True(t, ok)
}

func TestFilterBatchesGroups(t *testing.T) {
	cfg := DefaultFilterConfig()
	cfg.MinGap = 0
	f, err := NewFilter(cfg)
	require.NoError(t, err)

	ev := models.NewEvent(models.EventActivityStarting, models.PriorityNormal, "x", base)
	ev.GroupKey = "slot:l1"
	f.Record(ev, at("12:00"))

	ok, reason := f.Apply(ev, models.TripContext{Now: at("12:01")})
	assert.False(t, ok)
	assert.Contains(t, reason, "batched")

	other := ev
	other.GroupKey = "slot:d1"
	ok, _ = f.Apply(other, models.TripContext{Now: at("12:01")})
	assert.True(t, ok)

	ok, _ = f.Apply(ev, models.TripContext{Now: at("12:02")})
	assert.True(t, ok)
}

func TestFilterSetConfig(t *testing.T) {
	f, err := NewFilter(DefaultFilterConfig())
	require.NoError(t, err)

	cfg := DefaultFilterConfig()
	cfg.QuietStart = "25:99"
	assert.Error(t, f.SetConfig(cfg))

	cfg.QuietStart, cfg.QuietEnd = "13:00", "14:00"
	require.NoError(t, f.SetConfig(cfg))
	ok, _ := f.Apply(models.NewEvent(models.EventGeneral, models.PriorityNormal, "x", base), models.TripContext{LocalTime: "13:30"})
	assert.False(t, ok)
	assert.Equal(t, "13:00", f.Config().QuietStart)
}

func TestPollerDeliversShownResults(t *testing.T) {
	src := osaka()
	p := newPipeline(t, src, nil)
	q := NewQueue(2)

	var delivered []Result
	sink := SinkFunc(func(_ context.Context, r Result) error {
		delivered = append(delivered, r)
		return nil
	})
	pl := NewPoller(p, q, sink, time.Millisecond)

	assert.True(t, q.Push(event(models.EventGeneral, models.PriorityNormal, "one", src)))
	assert.True(t, q.Push(event(models.EventGeneral, models.PriorityNormal, "", src)))
	assert.False(t, q.Push(event(models.EventGeneral, models.PriorityNormal, "three", src)))
	assert.Equal(t, uint64(1), q.Dropped())

	results := pl.Drain(context.Background())
	assert.Len(t, results, 2)
	require.Len(t, delivered, 1)
	assert.Equal(t, "one", delivered[0].Event.Message)
	assert.Zero(t, q.Len())
}

func TestForwardEngineEvents(t *testing.T) {
	q := NewQueue(4)
	notices := make(chan execution.Notice, 3)
	ev := models.NewEvent(models.EventConfirmCompletion, models.PriorityNormal, "Done?", base)
	notices <- execution.Notice{Kind: execution.NoticeTransition, Transition: &models.Transition{SlotID: "m1"}}
	notices <- execution.Notice{Kind: execution.NoticeEvent, Event: &ev}
	close(notices)

	Forward(context.Background(), notices, q)
	require.Equal(t, 1, q.Len())
	got := <-q.ch
	assert.Equal(t, ev.ID, got.ID)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	src := osaka()
	pl := NewPoller(newPipeline(t, src, nil), NewQueue(1), nil, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pl.Run(ctx), context.Canceled)
}
