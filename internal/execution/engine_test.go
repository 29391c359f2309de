package execution

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/wayfare/internal/geo"
	"github.com/julianstephens/wayfare/internal/lifecycle"
	"github.com/julianstephens/wayfare/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

var (
	venueA = models.Coordinates{Lat: 34.9671, Lng: 135.7727}
	venueB = north(venueA, 1000)
	venueC = north(venueA, 2000)
	nine   = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

func north(c models.Coordinates, metres float64) models.Coordinates {
	return models.Coordinates{Lat: c.Lat + metres/(geo.EarthRadiusM*math.Pi/180), Lng: c.Lng}
}

func slotAt(id string, typ models.SlotType, start, end string, at models.Coordinates) models.Slot {
	return models.Slot{
		ID: id, Type: typ, Start: start, End: end,
		Behavior: models.BehaviorFlex, Rigidity: 0.4,
		Options: []models.ActivityOption{{ID: id + "-opt", Name: "Venue " + id, Venue: models.Venue{
			Type: models.VenueMuseum, Location: at,
		}}},
	}
}

func testItinerary() *models.Itinerary {
	return &models.Itinerary{
		TripID:  "kyoto",
		Version: 1,
		Days: []models.Day{
			{Index: 0, Date: "2026-04-01", Slots: []models.Slot{
				slotAt("a", models.SlotMorning, "09:00", "10:00", venueA),
				slotAt("b", models.SlotLunch, "11:00", "12:00", venueB),
				slotAt("c", models.SlotAfternoon, "13:00", "15:00", venueC),
			}},
			{Index: 1, Date: "2026-04-02", Slots: []models.Slot{
				slotAt("d", models.SlotMorning, "09:00", "10:00", venueA),
			}},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	real := &fakeClock{t: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.RealNow = real.Now
	cfg.Geofence = geo.Options{DwellAfter: 5 * time.Minute}
	e := New(cfg)
	_, err := e.StartAt("kyoto", testItinerary(), 0, nine)
	require.NoError(t, err)
	return e, real
}

func states(e *Engine) map[string]models.ActivityState {
	return e.Snapshot().SlotStates
}

func TestStart(t *testing.T) {
	e, _ := newTestEngine(t)
	st := e.Snapshot()

	assert.True(t, st.Running)
	assert.Equal(t, "a", st.FocusSlotID)
	assert.Equal(t, map[string]models.ActivityState{
		"a": models.StatePending,
		"b": models.StateUpcoming,
		"c": models.StateUpcoming,
	}, st.SlotStates)
	assert.Equal(t, nine, st.Now)
}

func TestStartDayOutOfRange(t *testing.T) {
	e := New(DefaultConfig())
	_, err := e.StartAt("kyoto", testItinerary(), 5, nine)
	assert.ErrorIs(t, err, ErrDayOutOfRange)
	assert.False(t, e.Snapshot().Running)
}

func TestUnknownAndWrongDaySlots(t *testing.T) {
	e, _ := newTestEngine(t)
	before := states(e)

	x, err := e.CheckIn("nope")
	assert.Nil(t, x)
	assert.ErrorIs(t, err, ErrSlotNotInDay)

	x, err = e.Skip("d", "")
	assert.Nil(t, x)
	assert.ErrorIs(t, err, lifecycle.ErrWrongDay)

	assert.Equal(t, before, states(e))
}

func TestCheckInLaterSlotClosesEarlier(t *testing.T) {
	e, real := newTestEngine(t)

	_, err := e.CheckIn("a")
	require.NoError(t, err)
	real.Add(2 * time.Hour)

	x, err := e.CheckIn("c")
	require.NoError(t, err)
	assert.Equal(t, models.StateInProgress, x.State)

	got := states(e)
	assert.Equal(t, models.StateCompleted, got["a"], "started slot completes")
	assert.Equal(t, models.StateSkipped, got["b"], "unstarted slot is skipped")
	assert.Equal(t, "c", e.Snapshot().FocusSlotID)
}

func TestCheckOutAdvancesFocus(t *testing.T) {
	e, real := newTestEngine(t)
	rating := 5

	_, err := e.CheckIn("a")
	require.NoError(t, err)
	real.Add(40 * time.Minute)

	x, err := e.CheckOut("a", &rating, "great")
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, x.State)
	assert.Equal(t, 20, x.ShortenedMin)
	require.NotNil(t, x.Rating)
	assert.Equal(t, 5, *x.Rating)

	st := e.Snapshot()
	assert.Equal(t, "b", st.FocusSlotID)
	assert.Equal(t, models.StateUpcoming, st.SlotStates["b"], "b is still outside its lead time")
	assert.Equal(t, 1, st.CompletedCount)

	bad := 9
	_, err = e.CheckOut("b", &bad, "")
	assert.ErrorIs(t, err, ErrInvalidRating)
}

func TestSkipRaceFirstWriterWins(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Skip("a", "closed today")
	require.NoError(t, err)

	x, err := e.CheckIn("a")
	assert.Nil(t, x)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	got, _ := e.Execution("a")
	assert.Equal(t, models.StateSkipped, got.State)
	assert.Equal(t, "closed today", got.Reason)
}

func TestExtendShiftsLaterSlotsAndAccumulatesDelay(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CheckIn("a")
	require.NoError(t, err)

	bBefore, _ := e.Execution("b")

	x, err := e.Extend("a", 20)
	require.NoError(t, err)
	assert.Equal(t, models.StateExtended, x.State)
	assert.Equal(t, 20, x.ExtendedMin)

	x, err = e.Extend("a", 10)
	require.NoError(t, err)
	assert.Equal(t, models.StateInProgress, x.State, "further extension returns to in_progress")

	bAfter, _ := e.Execution("b")
	assert.Equal(t, 30*time.Minute, bAfter.ScheduledStart.Sub(bBefore.ScheduledStart))
	assert.Equal(t, 30, e.Snapshot().AccumulatedDelayMin)

	_, err = e.Extend("b", 10)
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)
	_, err = e.Extend("a", 0)
	assert.ErrorIs(t, err, ErrInvalidExtension)
}

func TestAtMostOneActiveSlot(t *testing.T) {
	e, real := newTestEngine(t)
	steps := []func(){
		func() { _, _ = e.CheckIn("a") },
		func() { _, _ = e.Extend("a", 15) },
		func() { real.Add(90 * time.Minute); _, _ = e.Tick() },
		func() { _, _ = e.CheckOut("a", nil, "") },
		func() { real.Add(40 * time.Minute); _, _ = e.Tick() },
		func() { _, _ = e.Skip("b", "") },
		func() { _, _ = e.CheckIn("c") },
	}
	for i, step := range steps {
		step()
		active := 0
		for _, s := range states(e) {
			if s.IsActive() {
				active++
			}
		}
		assert.LessOrEqual(t, active, 1, "step %d", i)
	}
}

func TestTickTurnsFocusPendingInsideLeadTime(t *testing.T) {
	e, real := newTestEngine(t)
	_, err := e.CheckOut("a", nil, "")
	require.NoError(t, err)

	trs, err := e.Tick()
	require.NoError(t, err)
	assert.Empty(t, trs)

	real.Add(91 * time.Minute) // 10:31, b starts at 11:00
	trs, err = e.Tick()
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, models.Transition{
		SlotID: "b", DayIndex: 0, From: models.StateUpcoming, To: models.StatePending,
		Trigger: models.TriggerTimeThreshold, At: nine.Add(91 * time.Minute),
	}, trs[0])
}

func TestGeofenceDrivenDay(t *testing.T) {
	e, real := newTestEngine(t)

	events, err := e.UpdateLocation(venueA)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.StateArrived, states(e)["a"])

	real.Add(6 * time.Minute)
	_, err = e.UpdateLocation(venueA)
	require.NoError(t, err)
	assert.Equal(t, models.StateInProgress, states(e)["a"], "dwell starts the activity")

	// Walking straight to b's venue: left a (+35) and arrived at next (+40).
	events, err = e.UpdateLocation(venueB)
	require.NoError(t, err)
	require.Len(t, events, 2)

	st := e.Snapshot()
	assert.Equal(t, models.StateCompleted, st.SlotStates["a"])
	assert.Equal(t, models.StateArrived, st.SlotStates["b"])
	assert.Equal(t, "b", st.FocusSlotID)
}

func TestLeavingArrivedVenueReturnsToPending(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.UpdateLocation(venueA)
	require.NoError(t, err)
	_, err = e.UpdateLocation(north(venueA, -800))
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, states(e)["a"])
}

func TestAskUserPublishesConfirmCompletion(t *testing.T) {
	e, real := newTestEngine(t)
	notices, cancel := e.Subscribe(32)
	defer cancel()

	_, err := e.CheckIn("a")
	require.NoError(t, err)
	real.Add(61 * time.Minute)

	// past end (+15), dwell (+20), payment (+25) = 60
	res, err := e.Report("a", Evidence{Payment: true})
	require.NoError(t, err)
	assert.Equal(t, 60, res.Score)
	assert.Equal(t, models.StateInProgress, states(e)["a"])

	var prompt *models.QueuedEvent
	for len(notices) > 0 {
		n := <-notices
		if n.Kind == NoticeEvent {
			prompt = n.Event
		}
	}
	require.NotNil(t, prompt)
	assert.Equal(t, models.EventConfirmCompletion, prompt.Type)
	assert.Equal(t, "a", prompt.SlotID)
	assert.Len(t, prompt.Actions, 3)

	// leaving tips it over the auto-complete threshold
	res, err = e.Report("a", Evidence{Leaving: true})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, models.StateCompleted, states(e)["a"])
}

func TestTransitionsArePublished(t *testing.T) {
	real := &fakeClock{t: nine}
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.RealNow = real.Now
	e := New(cfg)
	notices, cancel := e.Subscribe(16)
	defer cancel()

	_, err := e.StartAt("kyoto", testItinerary(), 0, nine)
	require.NoError(t, err)
	_, err = e.CheckIn("a")
	require.NoError(t, err)

	var got []models.Transition
	for len(notices) > 0 {
		if n := <-notices; n.Kind == NoticeTransition {
			got = append(got, *n.Transition)
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, models.TriggerFocus, got[0].Trigger)
	assert.Equal(t, models.StatePending, got[1].From)
	assert.Equal(t, models.StateInProgress, got[1].To)
}

func TestPauseFreezesClock(t *testing.T) {
	e, real := newTestEngine(t)
	real.Add(10 * time.Minute)
	require.NoError(t, e.Pause("lunch break"))
	frozen := e.Now()

	real.Add(time.Hour)
	assert.Equal(t, frozen, e.Now())
	assert.Equal(t, "lunch break", e.Snapshot().PauseReason)

	require.NoError(t, e.Resume())
	real.Add(5 * time.Minute)
	assert.Equal(t, frozen.Add(5*time.Minute), e.Now())
}

func TestVersionIncreases(t *testing.T) {
	e, _ := newTestEngine(t)
	v := e.Version()
	_, err := e.CheckIn("a")
	require.NoError(t, err)
	assert.Greater(t, e.Version(), v)
}

func TestRecordRestore(t *testing.T) {
	e, real := newTestEngine(t)
	_, err := e.CheckIn("a")
	require.NoError(t, err)
	_, err = e.Extend("a", 15)
	require.NoError(t, err)
	_, err = e.UpdateLocation(venueA)
	require.NoError(t, err)
	real.Add(20 * time.Minute)

	rec, err := e.Record()
	require.NoError(t, err)
	assert.Equal(t, "kyoto", rec.TripID)
	assert.Equal(t, 15, rec.AccumulatedDelayMin)
	assert.Len(t, rec.Executions, 3)

	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.RealNow = real.Now
	restored := New(cfg)
	require.NoError(t, restored.Restore(rec, testItinerary()))

	got := restored.Snapshot()
	want := e.Snapshot()
	assert.Equal(t, want.SlotStates, got.SlotStates)
	assert.Equal(t, want.FocusSlotID, got.FocusSlotID)
	assert.Equal(t, want.AccumulatedDelayMin, got.AccumulatedDelayMin)
	assert.Equal(t, rec.SimulatedTime, got.Now)

	x, err := restored.Execution("a")
	require.NoError(t, err)
	assert.Equal(t, 15, x.ExtendedMin)

	// the restored fence state does not re-emit an enter for the venue we are in
	events, err := restored.UpdateLocation(venueA)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecordRestoreKeepsLoiterAndDwell(t *testing.T) {
	real := &fakeClock{t: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.RealNow = real.Now
	cfg.Geofence = geo.Options{LoiterDelay: 2 * time.Minute, DwellAfter: 5 * time.Minute}
	e := New(cfg)
	_, err := e.StartAt("kyoto", testItinerary(), 0, nine)
	require.NoError(t, err)

	_, err = e.UpdateLocation(venueA)
	require.NoError(t, err)
	real.Add(3 * time.Minute)
	_, err = e.UpdateLocation(venueA)
	require.NoError(t, err)
	require.Equal(t, models.StateArrived, states(e)["a"])

	rec, err := e.Record()
	require.NoError(t, err)
	require.NotNil(t, rec.Geofence)
	assert.Equal(t, nine, rec.Geofence.ActiveSince, "entry counts from when loitering began")

	restored := New(cfg)
	require.NoError(t, restored.Restore(rec, testItinerary()))
	assert.Equal(t, *rec.Geofence, restored.fences.State())

	// six minutes after loitering began the dwell is due on both engines
	real.Add(3 * time.Minute)
	for name, eng := range map[string]*Engine{"original": e, "restored": restored} {
		_, err := eng.UpdateLocation(venueA)
		require.NoError(t, err)
		assert.Equal(t, models.StateInProgress, states(eng)["a"], name)
	}
}

func TestTransitionsOutsideTickAreNotBuffered(t *testing.T) {
	e, real := newTestEngine(t)
	_, err := e.UpdateLocation(venueA)
	require.NoError(t, err)
	_, err = e.CheckIn("a")
	require.NoError(t, err)
	require.NoError(t, e.Pause(""))
	require.NoError(t, e.Resume())
	_, err = e.CheckOut("a", nil, "")
	require.NoError(t, err)
	assert.Empty(t, e.batch)

	real.Add(91 * time.Minute)
	trs, err := e.Tick()
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, "b", trs[0].SlotID)
	assert.Empty(t, e.batch)
}

func TestStoppedEngineRejectsCalls(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Stop())

	_, err := e.CheckIn("a")
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = e.Tick()
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, e.Stop(), ErrNotStarted)
	assert.False(t, e.Snapshot().Running)
}
