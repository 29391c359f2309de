package geo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/wayfare/internal/models"
)

var kyotoStation = models.Coordinates{Lat: 34.9858, Lng: 135.7588}

// north moves c due north by the given number of metres.
func north(c models.Coordinates, metres float64) models.Coordinates {
	return models.Coordinates{Lat: c.Lat + metres/(EarthRadiusM*math.Pi/180), Lng: c.Lng}
}

func TestDistance(t *testing.T) {
	tokyo := models.Coordinates{Lat: 35.6812, Lng: 139.7671}

	assert.Zero(t, Distance(kyotoStation, kyotoStation))
	assert.InDelta(t, Distance(kyotoStation, tokyo), Distance(tokyo, kyotoStation), 1e-6)
	// Kyoto to Tokyo station is roughly 371.7 km in a straight line.
	assert.InDelta(t, 371705, Distance(kyotoStation, tokyo), 500)
	assert.InDelta(t, 100, Distance(kyotoStation, north(kyotoStation, 100)), 0.01)
}

func TestRadiusFor(t *testing.T) {
	tests := map[models.VenueType]float64{
		models.VenueCafe:           25,
		models.VenueShopping:       200,
		models.VenueTemple:         100,
		models.VenueRestaurant:     30,
		models.VenueEntertainment:  75,
		models.VenueTransitStation: 100,
		models.VenueOther:          DefaultRadiusM,
		"":                         DefaultRadiusM,
	}
	for vt, want := range tests {
		assert.Equal(t, want, RadiusFor(vt), vt)
	}
}

func TestGeofenceContains(t *testing.T) {
	cafe := Geofence{ID: "gf-cafe", Center: kyotoStation, Radius: RadiusFor(models.VenueCafe)}

	assert.True(t, cafe.Contains(kyotoStation), "center is always inside")
	assert.True(t, cafe.Contains(north(kyotoStation, 24)))
	assert.False(t, cafe.Contains(north(kyotoStation, 26)))
}

func TestForSlot(t *testing.T) {
	slot := models.Slot{ID: "lunch", Options: []models.ActivityOption{{
		Name:  "Nishiki",
		Venue: models.Venue{Type: models.VenueShopping, Location: kyotoStation},
	}}}
	g, ok := ForSlot(slot)
	require.True(t, ok)
	assert.Equal(t, "lunch", g.SlotID)
	assert.Equal(t, 200.0, g.Radius)

	_, ok = ForSlot(models.Slot{ID: "empty"})
	assert.False(t, ok)
}

func twoFences() []Geofence {
	return []Geofence{
		{ID: "a", SlotID: "slot-a", Center: kyotoStation, Radius: 50},
		{ID: "b", SlotID: "slot-b", Center: north(kyotoStation, 1000), Radius: 50},
	}
}

func TestEvaluatorEnterExitOncePerVisit(t *testing.T) {
	ev := NewEvaluator(twoFences(), Options{})
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	events := ev.Update(north(kyotoStation, -500), t0)
	assert.Empty(t, events)

	events = ev.Update(kyotoStation, t0.Add(time.Minute))
	require.Len(t, events, 1)
	assert.Equal(t, EventEnter, events[0].Kind)
	assert.Equal(t, "slot-a", events[0].SlotID)

	// Still inside: no repeat enter.
	assert.Empty(t, ev.Update(north(kyotoStation, 10), t0.Add(2*time.Minute)))

	// Jump directly into b: exit a then enter b.
	events = ev.Update(north(kyotoStation, 1000), t0.Add(3*time.Minute))
	require.Len(t, events, 2)
	assert.Equal(t, EventExit, events[0].Kind)
	assert.Equal(t, "a", events[0].FenceID)
	assert.Equal(t, EventEnter, events[1].Kind)
	assert.Equal(t, "b", events[1].FenceID)

	events = ev.Update(north(kyotoStation, 2000), t0.Add(4*time.Minute))
	require.Len(t, events, 1)
	assert.Equal(t, EventExit, events[0].Kind)
	assert.Empty(t, ev.Active())
}

func TestEvaluatorLoiterDelaySuppressesNoise(t *testing.T) {
	ev := NewEvaluator(twoFences(), Options{LoiterDelay: 2 * time.Minute})
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	assert.Empty(t, ev.Update(kyotoStation, t0))
	// A transient fix outside resets the candidate.
	assert.Empty(t, ev.Update(north(kyotoStation, 400), t0.Add(time.Minute)))
	assert.Empty(t, ev.Update(kyotoStation, t0.Add(2*time.Minute)))
	assert.Empty(t, ev.Update(kyotoStation, t0.Add(3*time.Minute)))

	events := ev.Update(kyotoStation, t0.Add(4*time.Minute))
	require.Len(t, events, 1)
	assert.Equal(t, EventEnter, events[0].Kind)
}

func TestEvaluatorDwellEmittedOnce(t *testing.T) {
	ev := NewEvaluator(twoFences(), Options{DwellAfter: 5 * time.Minute})
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.Len(t, ev.Update(kyotoStation, t0), 1)
	assert.Empty(t, ev.Update(kyotoStation, t0.Add(4*time.Minute)))

	events := ev.Update(kyotoStation, t0.Add(6*time.Minute))
	require.Len(t, events, 1)
	assert.Equal(t, EventDwell, events[0].Kind)
	assert.Equal(t, 6*time.Minute, events[0].Dwell)

	assert.Empty(t, ev.Update(kyotoStation, t0.Add(20*time.Minute)))
}

func TestEvaluatorNearestFenceWins(t *testing.T) {
	fences := []Geofence{
		{ID: "wide", SlotID: "mall", Center: kyotoStation, Radius: 200},
		{ID: "tight", SlotID: "cafe", Center: north(kyotoStation, 60), Radius: 25},
	}
	ev := NewEvaluator(fences, Options{})
	events := ev.Update(north(kyotoStation, 58), time.Now())
	require.Len(t, events, 1)
	assert.Equal(t, "tight", events[0].FenceID)
}

func TestEvaluatorStateResumesClocks(t *testing.T) {
	opts := Options{LoiterDelay: 2 * time.Minute, DwellAfter: 5 * time.Minute}
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	ev := NewEvaluator(twoFences(), opts)
	assert.Empty(t, ev.Update(kyotoStation, t0))
	st := ev.State()
	assert.Equal(t, "a", st.Candidate)
	assert.Equal(t, t0, st.CandidateSince)

	resumed := NewEvaluator(twoFences(), opts)
	resumed.SetState(st)
	events := resumed.Update(kyotoStation, t0.Add(2*time.Minute))
	require.Len(t, events, 1)
	assert.Equal(t, EventEnter, events[0].Kind)

	again := NewEvaluator(twoFences(), opts)
	again.SetState(resumed.State())
	events = again.Update(kyotoStation, t0.Add(5*time.Minute))
	require.Len(t, events, 1)
	assert.Equal(t, EventDwell, events[0].Kind)
	assert.Equal(t, 5*time.Minute, events[0].Dwell)

	// fences missing from the new day are dropped
	other := NewEvaluator(twoFences()[1:], opts)
	other.SetState(again.State())
	assert.Empty(t, other.Active())
}
