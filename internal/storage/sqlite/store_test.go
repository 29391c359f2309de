package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/julianstephens/wayfare/internal/actions"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "nested", "wayfare.db"))
	if err := store.Init(); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func trip(id string, version int) *models.Itinerary {
	return &models.Itinerary{
		TripID:  id,
		Title:   "Kansai",
		Version: version,
		Days: []models.Day{{Index: 0, Date: "2026-04-01", City: "Kyoto", Slots: []models.Slot{
			{ID: "m1", Type: models.SlotMorning, Start: "09:00", End: "11:00", Behavior: models.BehaviorFlex, Rigidity: 0.4},
		}}},
		UpdatedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestLoadRequiresInit(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.db"))
	if err := store.Load(); err == nil {
		t.Error("expected an error for a missing database")
	}
}

func TestItineraryVersions(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.GetItinerary("kansai"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	v1 := trip("kansai", 1)
	v2 := trip("kansai", 2)
	v2.Days[0].Slots[0].Start = "09:30"
	for _, it := range []*models.Itinerary{v1, v2, trip("tokyo", 1)} {
		if err := store.SaveItinerary(it); err != nil {
			t.Fatalf("SaveItinerary failed: %v", err)
		}
	}

	latest, err := store.GetItinerary("kansai")
	if err != nil {
		t.Fatalf("GetItinerary failed: %v", err)
	}
	if latest.Version != 2 || latest.Days[0].Slots[0].Start != "09:30" {
		t.Errorf("expected version 2, got %+v", latest)
	}
	old, err := store.GetItineraryVersion("kansai", 1)
	if err != nil || old.Days[0].Slots[0].Start != "09:00" {
		t.Errorf("GetItineraryVersion = %+v, %v", old, err)
	}

	trips, err := store.ListTrips()
	if err != nil {
		t.Fatalf("ListTrips failed: %v", err)
	}
	if len(trips) != 2 || trips[0].TripID != "kansai" || trips[0].Version != 2 || trips[0].Days != 1 {
		t.Errorf("unexpected trips: %+v", trips)
	}

	if err := store.DeleteItinerary("kansai"); err != nil {
		t.Fatalf("DeleteItinerary failed: %v", err)
	}
	if _, err := store.GetItinerary("kansai"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted trip still readable: %v", err)
	}
	if err := store.DeleteItinerary("kansai"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}

	// saving again revives the trip
	if err := store.SaveItinerary(v2); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetItinerary("kansai"); err != nil {
		t.Errorf("re-saved trip not readable: %v", err)
	}
}

func TestExecutionRecord(t *testing.T) {
	store := setupTestStore(t)
	rec := models.ExecutionRecord{
		TripID:        "kansai",
		DayIndex:      0,
		SimulatedTime: time.Date(2026, 4, 1, 10, 30, 0, 0, time.UTC),
		Multiplier:    60,
		SlotStates:    map[string]models.ActivityState{"m1": models.StateInProgress},
		LockedSlots:   []string{"d1"},
		FocusSlotID:   "m1",
	}
	if err := store.SaveExecutionRecord(rec); err != nil {
		t.Fatalf("SaveExecutionRecord failed: %v", err)
	}
	rec.Paused = true
	if err := store.SaveExecutionRecord(rec); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	got, err := store.GetExecutionRecord("kansai")
	if err != nil {
		t.Fatalf("GetExecutionRecord failed: %v", err)
	}
	if !got.Paused || got.SlotStates["m1"] != models.StateInProgress || got.Multiplier != 60 || got.SavedAt.IsZero() {
		t.Errorf("unexpected record: %+v", got)
	}

	if err := store.DeleteExecutionRecord("kansai"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetExecutionRecord("kansai"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitions(t *testing.T) {
	store := setupTestStore(t)
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	log := []models.Transition{
		{SlotID: "m1", DayIndex: 0, From: models.StateUpcoming, To: models.StatePending, Trigger: models.TriggerTimeThreshold, At: at},
		{SlotID: "m1", DayIndex: 0, From: models.StatePending, To: models.StateArrived, Trigger: models.TriggerGeofenceEnter, At: at.Add(20 * time.Minute)},
		{SlotID: "x1", DayIndex: 1, From: models.StateUpcoming, To: models.StateSkipped, Trigger: models.TriggerSkip, At: at},
	}
	for _, tr := range log {
		if err := store.AppendTransition("kansai", tr); err != nil {
			t.Fatalf("AppendTransition failed: %v", err)
		}
	}

	got, err := store.GetTransitions("kansai", 0)
	if err != nil {
		t.Fatalf("GetTransitions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(got))
	}
	if got[1].To != models.StateArrived || got[1].Trigger != models.TriggerGeofenceEnter || !got[1].At.Equal(log[1].At) {
		t.Errorf("unexpected transition: %+v", got[1])
	}
}

func TestUndoLog(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.PopUndo("kansai"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := actions.Intent{Type: actions.IntentMove, SlotID: "m1", DayIndex: 0, Start: "09:00", Override: true}
	second := actions.Intent{Type: actions.IntentInsert, SlotID: "l1", DayIndex: 0, BaseVersion: 3}
	for _, in := range []actions.Intent{first, second} {
		if err := store.PushUndo("kansai", in); err != nil {
			t.Fatalf("PushUndo failed: %v", err)
		}
	}

	got, err := store.PopUndo("kansai")
	if err != nil {
		t.Fatalf("PopUndo failed: %v", err)
	}
	if got.Type != actions.IntentInsert || got.BaseVersion != 3 {
		t.Errorf("expected the newest intent, got %+v", got)
	}
	got, err = store.PopUndo("kansai")
	if err != nil || got.Type != actions.IntentMove || !got.Override {
		t.Errorf("PopUndo = %+v, %v", got, err)
	}
	if _, err := store.PopUndo("kansai"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected empty log, got %v", err)
	}
}

func TestReloadKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayfare.db")
	store := NewStore(path)
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveItinerary(trip("kansai", 1)); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened := NewStore(path)
	if err := reopened.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.GetItinerary("kansai"); err != nil {
		t.Errorf("GetItinerary after reload: %v", err)
	}
	if n, err := reopened.Migrate(nil); err != nil || n != 0 {
		t.Errorf("Migrate = %d, %v", n, err)
	}
}
