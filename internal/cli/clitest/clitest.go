// Package clitest builds command contexts over throwaway storage.
package clitest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/config"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/storage/sqlite"
)

// NewContext returns a context over a fresh SQLite store whose output is
// captured in the returned buffer.
func NewContext(t *testing.T) (*cli.Context, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	store := sqlite.NewStore(filepath.Join(dir, "wayfare.db"))
	if err := store.Init(); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Engine.Timezone = "UTC"
	cfg.Log.Dir = dir
	cfg.Recommender.Enabled = false

	out := &bytes.Buffer{}
	return &cli.Context{Store: store, Config: cfg, Out: out}, out
}

func slot(id string, typ models.SlotType, start, end string, lat float64) models.Slot {
	return models.Slot{
		ID: id, Type: typ, Start: start, End: end,
		Behavior: models.BehaviorFlex, Rigidity: 0.4,
		Options: []models.ActivityOption{{ID: id + "-opt", Rank: 1, Name: "Venue " + id, DurationMin: 60, Venue: models.Venue{
			Name: "Venue " + id, Type: models.VenueMuseum, Location: models.Coordinates{Lat: lat, Lng: 135.7727},
		}}},
	}
}

// Itinerary is a two-day trip with ids "kyoto", slots a, b and c on day 0
// and d on day 1.
func Itinerary() *models.Itinerary {
	return &models.Itinerary{
		TripID:   "kyoto",
		Title:    "Kyoto",
		Timezone: "UTC",
		Days: []models.Day{
			{Index: 0, Date: "2026-04-01", City: "Kyoto", Slots: []models.Slot{
				slot("a", models.SlotMorning, "09:00", "10:00", 34.9671),
				slot("b", models.SlotLunch, "11:00", "12:00", 34.9761),
				slot("c", models.SlotAfternoon, "13:00", "15:00", 34.9851),
			}},
			{Index: 1, Date: "2026-04-02", City: "Kyoto", Slots: []models.Slot{
				slot("d", models.SlotMorning, "09:00", "10:00", 34.9671),
			}},
		},
	}
}

// WriteItinerary writes it as JSON into a temp file and returns its path.
func WriteItinerary(t *testing.T, it *models.Itinerary) string {
	t.Helper()
	data, err := json.Marshal(it)
	if err != nil {
		t.Fatalf("failed to marshal itinerary: %v", err)
	}
	path := filepath.Join(t.TempDir(), it.TripID+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write itinerary: %v", err)
	}
	return path
}

// Seed stores it directly, bypassing the import command.
func Seed(t *testing.T, ctx *cli.Context, it *models.Itinerary) {
	t.Helper()
	if it.Version == 0 {
		it.Version = 1
	}
	if err := ctx.Store.SaveItinerary(it); err != nil {
		t.Fatalf("failed to seed itinerary: %v", err)
	}
}
