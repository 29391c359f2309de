package trips

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/constraints"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/storage"
)

type TripImportCmd struct {
	File    string `arg:"" help:"Itinerary JSON file." type:"existingfile"`
	Replace bool   `help:"Store the file as a new version of an existing trip."`
}

func (c *TripImportCmd) Run(ctx *cli.Context) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.File, err)
	}
	var it models.Itinerary
	if err := json.Unmarshal(data, &it); err != nil {
		return fmt.Errorf("failed to parse itinerary: %w", err)
	}
	if err := it.Validate(); err != nil {
		return fmt.Errorf("invalid itinerary: %w", err)
	}
	for i := range it.Days {
		constraints.SortSlots(it.Days[i].Slots)
	}

	existing, err := ctx.Store.GetItinerary(it.TripID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if it.Version < 1 {
			it.Version = 1
		}
	case err != nil:
		return fmt.Errorf("failed to check for trip %s: %w", it.TripID, err)
	case !c.Replace:
		return fmt.Errorf("trip %s already exists at version %d, use --replace to store a new version", it.TripID, existing.Version)
	default:
		it.Version = existing.Version + 1
	}
	it.UpdatedAt = time.Now()

	if err := ctx.Store.SaveItinerary(&it); err != nil {
		return err
	}
	slots := 0
	for _, d := range it.Days {
		slots += len(d.Slots)
	}
	ctx.Printf("✓ Imported trip %s v%d (%d days, %d slots)\n", it.TripID, it.Version, len(it.Days), slots)
	return nil
}

type TripListCmd struct{}

func (c *TripListCmd) Run(ctx *cli.Context) error {
	trips, err := ctx.Store.ListTrips()
	if err != nil {
		return fmt.Errorf("failed to list trips: %w", err)
	}
	if len(trips) == 0 {
		ctx.Println("No trips found. Import one with 'wayfare trip import'.")
		return nil
	}
	for _, t := range trips {
		title := t.Title
		if title == "" {
			title = t.TripID
		}
		ctx.Printf("%-20s %s  %s\n", t.TripID, cli.TitleStyle.Render(title),
			cli.MutedStyle.Render(fmt.Sprintf("v%d, %d days, updated %s", t.Version, t.Days, t.UpdatedAt.Local().Format("2006-01-02 15:04"))))
	}
	return nil
}

type TripShowCmd struct {
	TripID  string `arg:"" help:"Trip to show."`
	Day     *int   `help:"Only show this day (0-based)."`
	Version int    `help:"Show an older version instead of the latest."`
	JSON    bool   `help:"Print the itinerary as JSON."`
}

func (c *TripShowCmd) Run(ctx *cli.Context) error {
	var (
		it  *models.Itinerary
		err error
	)
	if c.Version > 0 {
		it, err = ctx.Store.GetItineraryVersion(c.TripID, c.Version)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("trip %s has no version %d", c.TripID, c.Version)
		}
	} else {
		it, err = ctx.LoadTrip(c.TripID)
	}
	if err != nil {
		return err
	}
	if c.Day != nil && !it.HasDay(*c.Day) {
		return fmt.Errorf("trip %s has no day %d", it.TripID, *c.Day)
	}

	if c.JSON {
		enc := json.NewEncoder(ctx.Writer())
		enc.SetIndent("", "  ")
		if c.Day != nil {
			return enc.Encode(it.Days[*c.Day])
		}
		return enc.Encode(it)
	}

	// slot states of the day in progress, if any
	states := map[string]models.ActivityState{}
	rec, err := ctx.Store.GetExecutionRecord(it.TripID)
	if err == nil {
		states = rec.SlotStates
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load execution record: %w", err)
	}

	title := it.Title
	if title == "" {
		title = it.TripID
	}
	ctx.Printf("%s %s\n", cli.TitleStyle.Render(title), cli.MutedStyle.Render(fmt.Sprintf("v%d", it.Version)))
	for _, d := range it.Days {
		if c.Day != nil && d.Index != *c.Day {
			continue
		}
		ctx.Printf("\nDay %d  %s %s\n", d.Index, d.Date, d.City)
		if len(d.Slots) == 0 {
			ctx.Println(cli.MutedStyle.Render("  (no slots)"))
		}
		for _, s := range d.Slots {
			ctx.Println("  " + cli.SlotLine(s, states[s.ID]))
		}
	}
	return nil
}

type TripDeleteCmd struct {
	TripID string `arg:"" help:"Trip to delete."`
}

func (c *TripDeleteCmd) Run(ctx *cli.Context) error {
	ctx.PerformAutomaticBackup()
	if err := ctx.Store.DeleteItinerary(c.TripID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("trip %s not found", c.TripID)
		}
		return fmt.Errorf("failed to delete trip: %w", err)
	}
	ctx.Printf("Deleted trip: %s\n", c.TripID)
	return nil
}

type TripHistoryCmd struct {
	TripID string `arg:"" help:"Trip whose transition log to show."`
	Day    int    `help:"Day index." default:"0"`
}

func (c *TripHistoryCmd) Run(ctx *cli.Context) error {
	log, err := ctx.Store.GetTransitions(c.TripID, c.Day)
	if err != nil {
		return fmt.Errorf("failed to load transitions: %w", err)
	}
	if len(log) == 0 {
		ctx.Printf("No transitions recorded for day %d.\n", c.Day)
		return nil
	}
	for _, t := range log {
		ctx.Printf("%s  %-12s %s → %s  %s\n", t.At.Format("15:04:05"), t.SlotID,
			cli.StateBadge(t.From), cli.StateBadge(t.To), cli.MutedStyle.Render(string(t.Trigger)))
	}
	return nil
}
