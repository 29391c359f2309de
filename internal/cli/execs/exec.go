package execs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/execution"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/storage"
	"github.com/julianstephens/wayfare/internal/utils"
)

// withDay restores the day in progress, runs fn and saves the result.
func withDay(ctx *cli.Context, tripID string, fn func(d *cli.Day) error) error {
	d, err := ctx.OpenDay(tripID)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := fn(d); err != nil {
		return err
	}
	if err := d.Save(); err != nil {
		return err
	}
	printEvents(ctx, d.Events())
	return nil
}

func printEvents(ctx *cli.Context, events []models.QueuedEvent) {
	for _, ev := range events {
		ctx.Println(cli.MutedStyle.Render(fmt.Sprintf("  queued %s [%s] %s", ev.Type, ev.Priority, ev.Message)))
	}
}

func printExec(ctx *cli.Context, x *models.ActivityExecution) {
	ctx.Printf("%s is %s\n", x.SlotID, cli.StateBadge(x.State))
}

type ExecStartCmd struct {
	TripID string `arg:"" help:"Trip to execute."`
	Day    int    `help:"Day index (0-based)." default:"0"`
	At     string `help:"Start the simulated clock at this time (HH:MM) on the day's date."`
	Force  bool   `help:"Replace a day that is already in progress."`
}

func (c *ExecStartCmd) Validate() error {
	if c.At != "" && !utils.ValidateTimeFormat(c.At) {
		return fmt.Errorf("--at must be HH:MM, got %q", c.At)
	}
	return nil
}

func (c *ExecStartCmd) Run(ctx *cli.Context) error {
	rec, err := ctx.Store.GetExecutionRecord(c.TripID)
	switch {
	case err == nil && !c.Force:
		return fmt.Errorf("day %d of %s is already in progress, stop it first or use --force", rec.DayIndex, c.TripID)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("failed to check execution record: %w", err)
	}

	d, err := ctx.StartDay(c.TripID, c.Day, c.At)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Save(); err != nil {
		return err
	}
	st := d.Engine.Snapshot()
	ctx.Printf("✓ Started day %d of %s at %s\n", st.DayIndex, c.TripID, st.Now.Format("2006-01-02 15:04"))
	if st.FocusSlotID != "" {
		ctx.Printf("  Up next: %s\n", st.FocusSlotID)
	}
	printEvents(ctx, d.Events())
	return nil
}

type ExecStopCmd struct {
	TripID string `arg:"" help:"Trip whose day to stop."`
}

func (c *ExecStopCmd) Run(ctx *cli.Context) error {
	d, err := ctx.OpenDay(c.TripID)
	if err != nil {
		return err
	}
	if err := d.Engine.Stop(); err != nil {
		d.Close()
		return err
	}
	st := d.Engine.Snapshot()
	d.Close()
	if err := ctx.Store.DeleteExecutionRecord(c.TripID); err != nil {
		return fmt.Errorf("failed to clear execution record: %w", err)
	}
	ctx.Printf("✓ Stopped day %d of %s: %d completed, %d skipped\n", st.DayIndex, c.TripID, st.CompletedCount, st.SkippedCount)
	return nil
}

type ExecPauseCmd struct {
	TripID string `arg:"" help:"Trip to pause."`
	Reason string `help:"Why the day is paused."`
}

func (c *ExecPauseCmd) Run(ctx *cli.Context) error {
	return withDay(ctx, c.TripID, func(d *cli.Day) error {
		if err := d.Engine.Pause(c.Reason); err != nil {
			return err
		}
		ctx.Println("⏸ Paused")
		return nil
	})
}

type ExecResumeCmd struct {
	TripID string `arg:"" help:"Trip to resume."`
}

func (c *ExecResumeCmd) Run(ctx *cli.Context) error {
	return withDay(ctx, c.TripID, func(d *cli.Day) error {
		if err := d.Engine.Resume(); err != nil {
			return err
		}
		ctx.Println("▶ Resumed")
		return nil
	})
}

type ExecSpeedCmd struct {
	TripID     string  `arg:"" help:"Trip to adjust."`
	Multiplier float64 `arg:"" help:"Simulated seconds per real second."`
}

func (c *ExecSpeedCmd) Run(ctx *cli.Context) error {
	return withDay(ctx, c.TripID, func(d *cli.Day) error {
		if err := d.Engine.SetMultiplier(c.Multiplier); err != nil {
			return err
		}
		ctx.Printf("Clock runs at %gx\n", c.Multiplier)
		return nil
	})
}

type ExecStatusCmd struct {
	TripID string `arg:"" help:"Trip to show."`
}

func (c *ExecStatusCmd) Run(ctx *cli.Context) error {
	d, err := ctx.OpenDay(c.TripID)
	if err != nil {
		return err
	}
	defer d.Close()

	st := d.Engine.Snapshot()
	it := d.Engine.Itinerary()
	ctx.Printf("%s day %d  %s  %s\n", cli.TitleStyle.Render(c.TripID), st.DayIndex,
		st.Now.Format("2006-01-02 15:04"), cli.MutedStyle.Render(fmt.Sprintf("%gx", st.Multiplier)))
	if st.Paused {
		line := "paused"
		if st.PauseReason != "" {
			line += ": " + st.PauseReason
		}
		ctx.Println(cli.WarningStyle.Render(line))
	}
	if st.AccumulatedDelayMin > 0 {
		ctx.Println(cli.WarningStyle.Render(fmt.Sprintf("running %d min behind", st.AccumulatedDelayMin)))
	}
	for _, x := range d.Engine.Executions() {
		slot, ok := it.Slot(x.SlotID)
		if !ok {
			continue
		}
		marker := "  "
		if x.SlotID == st.FocusSlotID {
			marker = "▸ "
		}
		line := cli.SlotLine(slot, x.State)
		if !x.ScheduledStart.IsZero() && (slot.Start != x.ScheduledStart.Format("15:04") || x.ExtendedMin > 0) {
			line += cli.MutedStyle.Render(fmt.Sprintf("  now %s-%s", x.ScheduledStart.Format("15:04"), x.ScheduledEnd.Format("15:04")))
		}
		if x.Rating != nil {
			line += cli.MutedStyle.Render(fmt.Sprintf("  %s", strings.Repeat("★", *x.Rating)))
		}
		ctx.Println(marker + line)
	}
	ctx.Printf("\n%d completed, %d skipped\n", st.CompletedCount, st.SkippedCount)
	return nil
}

type ExecCheckInCmd struct {
	TripID string `arg:"" help:"Trip in progress."`
	SlotID string `arg:"" help:"Slot to check in to."`
}

func (c *ExecCheckInCmd) Run(ctx *cli.Context) error {
	return withDay(ctx, c.TripID, func(d *cli.Day) error {
		x, err := d.Engine.CheckIn(c.SlotID)
		if err != nil {
			return err
		}
		printExec(ctx, x)
		return nil
	})
}

type ExecCheckOutCmd struct {
	TripID string `arg:"" help:"Trip in progress."`
	SlotID string `arg:"" help:"Slot to check out of."`
	Rating int    `help:"Rating from 1 to 5."`
	Notes  string `help:"Notes about the activity."`
}

func (c *ExecCheckOutCmd) Validate() error {
	if c.Rating != 0 && (c.Rating < 1 || c.Rating > 5) {
		return execution.ErrInvalidRating
	}
	return nil
}

func (c *ExecCheckOutCmd) Run(ctx *cli.Context) error {
	var rating *int
	if c.Rating != 0 {
		rating = &c.Rating
	}
	return withDay(ctx, c.TripID, func(d *cli.Day) error {
		x, err := d.Engine.CheckOut(c.SlotID, rating, c.Notes)
		if err != nil {
			return err
		}
		printExec(ctx, x)
		return nil
	})
}

type ExecExtendCmd struct {
	TripID  string `arg:"" help:"Trip in progress."`
	SlotID  string `arg:"" help:"Slot to extend."`
	Minutes int    `arg:"" help:"Minutes to add."`
}

func (c *ExecExtendCmd) Run(ctx *cli.Context) error {
	return withDay(ctx, c.TripID, func(d *cli.Day) error {
		x, err := d.Engine.Extend(c.SlotID, c.Minutes)
		if err != nil {
			return err
		}
		ctx.Printf("%s extended by %d min, now ends %s\n", x.SlotID, c.Minutes, x.ScheduledEnd.Format("15:04"))
		return nil
	})
}

// endSlot skips, defers or replaces a slot.
func endSlot(ctx *cli.Context, tripID, slotID, reason string, to models.ActivityState) error {
	return withDay(ctx, tripID, func(d *cli.Day) error {
		var (
			x   *models.ActivityExecution
			err error
		)
		switch to {
		case models.StateDeferred:
			x, err = d.Engine.Defer(slotID, reason)
		case models.StateReplaced:
			x, err = d.Engine.Replace(slotID, reason)
		default:
			x, err = d.Engine.Skip(slotID, reason)
		}
		if err != nil {
			return err
		}
		printExec(ctx, x)
		return nil
	})
}

type ExecSkipCmd struct {
	TripID string `arg:"" help:"Trip in progress."`
	SlotID string `arg:"" help:"Slot to skip."`
	Reason string `help:"Why the slot is skipped."`
}

func (c *ExecSkipCmd) Run(ctx *cli.Context) error {
	return endSlot(ctx, c.TripID, c.SlotID, c.Reason, models.StateSkipped)
}

type ExecDeferCmd struct {
	TripID string `arg:"" help:"Trip in progress."`
	SlotID string `arg:"" help:"Slot to defer to a later day."`
	Reason string `help:"Why the slot is deferred."`
}

func (c *ExecDeferCmd) Run(ctx *cli.Context) error {
	return endSlot(ctx, c.TripID, c.SlotID, c.Reason, models.StateDeferred)
}

type ExecReplaceCmd struct {
	TripID string `arg:"" help:"Trip in progress."`
	SlotID string `arg:"" help:"Slot being replaced by another activity."`
	Reason string `help:"Why the slot is replaced."`
}

func (c *ExecReplaceCmd) Run(ctx *cli.Context) error {
	return endSlot(ctx, c.TripID, c.SlotID, c.Reason, models.StateReplaced)
}

type ExecLocateCmd struct {
	TripID string  `arg:"" help:"Trip in progress."`
	Lat    float64 `arg:"" help:"Latitude."`
	Lng    float64 `arg:"" help:"Longitude."`
}

func (c *ExecLocateCmd) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("coordinates out of range: %v,%v", c.Lat, c.Lng)
	}
	return nil
}

func (c *ExecLocateCmd) Run(ctx *cli.Context) error {
	return withDay(ctx, c.TripID, func(d *cli.Day) error {
		events, err := d.Engine.UpdateLocation(models.Coordinates{Lat: c.Lat, Lng: c.Lng})
		if err != nil {
			return err
		}
		if len(events) == 0 {
			ctx.Println(cli.MutedStyle.Render("No geofence changes"))
		}
		for _, ev := range events {
			ctx.Printf("%s %s (%.0f m)\n", ev.Kind, ev.SlotID, ev.Distance)
		}
		return nil
	})
}

type ExecReportCmd struct {
	TripID  string `arg:"" help:"Trip in progress."`
	SlotID  string `arg:"" help:"Slot the evidence is about."`
	Leaving bool   `help:"The traveller said they are leaving."`
	Payment bool   `help:"A payment at the venue was detected."`
	Photo   bool   `help:"A geotagged photo was taken at the venue."`
}

func (c *ExecReportCmd) Run(ctx *cli.Context) error {
	return withDay(ctx, c.TripID, func(d *cli.Day) error {
		res, err := d.Engine.Report(c.SlotID, execution.Evidence{Leaving: c.Leaving, Payment: c.Payment, Photo: c.Photo})
		if err != nil {
			return err
		}
		ctx.Printf("Completion confidence %d: %s\n", res.Score, res.Recommendation)
		return nil
	})
}

type ExecTickCmd struct {
	TripID  string        `arg:"" help:"Trip in progress."`
	Advance time.Duration `help:"Fast-forward the simulated clock first (e.g. 30m)."`
}

func (c *ExecTickCmd) Run(ctx *cli.Context) error {
	return withDay(ctx, c.TripID, func(d *cli.Day) error {
		var (
			ts  []models.Transition
			err error
		)
		if c.Advance > 0 {
			ts, err = d.Engine.Advance(c.Advance)
		} else {
			ts, err = d.Engine.Tick()
		}
		if err != nil {
			return err
		}
		ctx.Printf("Simulated time %s\n", d.Engine.Now().Format("2006-01-02 15:04"))
		for _, t := range ts {
			ctx.Printf("  %s %s → %s\n", t.SlotID, cli.StateBadge(t.From), cli.StateBadge(t.To))
		}
		return nil
	})
}
