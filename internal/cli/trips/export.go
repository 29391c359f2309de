package trips

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/ical"
	"github.com/julianstephens/wayfare/internal/storage"
)

type TripExportCmd struct {
	TripID string `arg:"" help:"Trip to export."`
	Day    *int   `help:"Only export this day (0-based)."`
	Output string `short:"o" help:"Write to this file instead of stdout."`
	ICal   bool   `name:"ical" help:"Export as iCalendar." default:"true" negatable:""`
}

func (c *TripExportCmd) Run(ctx *cli.Context) error {
	if !c.ICal {
		return errors.New("iCalendar is the only export format")
	}
	it, err := ctx.LoadTrip(c.TripID)
	if err != nil {
		return err
	}

	cfg, err := ctx.ExecutionConfig(it)
	if err != nil {
		return err
	}
	opts := ical.Options{Location: cfg.Location, Stamp: time.Now()}
	rec, err := ctx.Store.GetExecutionRecord(it.TripID)
	switch {
	case err == nil:
		opts.Executions = rec.Executions
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("failed to load execution record: %w", err)
	}

	var out string
	if c.Day != nil {
		out, err = ical.ExportDay(it, *c.Day, opts)
	} else {
		out, err = ical.ExportTrip(it, opts)
	}
	if err != nil {
		return err
	}

	if c.Output == "" {
		ctx.Printf("%s", out)
		return nil
	}
	if err := os.WriteFile(c.Output, []byte(out), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.Output, err)
	}
	ctx.Printf("✓ Exported %s to %s\n", it.TripID, c.Output)
	return nil
}
