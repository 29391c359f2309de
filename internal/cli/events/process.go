package events

import (
	"context"
	"fmt"

	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/notifier"
	"github.com/julianstephens/wayfare/internal/pipeline"
)

// EventProcessCmd runs the events due now, plus an optional explicit one,
// through the pipeline once.
type EventProcessCmd struct {
	TripID       string   `arg:"" help:"Trip in progress."`
	Type         string   `help:"Also raise an event of this type (e.g. weather_alert, transit_delay)."`
	Priority     string   `help:"Priority of the raised event (low|normal|high|urgent)." default:"normal" enum:"low,normal,high,urgent"`
	Message      string   `help:"Message of the raised event."`
	Slot         string   `help:"Slot the raised event is about."`
	Weather      string   `help:"Current weather summary."`
	TransitDelay int      `help:"Known transit delay in minutes."`
	Closed       []string `help:"Venues known to be closed."`
	Notify       bool     `help:"Deliver shown results to the tray app."`
}

func (c *EventProcessCmd) Validate() error {
	if c.Type != "" && c.Message == "" {
		return fmt.Errorf("--message is required with --type")
	}
	return nil
}

func (c *EventProcessCmd) Run(ctx *cli.Context) error {
	d, err := ctx.OpenDay(c.TripID)
	if err != nil {
		return err
	}
	defer d.Close()

	cfg, err := ctx.ExecutionConfig(d.Engine.Itinerary())
	if err != nil {
		return err
	}
	p, err := ctx.Pipeline(d.Engine, cfg.Location, nil)
	if err != nil {
		return err
	}

	queue := pipeline.NewTimeMonitor(d.Engine, ctx.Config.Pipeline.Monitor).Check()
	if c.Type != "" {
		ev := models.NewEvent(models.EventType(c.Type), models.Priority(c.Priority), c.Message, d.Engine.Now())
		ev.SlotID = c.Slot
		ev.Source = "cli"
		queue = append(queue, ev)
	}
	if len(queue) == 0 {
		ctx.Println("Nothing due right now.")
		return nil
	}

	in := pipeline.Input{Weather: c.Weather, TransitDelayMin: c.TransitDelay, ClosedVenues: c.Closed}
	var sink pipeline.Sink
	if c.Notify {
		sink = notifier.New()
	}
	bg := context.Background()
	for _, ev := range queue {
		res := p.Process(bg, ev, in)
		ctx.Println(cli.ResultLine(res))
		if res.Show && sink != nil {
			if err := sink.Deliver(bg, res); err != nil {
				ctx.Println(cli.WarningStyle.Render("  delivery failed: " + err.Error()))
			}
		}
	}
	return nil
}
