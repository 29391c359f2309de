package system

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/config"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/metrics"
	"github.com/julianstephens/wayfare/internal/notifier"
	"github.com/julianstephens/wayfare/internal/pipeline"
)

const saveInterval = 30 * time.Second

// ServeCmd keeps a day running in the foreground: the engine ticks on the
// wall clock, due events flow through the pipeline to the tray app, and
// state is saved periodically so other commands see it.
type ServeCmd struct {
	TripID      string `arg:"" help:"Trip whose day in progress to run."`
	NoMetrics   bool   `help:"Do not expose Prometheus metrics."`
	NoNotify    bool   `help:"Process events without delivering them."`
	NoWatch     bool   `help:"Do not reload the config file when it changes."`
	MetricsAddr string `help:"Metrics listen address; overrides the config file."`
}

func (c *ServeCmd) Run(ctx *cli.Context) error {
	d, err := ctx.OpenDay(c.TripID)
	if err != nil {
		return err
	}
	defer d.Close()

	cfg := ctx.Config
	log := logger.With("trip", c.TripID)
	execCfg, err := ctx.ExecutionConfig(d.Engine.Itinerary())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	p, err := ctx.Pipeline(d.Engine, execCfg.Location, m)
	if err != nil {
		return err
	}
	queue := pipeline.NewQueue(cfg.Pipeline.QueueSize)

	var sink pipeline.Sink = notifier.New()
	if c.NoNotify {
		sink = pipeline.SinkFunc(func(context.Context, pipeline.Result) error { return nil })
	}
	poller := pipeline.NewPoller(p, queue, sink, cfg.Pipeline.PollInterval)
	monitor := pipeline.NewTimeMonitor(d.Engine, cfg.Pipeline.Monitor)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	events, cancelEvents := d.Engine.Subscribe(cfg.Pipeline.QueueSize)
	defer cancelEvents()
	g.Go(func() error {
		pipeline.Forward(gctx, events, queue)
		return nil
	})

	g.Go(func() error { return d.Engine.Run(gctx, cfg.Engine.TickInterval) })
	g.Go(func() error { return poller.Run(gctx) })

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Pipeline.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				for _, ev := range monitor.Check() {
					queue.Push(ev)
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(saveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				c.refresh(ctx, d, log)
				if err := d.Save(); err != nil {
					log.Warn("Periodic save failed", "error", err)
				}
			}
		}
	})

	if !c.NoMetrics {
		addr := cfg.Metrics.Addr
		if c.MetricsAddr != "" {
			addr = c.MetricsAddr
		}
		notices, cancelNotices := d.Engine.Subscribe(cfg.Pipeline.QueueSize)
		defer cancelNotices()
		g.Go(func() error {
			m.Watch(gctx, notices)
			return nil
		})
		g.Go(func() error { return metrics.Serve(gctx, addr, reg) })
	}

	if !c.NoWatch && ctx.ConfigFile != "" {
		g.Go(func() error {
			return config.Watch(gctx, ctx.ConfigFile, func(next config.Config) {
				if err := p.Filter().SetConfig(next.Pipeline.Filter); err != nil {
					log.Warn("Ignoring invalid filter config", "error", err)
				}
				if next.Engine.Multiplier != d.Engine.Snapshot().Multiplier {
					if err := d.Engine.SetMultiplier(next.Engine.Multiplier); err != nil {
						log.Warn("Ignoring invalid multiplier", "error", err)
					}
				}
				log.Info("Config reloaded", "path", ctx.ConfigFile)
			})
		})
	}

	ctx.Printf("Serving trip %s day %d (Ctrl+C to stop)\n", c.TripID, d.Engine.Snapshot().DayIndex)
	err = g.Wait()

	if saveErr := d.Save(); saveErr != nil {
		return saveErr
	}
	ctx.Println("✓ Day state saved")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// refresh picks up itinerary edits made by other commands since the last save.
func (c *ServeCmd) refresh(ctx *cli.Context, d *cli.Day, log *charmlog.Logger) {
	it, err := ctx.Store.GetItinerary(c.TripID)
	if err != nil {
		log.Debug("Itinerary refresh failed", "error", err)
		return
	}
	if cur := d.Engine.Itinerary(); cur == nil || it.Version > cur.Version {
		d.Engine.SetItinerary(it)
		log.Info("Itinerary updated", "version", it.Version)
	}
}
