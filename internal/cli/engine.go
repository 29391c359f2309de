package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/execution"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/storage"
	"github.com/julianstephens/wayfare/internal/utils"
)

const noticeBuffer = 1024

// Day is an engine restored from storage for the length of one command.
// Transitions it emits are appended to the transition log on Save.
type Day struct {
	Engine *execution.Engine
	TripID string

	ctx     *Context
	notices <-chan execution.Notice
	cancel  func()
	events  []models.QueuedEvent
}

// StartDay begins executing dayIndex of a stored trip at its first slot.
// at is the HH:MM the simulated clock starts from; empty means now.
func (c *Context) StartDay(tripID string, dayIndex int, at string) (*Day, error) {
	it, err := c.LoadTrip(tripID)
	if err != nil {
		return nil, err
	}
	cfg, err := c.ExecutionConfig(it)
	if err != nil {
		return nil, err
	}
	eng := execution.New(cfg)
	start := time.Now()
	if at != "" {
		if !it.HasDay(dayIndex) {
			return nil, fmt.Errorf("%w: %d", execution.ErrDayOutOfRange, dayIndex)
		}
		date := it.Days[dayIndex].Date
		if date == "" {
			date = start.Format(constants.DateFormat)
		}
		if start, err = utils.CombineDateAndTime(date, at, cfg.Location); err != nil {
			return nil, fmt.Errorf("invalid start time %q: %w", at, err)
		}
	}
	d := c.attach(tripID, eng)
	if _, err := eng.StartAt(tripID, it, dayIndex, start); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// OpenDay restores the day in progress for tripID.
func (c *Context) OpenDay(tripID string) (*Day, error) {
	rec, err := c.Store.GetExecutionRecord(tripID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("no day in progress for trip %s, run 'wayfare exec start' first", tripID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution record: %w", err)
	}
	it, err := c.LoadTrip(tripID)
	if err != nil {
		return nil, err
	}
	cfg, err := c.ExecutionConfig(it)
	if err != nil {
		return nil, err
	}
	eng := execution.New(cfg)
	if err := eng.Restore(rec, it); err != nil {
		return nil, fmt.Errorf("failed to restore day %d: %w", rec.DayIndex, err)
	}
	// subscribe after restoring so the restore itself is not logged again
	return c.attach(tripID, eng), nil
}

func (c *Context) attach(tripID string, eng *execution.Engine) *Day {
	notices, cancel := eng.Subscribe(noticeBuffer)
	return &Day{Engine: eng, TripID: tripID, ctx: c, notices: notices, cancel: cancel}
}

// Events returns the queued events the engine raised so far.
func (d *Day) Events() []models.QueuedEvent {
	d.drain()
	return d.events
}

func (d *Day) drain() {
	for {
		select {
		case n, ok := <-d.notices:
			if !ok {
				return
			}
			d.handle(n)
		default:
			return
		}
	}
}

func (d *Day) handle(n execution.Notice) {
	switch n.Kind {
	case execution.NoticeTransition:
		if n.Transition == nil {
			return
		}
		if err := d.ctx.Store.AppendTransition(d.TripID, *n.Transition); err != nil {
			logger.Warn("Failed to log transition", "trip", d.TripID, "slot", n.Transition.SlotID, "error", err)
		}
	case execution.NoticeEvent:
		if n.Event != nil {
			d.events = append(d.events, *n.Event)
		}
	}
}

// Save logs pending transitions and persists the execution record.
func (d *Day) Save() error {
	d.drain()
	rec, err := d.Engine.Record()
	if err != nil {
		return err
	}
	if err := d.ctx.Store.SaveExecutionRecord(rec); err != nil {
		return fmt.Errorf("failed to save execution record: %w", err)
	}
	return nil
}

func (d *Day) Close() {
	d.drain()
	d.cancel()
}
