package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/models"
)

type MonitorConfig struct {
	StartOffset time.Duration `yaml:"start_offset"`
	EndOffset   time.Duration `yaml:"end_offset"`
	LateGrace   time.Duration `yaml:"late_grace"`
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StartOffset: constants.DefaultStartOffsetMin * time.Minute,
		EndOffset:   constants.DefaultEndOffsetMin * time.Minute,
		LateGrace:   constants.DefaultLateGraceMin * time.Minute,
	}
}

// TimeMonitor turns the engine clock into time-based events. Each
// notification fires once; an extension moves the end and re-arms the
// ending reminder. A check that runs late still fires what came due since
// the last one.
type TimeMonitor struct {
	src StateSource
	cfg MonitorConfig

	mu    sync.Mutex
	day   string
	fired map[string]bool
}

func NewTimeMonitor(src StateSource, cfg MonitorConfig) *TimeMonitor {
	if cfg.LateGrace <= 0 {
		cfg.LateGrace = constants.DefaultLateGraceMin * time.Minute
	}
	return &TimeMonitor{src: src, cfg: cfg, fired: make(map[string]bool)}
}

// Check returns the events due at the engine's current time.
func (m *TimeMonitor) Check() []models.QueuedEvent {
	st := m.src.Snapshot()
	if !st.Running {
		return nil
	}
	it := m.src.Itinerary()
	if it == nil || !it.HasDay(st.DayIndex) {
		return nil
	}
	day := it.Days[st.DayIndex]
	execs := m.src.Executions()
	now := st.Now

	m.mu.Lock()
	defer m.mu.Unlock()
	if key := st.TripID + "/" + strconv.Itoa(st.DayIndex); key != m.day {
		m.day = key
		m.fired = make(map[string]bool)
	}

	var out []models.QueuedEvent
	if !m.fired["briefing"] && st.CompletedCount+st.SkippedCount == 0 {
		m.fired["briefing"] = true
		out = append(out, briefing(day, execs, now))
	}

	for _, x := range execs {
		if x.State.IsTerminal() {
			continue
		}
		i, ok := day.FindSlot(x.SlotID)
		if !ok {
			continue
		}
		slot := day.Slots[i]
		name := slot.Name()
		started := x.State.IsStarted()

		switch {
		case started:
			key := "end:" + x.SlotID + "@" + x.ScheduledEnd.Format(constants.TimeFormat)
			if !m.fired[key] && due(now, x.ScheduledEnd, m.cfg.EndOffset) {
				m.fired[key] = true
				out = append(out, ending(slot, x, name, now))
			}
		case now.After(x.ScheduledStart.Add(m.cfg.LateGrace)) && x.State != models.StateArrived:
			if key := "late:" + x.SlotID; !m.fired[key] {
				m.fired[key] = true
				out = append(out, late(slot, x, name, now))
			}
		default:
			if key := "start:" + x.SlotID; !m.fired[key] && due(now, x.ScheduledStart, m.cfg.StartOffset) {
				m.fired[key] = true
				out = append(out, starting(slot, x, name, now))
			}
		}
	}
	return out
}

// due reports whether now has reached at-offset.
func due(now, at time.Time, offset time.Duration) bool {
	return !now.Before(at.Add(-offset))
}

// minutesUntil rounds up, so a reminder never reads "0 min".
func minutesUntil(now, at time.Time) int {
	return int(math.Ceil(at.Sub(now).Minutes()))
}

func briefing(day models.Day, execs []models.ActivityExecution, now time.Time) models.QueuedEvent {
	msg := fmt.Sprintf("Day %d: %d activities planned", day.Index+1, len(execs))
	if day.City != "" {
		msg = fmt.Sprintf("Day %d in %s: %d activities planned", day.Index+1, day.City, len(execs))
	}
	if len(execs) > 0 {
		if i, ok := day.FindSlot(execs[0].SlotID); ok {
			msg += fmt.Sprintf(", starting with %s at %s", day.Slots[i].Name(), execs[0].ScheduledStart.Format(constants.TimeFormat))
		}
	}
	ev := models.NewEvent(models.EventMorningBriefing, models.PriorityNormal, msg, now)
	ev.Source = "monitor"
	return ev
}

func starting(slot models.Slot, x models.ActivityExecution, name string, now time.Time) models.QueuedEvent {
	msg := fmt.Sprintf("Starting now: %s (%s)", name, x.ScheduledStart.Format(constants.TimeFormat))
	if now.Before(x.ScheduledStart) {
		msg = fmt.Sprintf("Upcoming: %s starts in %d min (%s)", name, minutesUntil(now, x.ScheduledStart), x.ScheduledStart.Format(constants.TimeFormat))
	}
	ev := slotEvent(models.EventActivityStarting, models.PriorityNormal, msg, slot.ID, now)
	ev.Actions = []models.ResponseAction{
		models.NewAction(models.ActionNavigate, "Navigate", slot.ID),
		models.NewAction(models.ActionCheckIn, "I'm Here", slot.ID),
	}
	return ev
}

func ending(slot models.Slot, x models.ActivityExecution, name string, now time.Time) models.QueuedEvent {
	end := x.ScheduledEnd.Format(constants.TimeFormat)
	msg := fmt.Sprintf("Ending now: %s (%s)", name, end)
	switch {
	case now.After(x.ScheduledEnd.Add(time.Minute)):
		msg = fmt.Sprintf("Over time: %s was due to end at %s", name, end)
	case now.Before(x.ScheduledEnd):
		msg = fmt.Sprintf("Ending soon: %s ends in %d min (%s)", name, minutesUntil(now, x.ScheduledEnd), end)
	}
	ev := slotEvent(models.EventActivityEnding, models.PriorityNormal, msg, slot.ID, now)
	ev.Actions = []models.ResponseAction{
		models.NewAction(models.ActionCheckOut, "Done", slot.ID),
		models.NewAction(models.ActionExtend, "Stay Longer", slot.ID),
	}
	return ev
}

func late(slot models.Slot, x models.ActivityExecution, name string, now time.Time) models.QueuedEvent {
	p := models.PriorityHigh
	if slot.Fragility.IsBookingFixed() {
		p = models.PriorityUrgent
	}
	behind := int(now.Sub(x.ScheduledStart).Minutes())
	ev := slotEvent(models.EventRunningLate, p,
		fmt.Sprintf("Running late: %s was due at %s (%d min ago)", name, x.ScheduledStart.Format(constants.TimeFormat), behind),
		slot.ID, now)
	ev.Actions = []models.ResponseAction{
		models.NewAction(models.ActionNavigate, "Navigate", slot.ID),
		models.NewAction(models.ActionReschedule, "Reschedule", slot.ID),
		models.NewAction(models.ActionSkip, "Skip", slot.ID),
	}
	if p == models.PriorityUrgent {
		ev.Actions = append(ev.Actions, models.NewAction(models.ActionOpenBooking, "Open Booking", slot.ID))
	}
	return ev
}

func slotEvent(t models.EventType, p models.Priority, msg, slotID string, now time.Time) models.QueuedEvent {
	ev := models.NewEvent(t, p, msg, now)
	ev.SlotID = slotID
	ev.Source = "monitor"
	ev.GroupKey = "slot:" + slotID
	return ev
}
