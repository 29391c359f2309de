package geo

import (
	"time"

	"github.com/julianstephens/wayfare/internal/models"
)

type EventKind string

const (
	EventEnter EventKind = "enter"
	EventExit  EventKind = "exit"
	EventDwell EventKind = "dwell"
)

// Event is one geofence signal.
type Event struct {
	Kind     EventKind     `json:"kind"`
	FenceID  string        `json:"fence_id"`
	SlotID   string        `json:"slot_id"`
	Distance float64       `json:"distance_m"`
	Dwell    time.Duration `json:"dwell,omitempty"`
	At       time.Time     `json:"at"`
}

type Options struct {
	// LoiterDelay is how long a point must stay inside a fence before the
	// enter is emitted. Zero emits immediately.
	LoiterDelay time.Duration
	// DwellAfter emits a single dwell event once a visit lasts this long.
	// Zero disables dwell events.
	DwellAfter time.Duration
}

// Evaluator remembers the last active fence so each physical visit yields
// exactly one enter and one exit. It is not safe for concurrent use.
type Evaluator struct {
	fences []Geofence
	opts   Options

	active      string
	activeSince time.Time
	dwelled     bool

	candidate      string
	candidateSince time.Time
}

func NewEvaluator(fences []Geofence, opts Options) *Evaluator {
	return &Evaluator{fences: append([]Geofence(nil), fences...), opts: opts}
}

// Active returns the id of the fence the user is currently inside.
func (e *Evaluator) Active() string { return e.active }

func (e *Evaluator) Fences() []Geofence { return append([]Geofence(nil), e.fences...) }

// Fence returns the fence with the given id.
func (e *Evaluator) Fence(id string) (Geofence, bool) {
	for _, g := range e.fences {
		if g.ID == id {
			return g, true
		}
	}
	return Geofence{}, false
}

// Reset forgets the active fence without emitting an exit.
func (e *Evaluator) Reset() {
	e.active = ""
	e.dwelled = false
	e.candidate = ""
}

func (e *Evaluator) State() models.GeofenceState {
	return models.GeofenceState{
		Active:         e.active,
		ActiveSince:    e.activeSince,
		Dwelled:        e.dwelled,
		Candidate:      e.candidate,
		CandidateSince: e.candidateSince,
	}
}

// SetState resumes from a saved state without emitting events. Fences that
// no longer exist are forgotten.
func (e *Evaluator) SetState(st models.GeofenceState) {
	e.Reset()
	if _, ok := e.Fence(st.Active); ok {
		e.active, e.activeSince, e.dwelled = st.Active, st.ActiveSince, st.Dwelled
	}
	if _, ok := e.Fence(st.Candidate); ok {
		e.candidate, e.candidateSince = st.Candidate, st.CandidateSince
	}
}

// Update evaluates a new location and returns the events it produced, in order.
func (e *Evaluator) Update(p models.Coordinates, at time.Time) []Event {
	cur, dist := e.nearest(p)

	if cur == e.active {
		e.candidate = ""
		if cur != "" && !e.dwelled && e.opts.DwellAfter > 0 && at.Sub(e.activeSince) >= e.opts.DwellAfter {
			e.dwelled = true
			g, _ := e.Fence(cur)
			return []Event{{Kind: EventDwell, FenceID: cur, SlotID: g.SlotID, Distance: dist, Dwell: at.Sub(e.activeSince), At: at}}
		}
		return nil
	}

	var events []Event
	if e.active != "" {
		g, _ := e.Fence(e.active)
		events = append(events, Event{Kind: EventExit, FenceID: g.ID, SlotID: g.SlotID, Distance: Distance(g.Center, p), At: at})
		e.active = ""
		e.dwelled = false
	}
	if cur == "" {
		e.candidate = ""
		return events
	}

	since := at
	if e.opts.LoiterDelay > 0 {
		if e.candidate != cur {
			e.candidate = cur
			e.candidateSince = at
			return events
		}
		if at.Sub(e.candidateSince) < e.opts.LoiterDelay {
			return events
		}
		since = e.candidateSince
	}

	g, _ := e.Fence(cur)
	e.active = cur
	e.activeSince = since
	e.candidate = ""
	events = append(events, Event{Kind: EventEnter, FenceID: cur, SlotID: g.SlotID, Distance: dist, At: at})
	return events
}

// nearest returns the closest fence containing p.
func (e *Evaluator) nearest(p models.Coordinates) (string, float64) {
	best := ""
	bestDist := 0.0
	for _, g := range e.fences {
		d := Distance(g.Center, p)
		if d > g.Radius {
			continue
		}
		if best == "" || d < bestDist {
			best = g.ID
			bestDist = d
		}
	}
	return best, bestDist
}
