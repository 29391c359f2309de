// Package lifecycle holds the per-slot activity state machine for one executing day.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/wayfare/internal/models"
)

var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrWrongDay          = errors.New("slot is not in the active day")
	ErrUnknownSlot       = errors.New("unknown slot")
)

var allowed = map[models.ActivityState][]models.ActivityState{
	models.StateUpcoming: {
		models.StatePending, models.StateEnRoute, models.StateArrived, models.StateInProgress,
		models.StateSkipped, models.StateDeferred, models.StateReplaced,
	},
	models.StatePending: {
		models.StateEnRoute, models.StateArrived, models.StateInProgress,
		models.StateSkipped, models.StateDeferred, models.StateReplaced,
	},
	models.StateEnRoute: {
		models.StateArrived, models.StateInProgress, models.StatePending,
		models.StateSkipped, models.StateDeferred, models.StateReplaced,
	},
	models.StateArrived: {
		models.StateInProgress, models.StatePending, models.StateCompleted,
		models.StateSkipped, models.StateDeferred, models.StateReplaced,
	},
	models.StateInProgress: {models.StateExtended, models.StateCompleted, models.StateSkipped},
	models.StateExtended:   {models.StateInProgress, models.StateCompleted, models.StateSkipped},
}

// CanTransition reports whether from → to is a legal change.
func CanTransition(from, to models.ActivityState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine tracks the executions of a single day. It is not safe for
// concurrent use; the execution engine serialises access.
type Machine struct {
	dayIndex int
	order    []string
	execs    map[string]*models.ActivityExecution
}

// New builds a machine over the given executions, in slot order.
func New(dayIndex int, execs []models.ActivityExecution) *Machine {
	m := &Machine{
		dayIndex: dayIndex,
		order:    make([]string, 0, len(execs)),
		execs:    make(map[string]*models.ActivityExecution, len(execs)),
	}
	for _, e := range execs {
		e := e.Clone()
		e.DayIndex = dayIndex
		m.order = append(m.order, e.SlotID)
		m.execs[e.SlotID] = &e
	}
	return m
}

func (m *Machine) DayIndex() int { return m.dayIndex }

// Order returns slot ids in schedule order.
func (m *Machine) Order() []string { return append([]string(nil), m.order...) }

// Get returns a copy of the execution for a slot.
func (m *Machine) Get(slotID string) (models.ActivityExecution, bool) {
	e, ok := m.execs[slotID]
	if !ok {
		return models.ActivityExecution{}, false
	}
	return e.Clone(), true
}

func (m *Machine) State(slotID string) (models.ActivityState, bool) {
	e, ok := m.execs[slotID]
	if !ok {
		return "", false
	}
	return e.State, true
}

// Executions returns copies of every execution in schedule order.
func (m *Machine) Executions() []models.ActivityExecution {
	out := make([]models.ActivityExecution, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.execs[id].Clone())
	}
	return out
}

// Edit applies fn to a slot's execution without changing its state.
func (m *Machine) Edit(slotID string, fn func(*models.ActivityExecution)) error {
	e, ok := m.execs[slotID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
	}
	state := e.State
	fn(e)
	e.State = state
	return nil
}

// Fire moves a slot to a new state. dayIndex is the day the caller believes
// the slot belongs to; changes to any day but the active one are refused.
func (m *Machine) Fire(dayIndex int, slotID string, to models.ActivityState, trigger models.Trigger, at time.Time) (models.Transition, error) {
	if dayIndex != m.dayIndex {
		return models.Transition{}, fmt.Errorf("%w: slot %s is on day %d, active day is %d", ErrWrongDay, slotID, dayIndex, m.dayIndex)
	}
	e, ok := m.execs[slotID]
	if !ok {
		return models.Transition{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
	}
	from := e.State
	if !CanTransition(from, to) {
		return models.Transition{}, fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, slotID, from, to)
	}

	stamp := at
	switch to {
	case models.StateArrived:
		e.ArrivedAt = &stamp
	case models.StateInProgress:
		if e.ActualStart == nil {
			e.ActualStart = &stamp
		}
		if e.ArrivedAt == nil {
			e.ArrivedAt = &stamp
		}
	case models.StateCompleted:
		if e.ActualStart == nil {
			e.ActualStart = e.ArrivedAt
		}
		e.ActualEnd = &stamp
	case models.StateSkipped, models.StateDeferred, models.StateReplaced:
		if from.IsStarted() {
			e.ActualEnd = &stamp
		}
	}
	e.State = to

	return models.Transition{
		SlotID:   slotID,
		DayIndex: m.dayIndex,
		From:     from,
		To:       to,
		Trigger:  trigger,
		At:       at,
	}, nil
}

// Focus returns the slot currently holding the day's focus: the first slot
// in an active state, or failing that the first upcoming one.
func (m *Machine) Focus() (string, bool) {
	for _, id := range m.order {
		if m.execs[id].State.IsActive() {
			return id, true
		}
	}
	for _, id := range m.order {
		if m.execs[id].State == models.StateUpcoming {
			return id, true
		}
	}
	return "", false
}

// Next returns the first non-terminal slot after slotID.
func (m *Machine) Next(slotID string) (string, bool) {
	seen := false
	for _, id := range m.order {
		if seen && !m.execs[id].State.IsTerminal() {
			return id, true
		}
		if id == slotID {
			seen = true
		}
	}
	return "", false
}

// Index returns the schedule position of slotID.
func (m *Machine) Index(slotID string) int {
	for i, id := range m.order {
		if id == slotID {
			return i
		}
	}
	return -1
}

// Counts returns completed and skipped totals.
func (m *Machine) Counts() (completed, skipped int) {
	for _, e := range m.execs {
		switch e.State {
		case models.StateCompleted:
			completed++
		case models.StateSkipped:
			skipped++
		}
	}
	return completed, skipped
}

// Done reports whether every slot reached a terminal state.
func (m *Machine) Done() bool {
	for _, e := range m.execs {
		if !e.State.IsTerminal() {
			return false
		}
	}
	return true
}
