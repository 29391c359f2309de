package models

import "time"

type ActivityState string

const (
	StateUpcoming   ActivityState = "upcoming"
	StatePending    ActivityState = "pending"
	StateEnRoute    ActivityState = "en_route"
	StateArrived    ActivityState = "arrived"
	StateInProgress ActivityState = "in_progress"
	StateExtended   ActivityState = "extended"
	StateCompleted  ActivityState = "completed"
	StateSkipped    ActivityState = "skipped"
	StateDeferred   ActivityState = "deferred"
	StateReplaced   ActivityState = "replaced"
)

func (s ActivityState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateSkipped, StateDeferred, StateReplaced:
		return true
	}
	return false
}

// IsActive reports whether the slot currently holds the day's focus.
func (s ActivityState) IsActive() bool {
	switch s {
	case StatePending, StateEnRoute, StateArrived, StateInProgress, StateExtended:
		return true
	}
	return false
}

// IsStarted reports whether the activity itself is under way.
func (s ActivityState) IsStarted() bool {
	return s == StateInProgress || s == StateExtended
}

// Trigger names what caused a lifecycle transition.
type Trigger string

const (
	TriggerTimeThreshold Trigger = "time_threshold"
	TriggerGeofenceEnter Trigger = "geofence_enter"
	TriggerGeofenceExit  Trigger = "geofence_exit"
	TriggerGeofenceDwell Trigger = "geofence_dwell"
	TriggerCheckIn       Trigger = "check_in"
	TriggerCheckOut      Trigger = "check_out"
	TriggerSkip          Trigger = "skip"
	TriggerExtend        Trigger = "extend"
	TriggerAutoComplete  Trigger = "auto_complete"
	TriggerDefer         Trigger = "defer"
	TriggerReplace       Trigger = "replace"
	TriggerFocus         Trigger = "focus"
	TriggerSuperseded    Trigger = "superseded"
)

// ActivityExecution is the live-tracking counterpart of a slot.
type ActivityExecution struct {
	SlotID         string        `json:"slot_id"`
	DayIndex       int           `json:"day_index"`
	State          ActivityState `json:"state"`
	ScheduledStart time.Time     `json:"scheduled_start"`
	ScheduledEnd   time.Time     `json:"scheduled_end"`
	ActualStart    *time.Time    `json:"actual_start,omitempty"`
	ActualEnd      *time.Time    `json:"actual_end,omitempty"`
	ArrivedAt      *time.Time    `json:"arrived_at,omitempty"`
	DepartedAt     *time.Time    `json:"departed_at,omitempty"`
	ExtendedMin    int           `json:"extended_min,omitempty"`
	ShortenedMin   int           `json:"shortened_min,omitempty"`
	Rating         *int          `json:"rating,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	Reason         string        `json:"reason,omitempty"`
}

// PlannedDurationMin is the scheduled length including extensions.
func (e ActivityExecution) PlannedDurationMin() int {
	return int(e.ScheduledEnd.Sub(e.ScheduledStart).Minutes())
}

func (e ActivityExecution) Clone() ActivityExecution {
	out := e
	out.ActualStart = cloneTime(e.ActualStart)
	out.ActualEnd = cloneTime(e.ActualEnd)
	out.ArrivedAt = cloneTime(e.ArrivedAt)
	out.DepartedAt = cloneTime(e.DepartedAt)
	if e.Rating != nil {
		r := *e.Rating
		out.Rating = &r
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Transition is the observable record of one lifecycle change.
type Transition struct {
	SlotID   string        `json:"slot_id"`
	DayIndex int           `json:"day_index"`
	From     ActivityState `json:"from"`
	To       ActivityState `json:"to"`
	Trigger  Trigger       `json:"trigger"`
	At       time.Time     `json:"at"`
}

// ExecutionState is the read-only snapshot of the day being executed.
type ExecutionState struct {
	TripID              string                   `json:"trip_id"`
	DayIndex            int                      `json:"day_index"`
	Running             bool                     `json:"running"`
	Now                 time.Time                `json:"now"`
	Multiplier          float64                  `json:"multiplier"`
	Paused              bool                     `json:"paused"`
	PauseReason         string                   `json:"pause_reason,omitempty"`
	SlotStates          map[string]ActivityState `json:"slot_states"`
	LockedSlots         map[string]bool          `json:"locked_slots"`
	Location            *Coordinates             `json:"location,omitempty"`
	AccumulatedDelayMin int                      `json:"accumulated_delay_min"`
	CompletedCount      int                      `json:"completed_count"`
	SkippedCount        int                      `json:"skipped_count"`
	FocusSlotID         string                   `json:"focus_slot_id,omitempty"`
	Version             uint64                   `json:"version"`
}

// ExecutionRecord is the flat persisted form of an in-progress day, enough
// to rebuild the engine after a restart.
type ExecutionRecord struct {
	TripID              string                   `json:"trip_id"`
	DayIndex            int                      `json:"day_index"`
	SimulatedTime       time.Time                `json:"simulated_time"`
	Multiplier          float64                  `json:"multiplier"`
	Paused              bool                     `json:"paused"`
	PauseReason         string                   `json:"pause_reason,omitempty"`
	SlotStates          map[string]ActivityState `json:"slot_states"`
	LockedSlots         []string                 `json:"locked_slots"`
	AccumulatedDelayMin int                      `json:"accumulated_delay_min"`
	FocusSlotID         string                   `json:"focus_slot_id,omitempty"`
	CompletedCount      int                      `json:"completed_count"`
	SkippedCount        int                      `json:"skipped_count"`
	Location            *Coordinates             `json:"location,omitempty"`
	Geofence            *GeofenceState           `json:"geofence,omitempty"`
	Executions          []ActivityExecution      `json:"executions"`
	SavedAt             time.Time                `json:"saved_at"`
}

// GeofenceState is what the fence evaluator remembers between location
// updates: the fence the user is inside and since when, and a fence they
// are loitering at before entry counts.
type GeofenceState struct {
	Active         string    `json:"active,omitempty"`
	ActiveSince    time.Time `json:"active_since,omitempty"`
	Dwelled        bool      `json:"dwelled,omitempty"`
	Candidate      string    `json:"candidate,omitempty"`
	CandidateSince time.Time `json:"candidate_since,omitempty"`
}
