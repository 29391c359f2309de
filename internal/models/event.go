package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventMorningBriefing   EventType = "morning_briefing"
	EventActivityStarting  EventType = "activity_starting"
	EventActivityEnding    EventType = "activity_ending"
	EventDepartureReminder EventType = "departure_reminder"
	EventRunningLate       EventType = "running_late"
	EventConfirmCompletion EventType = "confirm_completion"
	EventWeatherAlert      EventType = "weather_alert"
	EventTransitDelay      EventType = "transit_delay"
	EventVenueClosure      EventType = "venue_closure"
	EventBookingReminder   EventType = "booking_reminder"
	EventGeneral           EventType = "general"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities from low (0) to urgent (3).
func (p Priority) Rank() int {
	switch p {
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	}
	return 0
}

type ActionType string

const (
	ActionConfirm          ActionType = "confirm"
	ActionDismiss          ActionType = "dismiss"
	ActionCheckIn          ActionType = "check_in"
	ActionCheckOut         ActionType = "check_out"
	ActionExtend           ActionType = "extend"
	ActionSkip             ActionType = "skip"
	ActionNavigate         ActionType = "navigate"
	ActionReschedule       ActionType = "reschedule"
	ActionViewAlternatives ActionType = "view_alternatives"
	ActionViewDay          ActionType = "view_day"
	ActionStartDay         ActionType = "start_day"
	ActionSnooze           ActionType = "snooze"
	ActionOpenBooking      ActionType = "open_booking"
)

// KnownActionTypes is the closed set of response actions a surface can render.
var KnownActionTypes = map[ActionType]bool{
	ActionConfirm: true, ActionDismiss: true, ActionCheckIn: true, ActionCheckOut: true,
	ActionExtend: true, ActionSkip: true, ActionNavigate: true, ActionReschedule: true,
	ActionViewAlternatives: true, ActionViewDay: true, ActionStartDay: true,
	ActionSnooze: true, ActionOpenBooking: true,
}

type ResponseAction struct {
	ID      string            `json:"id"`
	Label   string            `json:"label"`
	Type    ActionType        `json:"type"`
	SlotID  string            `json:"slot_id,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
}

// NewAction builds a response action with a fresh id.
func NewAction(t ActionType, label, slotID string) ResponseAction {
	return ResponseAction{ID: uuid.NewString(), Label: label, Type: t, SlotID: slotID}
}

// QueuedEvent is a candidate notification waiting for the event pipeline.
type QueuedEvent struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	Priority  Priority         `json:"priority"`
	Message   string           `json:"message"`
	Tip       string           `json:"tip,omitempty"`
	Actions   []ResponseAction `json:"actions,omitempty"`
	SlotID    string           `json:"slot_id,omitempty"`
	Source    string           `json:"source,omitempty"`
	GroupKey  string           `json:"group_key,omitempty"` // related events share a key for batching
	CreatedAt time.Time        `json:"created_at"`
}

// NewEvent builds a queued event with a fresh id.
func NewEvent(t EventType, p Priority, message string, at time.Time) QueuedEvent {
	return QueuedEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Priority:  p,
		Message:   message,
		CreatedAt: at,
	}
}

func (e QueuedEvent) Clone() QueuedEvent {
	out := e
	if e.Actions != nil {
		out.Actions = make([]ResponseAction, len(e.Actions))
		for i, a := range e.Actions {
			out.Actions[i] = a
			if a.Payload != nil {
				p := make(map[string]string, len(a.Payload))
				for k, v := range a.Payload {
					p[k] = v
				}
				out.Actions[i].Payload = p
			}
		}
	}
	return out
}
