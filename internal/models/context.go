package models

import "time"

type Tone string

const (
	ToneFriendly    Tone = "friendly"
	ToneUrgent      Tone = "urgent"
	ToneCalm        Tone = "calm"
	ToneInformative Tone = "informative"
)

// KnownTones is the closed set a recommendation may use.
var KnownTones = map[Tone]bool{ToneFriendly: true, ToneUrgent: true, ToneCalm: true, ToneInformative: true}

// SlotContext summarises one slot for the pipeline and the recommender.
type SlotContext struct {
	SlotID           string        `json:"slot_id"`
	Name             string        `json:"name"`
	Type             SlotType      `json:"type"`
	Venue            string        `json:"venue,omitempty"`
	VenueType        VenueType     `json:"venue_type,omitempty"`
	Start            string        `json:"start"`
	End              string        `json:"end"`
	State            ActivityState `json:"state"`
	Booked           bool          `json:"booked,omitempty"`
	MinutesRemaining int           `json:"minutes_remaining,omitempty"`
}

// TripContext is what the user needs to know right now, assembled from
// execution state plus external signals.
type TripContext struct {
	TripID              string       `json:"trip_id"`
	DayIndex            int          `json:"day_index"`
	Now                 time.Time    `json:"now"`
	LocalTime           string       `json:"local_time"`
	Timezone            string       `json:"timezone"`
	Running             bool         `json:"running"`
	Paused              bool         `json:"paused,omitempty"`
	Current             *SlotContext `json:"current,omitempty"`
	Next                *SlotContext `json:"next,omitempty"`
	MinutesUntilNext    int          `json:"minutes_until_next"`
	CommuteMin          int          `json:"commute_min"`
	BufferMin           int          `json:"buffer_min"`
	AccumulatedDelayMin int          `json:"accumulated_delay_min"`
	CompletedCount      int          `json:"completed_count"`
	SkippedCount        int          `json:"skipped_count"`
	RemainingCount      int          `json:"remaining_count"`
	Location            *Coordinates `json:"location,omitempty"`
	BookingsAtRisk      []string     `json:"bookings_at_risk,omitempty"`
	Weather             string       `json:"weather,omitempty"`
	TransitDelayMin     int          `json:"transit_delay_min,omitempty"`
	ClosedVenues        []string     `json:"closed_venues,omitempty"`
	StateVersion        uint64       `json:"state_version"`
}

// Recommendation is the validated answer of the action recommender.
type Recommendation struct {
	Analysis   string           `json:"analysis"`
	ShouldShow bool             `json:"shouldShow"`
	ShowReason string           `json:"showReason"`
	Message    string           `json:"message"`
	Tone       Tone             `json:"tone"`
	Actions    []ResponseAction `json:"actions"`
}
