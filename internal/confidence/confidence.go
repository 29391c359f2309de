// Package confidence scores how sure we are that an activity has finished.
package confidence

import "time"

type Recommendation string

const (
	AutoComplete Recommendation = "auto_complete"
	AskUser      Recommendation = "ask_user"
	Wait         Recommendation = "wait"
)

// Thresholds
const (
	AutoCompleteThreshold = 70
	AskUserThreshold      = 50
	MaxScore              = 100
)

// Signal weights
const (
	WeightUserAction     = 100
	WeightArrivedAtNext  = 40
	WeightLeftGeofence   = 35
	WeightPastEnd        = 15
	WeightDwell          = 20
	WeightLeavingMessage = 45
	WeightPayment        = 25
	WeightPhoto          = 10

	dwellRatio = 0.7
)

// Signals is everything known about one slot when deciding completion.
type Signals struct {
	Now                time.Time
	SlotStart          time.Time
	SlotEnd            time.Time
	PlannedDurationMin int

	AtVenue            bool
	LeftGeofence       bool
	ArrivedAtNextVenue bool
	DwellMin           float64

	UserConfirmed bool
	UserSkipped   bool
	// LeavingMessage is set when the user says something like "I'm leaving".
	LeavingMessage bool

	PaymentDetected   bool
	PhotoWithLocation bool
}

type Result struct {
	Score          int            `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
	Reasons        []string       `json:"reasons,omitempty"`
}

// Score adds the weights of every present signal, capped at MaxScore.
func Score(s Signals) Result {
	score := 0
	var reasons []string
	add := func(w int, reason string) {
		score += w
		reasons = append(reasons, reason)
	}

	if s.UserConfirmed || s.UserSkipped {
		add(WeightUserAction, "explicit user action")
	}
	if s.ArrivedAtNextVenue {
		add(WeightArrivedAtNext, "arrived at next venue")
	}
	if s.LeftGeofence && !s.AtVenue {
		add(WeightLeftGeofence, "left venue geofence")
	}
	if !s.SlotEnd.IsZero() && s.Now.After(s.SlotEnd) {
		add(WeightPastEnd, "past scheduled end")
	}
	if s.PlannedDurationMin > 0 && s.DwellMin >= dwellRatio*float64(s.PlannedDurationMin) {
		add(WeightDwell, "dwelled most of planned duration")
	}
	if s.LeavingMessage {
		add(WeightLeavingMessage, "user said they are leaving")
	}
	if s.PaymentDetected {
		add(WeightPayment, "payment detected")
	}
	if s.PhotoWithLocation {
		add(WeightPhoto, "photo taken at venue")
	}

	if score > MaxScore {
		score = MaxScore
	}
	return Result{Score: score, Recommendation: Recommend(score), Reasons: reasons}
}

// Recommend maps a score onto a recommendation.
func Recommend(score int) Recommendation {
	switch {
	case score >= AutoCompleteThreshold:
		return AutoComplete
	case score >= AskUserThreshold:
		return AskUser
	default:
		return Wait
	}
}
