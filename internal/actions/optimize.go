package actions

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/julianstephens/wayfare/internal/constraints"
	"github.com/julianstephens/wayfare/internal/models"
)

// SuggestionType names the kind of change an optimization proposes
type SuggestionType string

const (
	SuggestShiftLater     SuggestionType = "shift_later"
	SuggestResolveOverlap SuggestionType = "resolve_overlap"
	SuggestDropOptional   SuggestionType = "remove_optional"
	SuggestMoveToLighter  SuggestionType = "move_to_lighter_day"
	SuggestLockBooking    SuggestionType = "lock_booking"
)

// Suggestion is a proposed change. Intent is ready to pass to Execute.
type Suggestion struct {
	SlotID         string         `json:"slot_id"`
	SlotName       string         `json:"slot_name"`
	DayIndex       int            `json:"day_index"`
	Type           SuggestionType `json:"type"`
	Reason         string         `json:"reason"`
	CurrentValue   interface{}    `json:"current_value,omitempty"`
	SuggestedValue interface{}    `json:"suggested_value,omitempty"`
	Intent         *Intent        `json:"intent,omitempty"`
}

// Optimize inspects the itinerary and returns suggestions without changing it.
func (x *Executor) Optimize(it *models.Itinerary) ([]Suggestion, constraints.Analysis) {
	analysis := x.constraints.Validate(it)
	var out []Suggestion

	// Silent travel adjustments the engine would make on the next edit.
	for _, adj := range analysis.Adjustments {
		di, si, s, err := findSlot(it, adj.SlotID)
		if err != nil {
			continue
		}
		out = append(out, Suggestion{
			SlotID: s.ID, SlotName: s.Name(), DayIndex: di, Type: SuggestShiftLater,
			Reason:         adj.Reason,
			CurrentValue:   s.Start,
			SuggestedValue: adj.Start,
			Intent:         &Intent{Type: IntentMove, SlotID: s.ID, DayIndex: di, Start: adj.Start, Position: ptr(si), BaseVersion: it.Version},
		})
	}

	for _, v := range analysis.InLayer(constraints.LayerTemporal) {
		if v.OtherID == "" {
			continue
		}
		di, si, s, err := findSlot(it, v.SlotID)
		if err != nil || s.IsLocked {
			continue
		}
		other, ok := it.Slot(v.OtherID)
		if !ok {
			continue
		}
		out = append(out, Suggestion{
			SlotID: s.ID, SlotName: s.Name(), DayIndex: di, Type: SuggestResolveOverlap,
			Reason:         v.Message,
			CurrentValue:   s.Start,
			SuggestedValue: other.End,
			Intent:         &Intent{Type: IntentMove, SlotID: s.ID, DayIndex: di, Start: other.End, Position: ptr(si), BaseVersion: it.Version},
		})
	}

	out = append(out, x.pacingSuggestions(it)...)

	for di, d := range it.Days {
		for _, s := range d.Slots {
			if s.IsLocked || s.Fragility == nil || !s.Fragility.BookingRequired {
				continue
			}
			out = append(out, Suggestion{
				SlotID: s.ID, SlotName: s.Name(), DayIndex: di, Type: SuggestLockBooking,
				Reason:         "booked activities should not move by accident",
				CurrentValue:   false,
				SuggestedValue: true,
				Intent:         &Intent{Type: IntentLock, SlotID: s.ID, BaseVersion: it.Version},
			})
		}
	}
	return out, analysis
}

// pacingSuggestions relieves days above the density ceiling, dropping an
// optional slot first and otherwise moving the least rigid slot to the
// lightest day.
func (x *Executor) pacingSuggestions(it *models.Itinerary) []Suggestion {
	cfg := x.constraints.Config()
	count := func(d models.Day) int {
		return lo.CountBy(d.Slots, func(s models.Slot) bool { return s.Behavior != models.BehaviorTravel })
	}

	var out []Suggestion
	for di, d := range it.Days {
		n := count(d)
		if n <= cfg.Ceiling() {
			continue
		}
		candidates := lo.Filter(d.Slots, func(s models.Slot, _ int) bool {
			return !s.IsLocked && s.Behavior != models.BehaviorTravel && s.Behavior != models.BehaviorMeal
		})
		if len(candidates) == 0 {
			continue
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return constraints.Rigidity(candidates[i]) < constraints.Rigidity(candidates[j])
		})
		pick := candidates[0]
		reason := fmt.Sprintf("day %d has %d activities, above the ceiling of %d", di, n, cfg.Ceiling())

		if pick.Behavior == models.BehaviorOptional {
			out = append(out, Suggestion{
				SlotID: pick.ID, SlotName: pick.Name(), DayIndex: di, Type: SuggestDropOptional,
				Reason: reason, CurrentValue: n, SuggestedValue: n - 1,
				Intent: &Intent{Type: IntentRemove, SlotID: pick.ID, BaseVersion: it.Version},
			})
			continue
		}

		lightest, lightestCount := -1, cfg.IdealActivitiesPerDay
		for oi, od := range it.Days {
			if oi == di {
				continue
			}
			if c := count(od); c < lightestCount {
				lightest, lightestCount = oi, c
			}
		}
		if lightest < 0 {
			continue
		}
		out = append(out, Suggestion{
			SlotID: pick.ID, SlotName: pick.Name(), DayIndex: di, Type: SuggestMoveToLighter,
			Reason: reason, CurrentValue: di, SuggestedValue: lightest,
			Intent: &Intent{Type: IntentMove, SlotID: pick.ID, DayIndex: lightest, BaseVersion: it.Version},
		})
	}
	return out
}

func (x *Executor) optimize(it *models.Itinerary) Result {
	suggestions, analysis := x.Optimize(it)
	msg := "No improvements found"
	if len(suggestions) > 0 {
		msg = fmt.Sprintf("Found %d suggestion(s)", len(suggestions))
	}
	return Result{Success: true, Message: msg, Suggestions: suggestions, Analysis: &analysis}
}
