package constraints

import (
	"math"
	"sort"

	"github.com/julianstephens/wayfare/internal/models"
)

// Rigidity scores how resistant a slot is to being moved or removed.
//
//	locked or booking-fixed  1.0
//	anchor                   0.9
//	clustered                0.7
//	travel                   0.6
//	meal                     0.5
//	flex                     0.4 (+0.1 with dependencies, +0.1 if weather-sensitive)
//	optional                 0.1
func Rigidity(s models.Slot) float64 {
	switch {
	case s.IsLocked, s.Fragility.IsBookingFixed():
		return 1.0
	case s.Behavior == models.BehaviorAnchor:
		return 0.9
	case s.ClusterID != "" && s.Behavior != models.BehaviorOptional:
		return 0.7
	}
	switch s.Behavior {
	case models.BehaviorTravel:
		return 0.6
	case models.BehaviorMeal:
		return 0.5
	case models.BehaviorOptional:
		return 0.1
	}
	r := 0.4
	if len(s.DependsOn) > 0 {
		r += 0.1
	}
	if s.Fragility != nil && s.Fragility.WeatherSensitive {
		r += 0.1
	}
	return math.Round(r*10) / 10
}

// BehaviorForRigidity picks the behavior matching a prioritise/deprioritise
// request so rigidity and behavior always move together.
func BehaviorForRigidity(r float64, current models.Behavior) models.Behavior {
	switch {
	case r >= 0.9:
		return models.BehaviorAnchor
	case r <= 0.2:
		return models.BehaviorOptional
	}
	if current == models.BehaviorAnchor || current == models.BehaviorOptional {
		return models.BehaviorFlex
	}
	return current
}

// SortSlots orders slots by canonical category. Slots of the same category
// keep their relative order. Clock time is never consulted.
func SortSlots(slots []models.Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Type.Rank() < slots[j].Type.Rank()
	})
}
