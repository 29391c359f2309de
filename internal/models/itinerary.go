package models

import (
	"fmt"
	"time"

	"github.com/julianstephens/wayfare/internal/utils"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationSample is one fix from the location feed.
type LocationSample struct {
	Coordinates
	Accuracy  float64   `json:"accuracy"` // metres
	Timestamp time.Time `json:"timestamp"`
}

type SlotType string

const (
	SlotMorning   SlotType = "morning"
	SlotBreakfast SlotType = "breakfast"
	SlotLunch     SlotType = "lunch"
	SlotAfternoon SlotType = "afternoon"
	SlotDinner    SlotType = "dinner"
	SlotEvening   SlotType = "evening"
)

// SlotTypeOrder is the canonical display order of slot categories. Slots are
// ordered by category, never by clock time, so custom times cannot reorder a day.
var SlotTypeOrder = []SlotType{SlotMorning, SlotBreakfast, SlotLunch, SlotAfternoon, SlotDinner, SlotEvening}

// Rank returns the position of t in SlotTypeOrder; unknown types sort last.
func (t SlotType) Rank() int {
	for i, st := range SlotTypeOrder {
		if st == t {
			return i
		}
	}
	return len(SlotTypeOrder)
}

func (t SlotType) IsMeal() bool {
	return t == SlotBreakfast || t == SlotLunch || t == SlotDinner
}

type Behavior string

const (
	BehaviorAnchor   Behavior = "anchor"
	BehaviorFlex     Behavior = "flex"
	BehaviorOptional Behavior = "optional"
	BehaviorMeal     Behavior = "meal"
	BehaviorTravel   Behavior = "travel"
)

type VenueType string

const (
	VenueTemple          VenueType = "temple"
	VenueShrine          VenueType = "shrine"
	VenuePark            VenueType = "park"
	VenueGarden          VenueType = "garden"
	VenueMuseum          VenueType = "museum"
	VenueRestaurant      VenueType = "restaurant"
	VenueCafe            VenueType = "cafe"
	VenueShopping        VenueType = "shopping"
	VenueTransitStation  VenueType = "transit_station"
	VenueHotel           VenueType = "hotel"
	VenueObservationDeck VenueType = "observation_deck"
	VenueEntertainment   VenueType = "entertainment"
	VenueOther           VenueType = "other"
)

type Venue struct {
	ID       string      `json:"id,omitempty"`
	Name     string      `json:"name"`
	Type     VenueType   `json:"type"`
	Location Coordinates `json:"location"`
	City     string      `json:"city,omitempty"`
	Address  string      `json:"address,omitempty"`
}

// ActivityOption is one ranked choice for a slot.
type ActivityOption struct {
	ID          string   `json:"id"`
	Rank        int      `json:"rank"`
	Name        string   `json:"name"`
	Venue       Venue    `json:"venue"`
	DurationMin int      `json:"duration_min"`
	Cost        float64  `json:"cost,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Fragility describes how booking- or condition-sensitive a slot is.
type Fragility struct {
	BookingRequired  bool   `json:"booking_required"`
	BookingTime      string `json:"booking_time,omitempty"` // HH:MM, fixed when set
	BookingRef       string `json:"booking_ref,omitempty"`
	WeatherSensitive bool   `json:"weather_sensitive,omitempty"`
	CrowdSensitive   bool   `json:"crowd_sensitive,omitempty"`
}

// IsBookingFixed reports whether the slot is pinned to a booked time.
func (f *Fragility) IsBookingFixed() bool {
	return f != nil && f.BookingRequired && f.BookingTime != ""
}

type Slot struct {
	ID         string           `json:"id"`
	Type       SlotType         `json:"type"`
	Start      string           `json:"start"` // HH:MM format
	End        string           `json:"end"`   // HH:MM format
	Options    []ActivityOption `json:"options"`
	Selected   int              `json:"selected"`
	Behavior   Behavior         `json:"behavior"`
	Rigidity   float64          `json:"rigidity"`
	DependsOn  []string         `json:"depends_on,omitempty"`
	ClusterID  string           `json:"cluster_id,omitempty"`
	Fragility  *Fragility       `json:"fragility,omitempty"`
	IsLocked   bool             `json:"is_locked"`
	CommuteMin int              `json:"commute_min,omitempty"` // travel time from the previous slot
}

// SelectedOption returns the currently selected activity option.
func (s Slot) SelectedOption() (ActivityOption, bool) {
	if s.Selected < 0 || s.Selected >= len(s.Options) {
		return ActivityOption{}, false
	}
	return s.Options[s.Selected], true
}

// Name returns the selected option name, falling back to the slot id.
func (s Slot) Name() string {
	if opt, ok := s.SelectedOption(); ok && opt.Name != "" {
		return opt.Name
	}
	return s.ID
}

func (s Slot) StartMin() (int, error) { return utils.ParseTimeToMinutes(s.Start) }
func (s Slot) EndMin() (int, error)   { return utils.ParseTimeToMinutes(s.End) }

// Clone returns a deep copy of the slot.
func (s Slot) Clone() Slot {
	out := s
	if s.Options != nil {
		out.Options = make([]ActivityOption, len(s.Options))
		for i, opt := range s.Options {
			out.Options[i] = opt
			if opt.Tags != nil {
				out.Options[i].Tags = append([]string(nil), opt.Tags...)
			}
		}
	}
	if s.DependsOn != nil {
		out.DependsOn = append([]string(nil), s.DependsOn...)
	}
	if s.Fragility != nil {
		f := *s.Fragility
		out.Fragility = &f
	}
	return out
}

// Lock pins the slot. Locking always implies rigidity 1.0 and anchor behavior.
func (s *Slot) Lock() {
	s.IsLocked = true
	s.Rigidity = 1.0
	s.Behavior = BehaviorAnchor
}

// Unlock releases the slot with the given behavior and rigidity.
func (s *Slot) Unlock(behavior Behavior, rigidity float64) {
	s.IsLocked = false
	s.Behavior = behavior
	s.Rigidity = rigidity
}

// CheckLockInvariant returns an error when a locked slot is not a rigid anchor.
func (s Slot) CheckLockInvariant() error {
	if s.IsLocked && (s.Rigidity != 1.0 || s.Behavior != BehaviorAnchor) {
		return fmt.Errorf("slot %s is locked but has rigidity %.2f and behavior %q", s.ID, s.Rigidity, s.Behavior)
	}
	return nil
}

type Day struct {
	Index int    `json:"index"`
	Date  string `json:"date,omitempty"` // YYYY-MM-DD format
	City  string `json:"city,omitempty"`
	Slots []Slot `json:"slots"`
}

// FindSlot returns the position of the slot with the given id.
func (d Day) FindSlot(id string) (int, bool) {
	for i := range d.Slots {
		if d.Slots[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// Clone deep-copies the day.
func (d Day) Clone() Day {
	out := d
	out.Slots = make([]Slot, len(d.Slots))
	for i, s := range d.Slots {
		out.Slots[i] = s.Clone()
	}
	return out
}

// Itinerary is an immutable schedule snapshot. Mutations go through
// Clone/WithDay so previous snapshots stay valid for concurrent readers.
type Itinerary struct {
	TripID    string    `json:"trip_id"`
	Title     string    `json:"title,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	Version   int       `json:"version"`
	Days      []Day     `json:"days"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a shallow copy: a fresh day list whose entries still share
// their slot arrays with the receiver. Replace days with WithDay, never edit
// a shared slot array in place.
func (it *Itinerary) Clone() *Itinerary {
	out := *it
	out.Days = append([]Day(nil), it.Days...)
	return &out
}

// WithDay sets day i on a clone produced by Clone.
func (it *Itinerary) WithDay(i int, day Day) {
	day.Index = i
	it.Days[i] = day
}

// DeepClone copies every day and slot.
func (it *Itinerary) DeepClone() *Itinerary {
	out := *it
	out.Days = make([]Day, len(it.Days))
	for i, d := range it.Days {
		out.Days[i] = d.Clone()
	}
	return &out
}

// FindSlot locates a slot by id across all days.
func (it *Itinerary) FindSlot(id string) (dayIdx, slotIdx int, ok bool) {
	for di, d := range it.Days {
		if si, found := d.FindSlot(id); found {
			return di, si, true
		}
	}
	return -1, -1, false
}

// Slot returns a copy of the slot with the given id.
func (it *Itinerary) Slot(id string) (Slot, bool) {
	di, si, ok := it.FindSlot(id)
	if !ok {
		return Slot{}, false
	}
	return it.Days[di].Slots[si], true
}

func (it *Itinerary) HasDay(i int) bool {
	return i >= 0 && i < len(it.Days)
}

// Validate checks structural soundness of an imported itinerary.
func (it *Itinerary) Validate() error {
	if it.TripID == "" {
		return fmt.Errorf("itinerary has no trip id")
	}
	if len(it.Days) == 0 {
		return fmt.Errorf("itinerary %s has no days", it.TripID)
	}
	seen := make(map[string]bool)
	for di, d := range it.Days {
		if d.Index != di {
			return fmt.Errorf("day at position %d has index %d", di, d.Index)
		}
		for _, s := range d.Slots {
			if s.ID == "" {
				return fmt.Errorf("day %d has a slot without id", di)
			}
			if seen[s.ID] {
				return fmt.Errorf("duplicate slot id %s", s.ID)
			}
			seen[s.ID] = true
			if !utils.ValidateTimeFormat(s.Start) || !utils.ValidateTimeFormat(s.End) {
				return fmt.Errorf("slot %s has invalid time range %s-%s", s.ID, s.Start, s.End)
			}
			if len(s.Options) > 0 && (s.Selected < 0 || s.Selected >= len(s.Options)) {
				return fmt.Errorf("slot %s selects option %d of %d", s.ID, s.Selected, len(s.Options))
			}
			if err := s.CheckLockInvariant(); err != nil {
				return err
			}
		}
	}
	return nil
}
