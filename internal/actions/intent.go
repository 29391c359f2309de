// Package actions applies schedule mutation intents to itinerary snapshots.
// Every mutation returns a new snapshot and the intent that reverts it.
package actions

import (
	"errors"

	"github.com/julianstephens/wayfare/internal/constraints"
	"github.com/julianstephens/wayfare/internal/models"
)

var ErrStaleItinerary = errors.New("itinerary has changed since the intent was built")

type IntentType string

const (
	IntentMove          IntentType = "move"
	IntentSwap          IntentType = "swap"
	IntentRemove        IntentType = "remove"
	IntentRemoveOption  IntentType = "remove_option"
	IntentPrioritize    IntentType = "prioritize"
	IntentDeprioritize  IntentType = "deprioritize"
	IntentLock          IntentType = "lock"
	IntentUnlock        IntentType = "unlock"
	IntentAdd           IntentType = "add"
	IntentRemoveDay     IntentType = "remove_day"
	IntentOptimize      IntentType = "optimize"
	IntentQuery         IntentType = "query"
	IntentInsert        IntentType = "insert"
	IntentInsertOption  IntentType = "insert_option"
	IntentReplace       IntentType = "replace"
	IntentRestoreDay    IntentType = "restore_day"
	IntentSetAttributes IntentType = "set_attributes"
	IntentSequence      IntentType = "sequence"
)

// ReadOnly reports whether the intent never produces a new snapshot.
func (t IntentType) ReadOnly() bool {
	return t == IntentOptimize || t == IntentQuery
}

// Intent is one requested change. Which fields matter depends on Type:
//
//	move            SlotID, DayIndex, Start?, Position?
//	swap            SlotID, OtherSlotID
//	remove          SlotID
//	remove_option   SlotID, OptionIndex
//	add             DayIndex, Slot
//	remove_day      DayIndex
//	query           Query, DayIndex or SlotID
//
// The remaining types only appear as undo intents.
type Intent struct {
	ID          string                 `json:"id,omitempty"`
	Type        IntentType             `json:"type"`
	SlotID      string                 `json:"slot_id,omitempty"`
	OtherSlotID string                 `json:"other_slot_id,omitempty"`
	DayIndex    int                    `json:"day_index"`
	Start       string                 `json:"start,omitempty"`
	End         string                 `json:"end,omitempty"`
	Position    *int                   `json:"position,omitempty"`
	OptionIndex int                    `json:"option_index,omitempty"`
	Option      *models.ActivityOption `json:"option,omitempty"`
	Selected    *int                   `json:"selected,omitempty"`
	Slot        *models.Slot           `json:"slot,omitempty"`
	Day         *models.Day            `json:"day,omitempty"`
	Rigidity    *float64               `json:"rigidity,omitempty"`
	Behavior    models.Behavior        `json:"behavior,omitempty"`
	Locked      *bool                  `json:"locked,omitempty"`
	Override    bool                   `json:"override,omitempty"`
	BaseVersion int                    `json:"base_version,omitempty"`
	Query       QueryKind              `json:"query,omitempty"`
	Steps       []Intent               `json:"steps,omitempty"`
}

// Result is the outcome of Execute. Failed results leave Itinerary nil.
type Result struct {
	Success     bool                  `json:"success"`
	Itinerary   *models.Itinerary     `json:"itinerary,omitempty"`
	Message     string                `json:"message"`
	Undo        *Intent               `json:"undo,omitempty"`
	Analysis    *constraints.Analysis `json:"analysis,omitempty"`
	Suggestions []Suggestion          `json:"suggestions,omitempty"`
	Answer      *Answer               `json:"answer,omitempty"`

	// Err carries the cause of a failed result for errors.Is checks.
	Err error `json:"-"`
}

func failure(err error, a *constraints.Analysis) Result {
	return Result{Success: false, Message: err.Error(), Analysis: a, Err: err}
}

func ptr[T any](v T) *T { return &v }
