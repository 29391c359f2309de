package actions

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/julianstephens/wayfare/internal/constraints"
	apperrors "github.com/julianstephens/wayfare/internal/errors"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/utils"
)

var (
	ErrSlotLocked    = errors.New("slot is locked")
	ErrInfeasible    = errors.New("change violates a scheduling constraint")
	ErrInvalidIntent = errors.New("invalid intent")
)

// Executor applies intents against a constraint engine.
type Executor struct {
	constraints *constraints.Engine
	now         func() time.Time
}

func NewExecutor(ce *constraints.Engine) *Executor {
	if ce == nil {
		ce = constraints.New(constraints.DefaultConfig())
	}
	return &Executor{constraints: ce, now: time.Now}
}

// outcome is what a single apply step produces before versioning.
type outcome struct {
	next     *models.Itinerary
	undo     Intent
	analysis *constraints.Analysis
	message  string
}

// Execute applies intent to it and returns the new snapshot. it is never
// modified. Validation problems come back as a failed Result, not an error.
func (x *Executor) Execute(intent Intent, it *models.Itinerary) Result {
	res, err := x.execute(intent, it)
	if err != nil {
		return failure(err, nil)
	}
	return res
}

func (x *Executor) execute(intent Intent, it *models.Itinerary) (res Result, err error) {
	defer apperrors.Recover(&err, "actions.Execute")

	if it == nil {
		return failure(fmt.Errorf("%w: no itinerary loaded", ErrInvalidIntent), nil), nil
	}
	if intent.BaseVersion != 0 && intent.BaseVersion != it.Version {
		return failure(fmt.Errorf("%w: built against version %d, current is %d",
			ErrStaleItinerary, intent.BaseVersion, it.Version), nil), nil
	}

	switch intent.Type {
	case IntentOptimize:
		return x.optimize(it), nil
	case IntentQuery:
		return x.query(intent, it), nil
	}

	out, applyErr := x.apply(intent, it)
	if applyErr != nil {
		logger.Debug("Intent rejected", "intent", intent.Type, "slot", intent.SlotID, "reason", applyErr)
		return failure(applyErr, out.analysis), nil
	}

	next := out.next
	next.Version = it.Version + 1
	next.UpdatedAt = x.now()
	undo := out.undo
	undo.ID = uuid.NewString()
	undo.Override = true
	undo.BaseVersion = next.Version

	logger.Info("Applied intent", "intent", intent.Type, "slot", intent.SlotID, "trip", it.TripID, "version", next.Version)
	return Result{
		Success:   true,
		Itinerary: next,
		Message:   out.message,
		Undo:      &undo,
		Analysis:  out.analysis,
	}, nil
}

func (x *Executor) apply(in Intent, it *models.Itinerary) (outcome, error) {
	switch in.Type {
	case IntentMove:
		return x.move(in, it)
	case IntentSwap:
		return x.swap(in, it)
	case IntentRemove:
		return x.remove(in, it)
	case IntentInsert:
		return x.insert(in, it)
	case IntentRemoveOption:
		return x.removeOption(in, it)
	case IntentInsertOption:
		return x.insertOption(in, it)
	case IntentPrioritize:
		return x.reprioritize(in, it, 0.9)
	case IntentDeprioritize:
		return x.reprioritize(in, it, 0.1)
	case IntentLock:
		return x.lock(in, it)
	case IntentUnlock:
		return x.unlock(in, it)
	case IntentSetAttributes:
		return x.setAttributes(in, it)
	case IntentAdd:
		return x.add(in, it)
	case IntentReplace:
		return x.replace(in, it)
	case IntentRemoveDay:
		return x.removeDay(in, it)
	case IntentRestoreDay:
		return x.restoreDay(in, it)
	case IntentSequence:
		return x.sequence(in, it)
	case IntentOptimize, IntentQuery:
		return outcome{}, fmt.Errorf("%w: %s cannot be part of a sequence", ErrInvalidIntent, in.Type)
	default:
		return outcome{}, fmt.Errorf("%w: unknown type %q", ErrInvalidIntent, in.Type)
	}
}

// gate turns an infeasible analysis into an error unless the caller forces
// the change through.
func gate(a constraints.Analysis, override bool) (*constraints.Analysis, error) {
	if a.Feasible {
		return &a, nil
	}
	if override {
		o := a.Overridden()
		return &o, nil
	}
	msgs := lo.Map(a.Errors(), func(v constraints.Violation, _ int) string { return v.Message })
	return &a, fmt.Errorf("%w: %s", ErrInfeasible, strings.Join(msgs, "; "))
}

func findSlot(it *models.Itinerary, id string) (int, int, models.Slot, error) {
	di, si, ok := it.FindSlot(id)
	if !ok {
		return -1, -1, models.Slot{}, fmt.Errorf("%w: %s", constraints.ErrUnknownSlot, id)
	}
	return di, si, it.Days[di].Slots[si], nil
}

// editSlot replaces one slot on next, which must come from Clone. The day's
// slot array is copied first so snapshots sharing it are untouched.
func editSlot(next *models.Itinerary, id string, fn func(*models.Slot) error) error {
	di, si, ok := next.FindSlot(id)
	if !ok {
		return fmt.Errorf("%w: %s", constraints.ErrUnknownSlot, id)
	}
	day := next.Days[di]
	day.Slots = append([]models.Slot(nil), day.Slots...)
	s := day.Slots[si].Clone()
	if err := fn(&s); err != nil {
		return err
	}
	day.Slots[si] = s
	next.WithDay(di, day)
	return nil
}

func (x *Executor) move(in Intent, it *models.Itinerary) (outcome, error) {
	di, si, orig, err := findSlot(it, in.SlotID)
	if err != nil {
		return outcome{}, err
	}
	m := constraints.Move{SlotID: in.SlotID, TargetDay: in.DayIndex, Start: in.Start, Position: in.Position}
	a, err := x.constraints.CheckMove(it, m)
	if err != nil {
		return outcome{}, err
	}
	analysis, err := gate(a, in.Override)
	if err != nil {
		return outcome{analysis: analysis}, err
	}
	next, err := constraints.ProposeMove(it, m)
	if err != nil {
		return outcome{}, err
	}

	// Forced moves land exactly where asked; only validated moves take the
	// engine's silent travel adjustments.
	var restore []Intent
	if !in.Override {
		for _, adj := range analysis.Adjustments {
			prev, _ := next.Slot(adj.SlotID)
			if err := editSlot(next, adj.SlotID, func(s *models.Slot) error {
				s.Start, s.End = adj.Start, adj.End
				return nil
			}); err != nil {
				return outcome{}, err
			}
			restore = append(restore, Intent{Type: IntentSetAttributes, SlotID: adj.SlotID, Start: prev.Start, End: prev.End})
		}
	}

	back := Intent{Type: IntentMove, SlotID: in.SlotID, DayIndex: di, Start: orig.Start, Position: ptr(si), Override: true}
	undo := back
	if len(restore) > 0 {
		undo = Intent{Type: IntentSequence, Steps: append(restore, back)}
	}

	msg := fmt.Sprintf("Moved %s to day %d", orig.Name(), in.DayIndex)
	if in.Start != "" {
		msg += " at " + in.Start
	}
	return outcome{next: next, undo: undo, analysis: analysis, message: msg}, nil
}

func (x *Executor) swap(in Intent, it *models.Itinerary) (outcome, error) {
	_, _, sa, err := findSlot(it, in.SlotID)
	if err != nil {
		return outcome{}, err
	}
	_, _, sb, err := findSlot(it, in.OtherSlotID)
	if err != nil {
		return outcome{}, err
	}
	if sa.ID == sb.ID {
		return outcome{}, fmt.Errorf("%w: cannot swap %s with itself", ErrInvalidIntent, sa.ID)
	}
	for _, s := range []models.Slot{sa, sb} {
		if s.IsLocked {
			return outcome{}, fmt.Errorf("%w: %s cannot be swapped", ErrSlotLocked, s.Name())
		}
	}
	a, err := x.constraints.CanSwap(it, sa.ID, sb.ID)
	if err != nil {
		return outcome{}, err
	}
	analysis, err := gate(a, in.Override)
	if err != nil {
		return outcome{analysis: analysis}, err
	}
	next, err := constraints.ProposeSwap(it, sa.ID, sb.ID)
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		next:     next,
		undo:     Intent{Type: IntentSwap, SlotID: sa.ID, OtherSlotID: sb.ID},
		analysis: analysis,
		message:  fmt.Sprintf("Swapped %s and %s", sa.Name(), sb.Name()),
	}, nil
}

func (x *Executor) remove(in Intent, it *models.Itinerary) (outcome, error) {
	di, si, s, err := findSlot(it, in.SlotID)
	if err != nil {
		return outcome{}, err
	}
	if s.IsLocked {
		return outcome{}, fmt.Errorf("%w: %s cannot be removed", ErrSlotLocked, s.Name())
	}
	a, err := x.constraints.RemovalImpact(it, s.ID)
	if err != nil {
		return outcome{}, err
	}
	analysis, err := gate(a, in.Override)
	if err != nil {
		return outcome{analysis: analysis}, err
	}
	next := it.Clone()
	day := it.Days[di]
	day.Slots = constraints.RemoveAt(day.Slots, si)
	next.WithDay(di, day)
	return outcome{
		next:     next,
		undo:     Intent{Type: IntentInsert, DayIndex: di, Position: ptr(si), Slot: ptr(s.Clone())},
		analysis: analysis,
		message:  fmt.Sprintf("Removed %s from day %d", s.Name(), di),
	}, nil
}

func (x *Executor) insert(in Intent, it *models.Itinerary) (outcome, error) {
	if in.Slot == nil {
		return outcome{}, fmt.Errorf("%w: insert needs a slot", ErrInvalidIntent)
	}
	if !it.HasDay(in.DayIndex) {
		return outcome{}, fmt.Errorf("%w: %d", constraints.ErrDayOutOfRange, in.DayIndex)
	}
	if _, _, ok := it.FindSlot(in.Slot.ID); ok {
		return outcome{}, fmt.Errorf("%w: slot %s already exists", ErrInvalidIntent, in.Slot.ID)
	}
	day := it.Days[in.DayIndex]
	pos := len(day.Slots)
	if in.Position != nil {
		pos = *in.Position
	}
	next := it.Clone()
	day.Slots = constraints.InsertAt(day.Slots, in.Slot.Clone(), pos)
	next.WithDay(in.DayIndex, day)
	return outcome{
		next:    next,
		undo:    Intent{Type: IntentRemove, SlotID: in.Slot.ID},
		message: fmt.Sprintf("Restored %s to day %d", in.Slot.Name(), in.DayIndex),
	}, nil
}

func (x *Executor) removeOption(in Intent, it *models.Itinerary) (outcome, error) {
	_, _, s, err := findSlot(it, in.SlotID)
	if err != nil {
		return outcome{}, err
	}
	if s.IsLocked {
		return outcome{}, fmt.Errorf("%w: options of %s cannot be removed", ErrSlotLocked, s.Name())
	}
	if in.OptionIndex < 0 || in.OptionIndex >= len(s.Options) {
		return outcome{}, fmt.Errorf("%w: %s has no option %d", ErrInvalidIntent, s.Name(), in.OptionIndex)
	}
	if len(s.Options) == 1 {
		return outcome{}, fmt.Errorf("%w: %s has a single option, remove the slot instead", ErrInvalidIntent, s.Name())
	}
	opt := s.Options[in.OptionIndex]
	next := it.Clone()
	if err := editSlot(next, s.ID, func(ns *models.Slot) error {
		ns.Options = append(ns.Options[:in.OptionIndex], ns.Options[in.OptionIndex+1:]...)
		switch {
		case in.OptionIndex < ns.Selected:
			ns.Selected--
		case in.OptionIndex == ns.Selected:
			ns.Selected = 0
		}
		return nil
	}); err != nil {
		return outcome{}, err
	}
	return outcome{
		next:    next,
		undo:    Intent{Type: IntentInsertOption, SlotID: s.ID, OptionIndex: in.OptionIndex, Option: ptr(opt), Selected: ptr(s.Selected)},
		message: fmt.Sprintf("Removed option %s from %s", opt.Name, s.ID),
	}, nil
}

func (x *Executor) insertOption(in Intent, it *models.Itinerary) (outcome, error) {
	if in.Option == nil {
		return outcome{}, fmt.Errorf("%w: insert_option needs an option", ErrInvalidIntent)
	}
	_, _, s, err := findSlot(it, in.SlotID)
	if err != nil {
		return outcome{}, err
	}
	idx := max(0, min(in.OptionIndex, len(s.Options)))
	next := it.Clone()
	if err := editSlot(next, s.ID, func(ns *models.Slot) error {
		opts := make([]models.ActivityOption, 0, len(ns.Options)+1)
		opts = append(opts, ns.Options[:idx]...)
		opts = append(opts, *in.Option)
		ns.Options = append(opts, ns.Options[idx:]...)
		switch {
		case in.Selected != nil:
			ns.Selected = *in.Selected
		case idx <= ns.Selected:
			ns.Selected++
		}
		if ns.Selected < 0 || ns.Selected >= len(ns.Options) {
			return fmt.Errorf("%w: selected option %d out of range", ErrInvalidIntent, ns.Selected)
		}
		return nil
	}); err != nil {
		return outcome{}, err
	}
	return outcome{
		next:    next,
		undo:    Intent{Type: IntentRemoveOption, SlotID: s.ID, OptionIndex: idx},
		message: fmt.Sprintf("Added option %s to %s", in.Option.Name, s.ID),
	}, nil
}

// reprioritize moves rigidity and behavior together. Locked slots keep
// their pin until unlocked.
func (x *Executor) reprioritize(in Intent, it *models.Itinerary, rigidity float64) (outcome, error) {
	_, _, s, err := findSlot(it, in.SlotID)
	if err != nil {
		return outcome{}, err
	}
	if s.IsLocked {
		return outcome{}, fmt.Errorf("%w: unlock %s before changing its priority", ErrSlotLocked, s.Name())
	}
	next := it.Clone()
	if err := editSlot(next, s.ID, func(ns *models.Slot) error {
		ns.Rigidity = rigidity
		ns.Behavior = constraints.BehaviorForRigidity(rigidity, ns.Behavior)
		return nil
	}); err != nil {
		return outcome{}, err
	}
	verb := "Prioritized"
	if in.Type == IntentDeprioritize {
		verb = "Deprioritized"
	}
	return outcome{
		next:    next,
		undo:    Intent{Type: IntentSetAttributes, SlotID: s.ID, Behavior: s.Behavior, Rigidity: ptr(s.Rigidity)},
		message: fmt.Sprintf("%s %s", verb, s.Name()),
	}, nil
}

func (x *Executor) lock(in Intent, it *models.Itinerary) (outcome, error) {
	_, _, s, err := findSlot(it, in.SlotID)
	if err != nil {
		return outcome{}, err
	}
	if s.IsLocked {
		return outcome{}, fmt.Errorf("%w: %s is already locked", ErrInvalidIntent, s.Name())
	}
	a, err := x.constraints.CanLock(it, s.ID)
	if err != nil {
		return outcome{}, err
	}
	next := it.Clone()
	if err := editSlot(next, s.ID, func(ns *models.Slot) error {
		ns.Lock()
		return nil
	}); err != nil {
		return outcome{}, err
	}
	return outcome{
		next:     next,
		undo:     Intent{Type: IntentSetAttributes, SlotID: s.ID, Locked: ptr(false), Behavior: s.Behavior, Rigidity: ptr(s.Rigidity)},
		analysis: &a,
		message:  fmt.Sprintf("Locked %s", s.Name()),
	}, nil
}

func (x *Executor) unlock(in Intent, it *models.Itinerary) (outcome, error) {
	_, _, s, err := findSlot(it, in.SlotID)
	if err != nil {
		return outcome{}, err
	}
	if !s.IsLocked {
		return outcome{}, fmt.Errorf("%w: %s is not locked", ErrInvalidIntent, s.Name())
	}
	next := it.Clone()
	if err := editSlot(next, s.ID, func(ns *models.Slot) error {
		b := models.BehaviorFlex
		if ns.Type.IsMeal() {
			b = models.BehaviorMeal
		}
		ns.Unlock(b, 0)
		ns.Rigidity = constraints.Rigidity(*ns)
		return nil
	}); err != nil {
		return outcome{}, err
	}
	return outcome{
		next:    next,
		undo:    Intent{Type: IntentLock, SlotID: s.ID},
		message: fmt.Sprintf("Unlocked %s", s.Name()),
	}, nil
}

func (x *Executor) setAttributes(in Intent, it *models.Itinerary) (outcome, error) {
	_, _, s, err := findSlot(it, in.SlotID)
	if err != nil {
		return outcome{}, err
	}
	undo := Intent{Type: IntentSetAttributes, SlotID: s.ID}
	next := it.Clone()
	if err := editSlot(next, s.ID, func(ns *models.Slot) error {
		if in.Start != "" {
			if !utils.ValidateTimeFormat(in.Start) {
				return fmt.Errorf("%w: invalid start %q", ErrInvalidIntent, in.Start)
			}
			undo.Start, ns.Start = ns.Start, in.Start
		}
		if in.End != "" {
			if !utils.ValidateTimeFormat(in.End) {
				return fmt.Errorf("%w: invalid end %q", ErrInvalidIntent, in.End)
			}
			undo.End, ns.End = ns.End, in.End
		}
		if in.Selected != nil {
			if *in.Selected < 0 || *in.Selected >= len(ns.Options) {
				return fmt.Errorf("%w: selected option %d out of range", ErrInvalidIntent, *in.Selected)
			}
			undo.Selected, ns.Selected = ptr(ns.Selected), *in.Selected
		}
		if in.Locked != nil || in.Behavior != "" || in.Rigidity != nil {
			undo.Locked, undo.Behavior, undo.Rigidity = ptr(ns.IsLocked), ns.Behavior, ptr(ns.Rigidity)
		}
		if in.Behavior != "" {
			ns.Behavior = in.Behavior
		}
		if in.Rigidity != nil {
			ns.Rigidity = *in.Rigidity
		}
		if in.Locked != nil {
			ns.IsLocked = *in.Locked
			if ns.IsLocked {
				ns.Lock()
			}
		}
		return ns.CheckLockInvariant()
	}); err != nil {
		return outcome{}, err
	}
	return outcome{next: next, undo: undo, message: fmt.Sprintf("Updated %s", s.Name())}, nil
}

// add appends a slot in canonical position, or replaces the day's meal slot
// of the same category.
func (x *Executor) add(in Intent, it *models.Itinerary) (outcome, error) {
	if in.Slot == nil {
		return outcome{}, fmt.Errorf("%w: add needs a slot", ErrInvalidIntent)
	}
	if !it.HasDay(in.DayIndex) {
		return outcome{}, fmt.Errorf("%w: %d", constraints.ErrDayOutOfRange, in.DayIndex)
	}
	s := in.Slot.Clone()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, _, ok := it.FindSlot(s.ID); ok {
		return outcome{}, fmt.Errorf("%w: slot %s already exists", ErrInvalidIntent, s.ID)
	}
	if !utils.ValidateTimeFormat(s.Start) || !utils.ValidateTimeFormat(s.End) {
		return outcome{}, fmt.Errorf("%w: invalid time range %s-%s", ErrInvalidIntent, s.Start, s.End)
	}
	if s.Behavior == "" {
		s.Behavior = models.BehaviorFlex
		if s.Type.IsMeal() {
			s.Behavior = models.BehaviorMeal
		}
	}
	if s.IsLocked {
		s.Lock()
	} else {
		s.Rigidity = constraints.Rigidity(s)
	}

	day := it.Days[in.DayIndex]
	next := it.Clone()
	var undo Intent
	var msg string
	existing := -1
	if s.Type.IsMeal() {
		_, existing, _ = lo.FindIndexOf(day.Slots, func(o models.Slot) bool { return o.Type == s.Type })
	}
	if existing >= 0 {
		old := day.Slots[existing]
		if old.IsLocked {
			return outcome{}, fmt.Errorf("%w: %s cannot be replaced", ErrSlotLocked, old.Name())
		}
		day.Slots = append([]models.Slot(nil), day.Slots...)
		day.Slots[existing] = s
		undo = Intent{Type: IntentReplace, SlotID: s.ID, Slot: ptr(old.Clone())}
		msg = fmt.Sprintf("Replaced %s with %s", old.Name(), s.Name())
	} else {
		pos := len(day.Slots)
		if _, i, found := lo.FindIndexOf(day.Slots, func(o models.Slot) bool { return o.Type.Rank() > s.Type.Rank() }); found {
			pos = i
		}
		day.Slots = constraints.InsertAt(day.Slots, s, pos)
		undo = Intent{Type: IntentRemove, SlotID: s.ID}
		if s.IsLocked {
			unlocked := s
			unlocked.Unlock(models.BehaviorFlex, 0)
			undo = Intent{Type: IntentSequence, Steps: []Intent{
				{Type: IntentSetAttributes, SlotID: s.ID, Locked: ptr(false), Behavior: unlocked.Behavior, Rigidity: ptr(constraints.Rigidity(unlocked))},
				{Type: IntentRemove, SlotID: s.ID},
			}}
		}
		msg = fmt.Sprintf("Added %s to day %d", s.Name(), in.DayIndex)
	}
	next.WithDay(in.DayIndex, day)

	a, err := x.constraints.CheckPlacement(next, s.ID)
	if err != nil {
		return outcome{}, err
	}
	analysis, err := gate(a, in.Override)
	if err != nil {
		return outcome{analysis: analysis}, err
	}
	return outcome{next: next, undo: undo, analysis: analysis, message: msg}, nil
}

func (x *Executor) replace(in Intent, it *models.Itinerary) (outcome, error) {
	if in.Slot == nil {
		return outcome{}, fmt.Errorf("%w: replace needs a slot", ErrInvalidIntent)
	}
	di, si, old, err := findSlot(it, in.SlotID)
	if err != nil {
		return outcome{}, err
	}
	if odi, osi, ok := it.FindSlot(in.Slot.ID); ok && (odi != di || osi != si) {
		return outcome{}, fmt.Errorf("%w: slot %s already exists", ErrInvalidIntent, in.Slot.ID)
	}
	next := it.Clone()
	day := it.Days[di]
	day.Slots = append([]models.Slot(nil), day.Slots...)
	day.Slots[si] = in.Slot.Clone()
	next.WithDay(di, day)
	return outcome{
		next:    next,
		undo:    Intent{Type: IntentReplace, SlotID: in.Slot.ID, Slot: ptr(old.Clone())},
		message: fmt.Sprintf("Replaced %s with %s", old.Name(), in.Slot.Name()),
	}, nil
}

func (x *Executor) removeDay(in Intent, it *models.Itinerary) (outcome, error) {
	if !it.HasDay(in.DayIndex) {
		return outcome{}, fmt.Errorf("%w: %d", constraints.ErrDayOutOfRange, in.DayIndex)
	}
	if len(it.Days) == 1 {
		return outcome{}, fmt.Errorf("%w: cannot remove the only day", ErrInvalidIntent)
	}
	a, err := x.constraints.CheckRemoveDay(it, in.DayIndex)
	if err != nil {
		return outcome{}, err
	}
	analysis, err := gate(a, in.Override)
	if err != nil {
		return outcome{analysis: analysis}, err
	}
	removed := it.Days[in.DayIndex]
	next := it.Clone()
	next.Days = renumber(append(append([]models.Day(nil), it.Days[:in.DayIndex]...), it.Days[in.DayIndex+1:]...))
	return outcome{
		next:     next,
		undo:     Intent{Type: IntentRestoreDay, DayIndex: in.DayIndex, Day: &removed},
		analysis: analysis,
		message:  fmt.Sprintf("Removed day %d (%d slots)", in.DayIndex, len(removed.Slots)),
	}, nil
}

func (x *Executor) restoreDay(in Intent, it *models.Itinerary) (outcome, error) {
	if in.Day == nil {
		return outcome{}, fmt.Errorf("%w: restore_day needs a day", ErrInvalidIntent)
	}
	if in.DayIndex < 0 || in.DayIndex > len(it.Days) {
		return outcome{}, fmt.Errorf("%w: %d", constraints.ErrDayOutOfRange, in.DayIndex)
	}
	for _, s := range in.Day.Slots {
		if _, _, ok := it.FindSlot(s.ID); ok {
			return outcome{}, fmt.Errorf("%w: slot %s already exists", ErrInvalidIntent, s.ID)
		}
	}
	days := make([]models.Day, 0, len(it.Days)+1)
	days = append(days, it.Days[:in.DayIndex]...)
	days = append(days, *in.Day)
	days = append(days, it.Days[in.DayIndex:]...)
	next := it.Clone()
	next.Days = renumber(days)
	return outcome{
		next:    next,
		undo:    Intent{Type: IntentRemoveDay, DayIndex: in.DayIndex},
		message: fmt.Sprintf("Restored day %d", in.DayIndex),
	}, nil
}

// renumber sets each day's Index to its position. days must be a fresh slice.
func renumber(days []models.Day) []models.Day {
	for i := range days {
		days[i].Index = i
	}
	return days
}

// sequence applies steps in order as one change. A failing step discards
// everything before it.
func (x *Executor) sequence(in Intent, it *models.Itinerary) (outcome, error) {
	if len(in.Steps) == 0 {
		return outcome{}, fmt.Errorf("%w: empty sequence", ErrInvalidIntent)
	}
	cur := it
	undos := make([]Intent, 0, len(in.Steps))
	msgs := make([]string, 0, len(in.Steps))
	var last *constraints.Analysis
	for i, step := range in.Steps {
		step.Override = step.Override || in.Override
		out, err := x.apply(step, cur)
		if err != nil {
			return outcome{analysis: out.analysis}, fmt.Errorf("step %d (%s): %w", i+1, step.Type, err)
		}
		cur = out.next
		undos = append(undos, out.undo)
		msgs = append(msgs, out.message)
		if out.analysis != nil {
			last = out.analysis
		}
	}
	slices.Reverse(undos)
	return outcome{
		next:     cur,
		undo:     Intent{Type: IntentSequence, Steps: undos},
		analysis: last,
		message:  strings.Join(msgs, "; "),
	}, nil
}
