package constraints

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/geo"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/utils"
)

var (
	ErrUnknownSlot   = errors.New("unknown slot")
	ErrDayOutOfRange = errors.New("day index out of range")
)

type Config struct {
	IdealActivitiesPerDay int `yaml:"ideal_activities_per_day"`
	// DensityCeiling is the slot count above which a day is flagged. Zero
	// derives it from IdealActivitiesPerDay.
	DensityCeiling     int `yaml:"density_ceiling"`
	MinTravelBufferMin int `yaml:"min_travel_buffer_min"`
	// AutoAdjustMaxMin is the largest travel shortfall fixed silently by
	// pushing a flexible slot later.
	AutoAdjustMaxMin int `yaml:"auto_adjust_max_min"`
}

func DefaultConfig() Config {
	return Config{
		IdealActivitiesPerDay: constants.DefaultIdealActivitiesPerDay,
		DensityCeiling:        constants.DefaultDensityCeiling,
		MinTravelBufferMin:    constants.DefaultMinTravelBufferMin,
		AutoAdjustMaxMin:      constants.DefaultAutoAdjustMaxMin,
	}
}

// Ceiling returns the pacing density ceiling.
func (c Config) Ceiling() int {
	if c.DensityCeiling > 0 {
		return c.DensityCeiling
	}
	return c.IdealActivitiesPerDay + c.IdealActivitiesPerDay/3
}

type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// Move describes relocating one slot. Start optionally retimes the slot
// keeping its duration; Position optionally pins its index in the target
// day instead of canonical sorting.
type Move struct {
	SlotID    string
	TargetDay int
	Start     string
	Position  *int
}

// CanMoveSlot checks moving a slot to another day with its times unchanged.
func (e *Engine) CanMoveSlot(it *models.Itinerary, slotID string, targetDay int) (Analysis, error) {
	return e.CheckMove(it, Move{SlotID: slotID, TargetDay: targetDay})
}

// CheckMove validates a move against every layer.
func (e *Engine) CheckMove(it *models.Itinerary, m Move) (Analysis, error) {
	di, si, ok := it.FindSlot(m.SlotID)
	if !ok {
		return Analysis{}, fmt.Errorf("%w: %s", ErrUnknownSlot, m.SlotID)
	}
	if !it.HasDay(m.TargetDay) {
		return Analysis{}, fmt.Errorf("%w: %d", ErrDayOutOfRange, m.TargetDay)
	}
	after, err := ProposeMove(it, m)
	if err != nil {
		return Analysis{}, err
	}
	before := it.Days[di].Slots[si]
	moved, _ := after.Slot(m.SlotID)
	touched := map[string]bool{m.SlotID: true}

	var vs []Violation
	var adj []Adjustment
	if before.IsLocked {
		vs = append(vs, Violation{Layer: LayerFragility, Severity: SeverityError, SlotID: before.ID,
			Message: fmt.Sprintf("%s is locked", before.Name())})
	}
	dayVs, dayAdj := e.checkDay(after.Days[m.TargetDay], touched, true)
	vs = append(vs, dayVs...)
	adj = append(adj, dayAdj...)
	vs = append(vs, e.checkDependencies(after, touched)...)
	vs = append(vs, e.moveFragility(before, moved, di != m.TargetDay)...)
	if di != m.TargetDay {
		vs = append(vs, e.clustering(it, before, di, m.TargetDay)...)
		vs = append(vs, e.crossDay(it, before, di, m.TargetDay)...)
	}

	a := newAnalysis(vs, adj)
	a.Rigidity = Rigidity(before)
	return a, nil
}

// CanSwap checks exchanging two slots' days, categories and times.
func (e *Engine) CanSwap(it *models.Itinerary, a, b string) (Analysis, error) {
	da, ia, ok := it.FindSlot(a)
	if !ok {
		return Analysis{}, fmt.Errorf("%w: %s", ErrUnknownSlot, a)
	}
	db, ib, ok := it.FindSlot(b)
	if !ok {
		return Analysis{}, fmt.Errorf("%w: %s", ErrUnknownSlot, b)
	}
	sa, sb := it.Days[da].Slots[ia], it.Days[db].Slots[ib]

	var vs []Violation
	for _, s := range []models.Slot{sa, sb} {
		if s.IsLocked {
			vs = append(vs, Violation{Layer: LayerFragility, Severity: SeverityError, SlotID: s.ID,
				Message: fmt.Sprintf("%s is locked and cannot be swapped", s.Name())})
		}
	}

	after, err := ProposeSwap(it, a, b)
	if err != nil {
		return Analysis{}, err
	}
	touched := map[string]bool{a: true, b: true}
	var adj []Adjustment
	for _, d := range lo.Uniq([]int{da, db}) {
		dayVs, dayAdj := e.checkDay(after.Days[d], touched, false)
		vs = append(vs, dayVs...)
		adj = append(adj, dayAdj...)
	}
	vs = append(vs, e.checkDependencies(after, touched)...)
	na, _ := after.Slot(a)
	nb, _ := after.Slot(b)
	vs = append(vs, e.moveFragility(sa, na, da != db)...)
	vs = append(vs, e.moveFragility(sb, nb, da != db)...)
	if da != db {
		vs = append(vs, e.clustering(it, sa, da, db)...)
		vs = append(vs, e.clustering(it, sb, db, da)...)
		vs = append(vs, e.crossDay(it, sa, da, db)...)
		vs = append(vs, e.crossDay(it, sb, db, da)...)
	}

	an := newAnalysis(vs, adj)
	an.Rigidity = math.Max(Rigidity(sa), Rigidity(sb))
	return an, nil
}

// CanLock reports what locking a slot would pin in place. Locking is always
// feasible.
func (e *Engine) CanLock(it *models.Itinerary, slotID string) (Analysis, error) {
	di, si, ok := it.FindSlot(slotID)
	if !ok {
		return Analysis{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
	}
	s := it.Days[di].Slots[si]
	var vs []Violation
	if s.IsLocked {
		vs = append(vs, Violation{Layer: LayerFragility, Severity: SeverityInfo, SlotID: slotID, Message: "slot is already locked"})
	}
	dayVs, _ := e.checkDay(it.Days[di], map[string]bool{slotID: true}, false)
	for _, v := range dayVs {
		if v.Layer == LayerTemporal {
			v.Severity = SeverityWarning
			v.Message = "locking a slot that " + v.Message
			vs = append(vs, v)
		}
	}
	a := newAnalysis(vs, nil)
	a.Feasible = true
	a.Rigidity = 1.0
	return a, nil
}

// Validate reports every violation in the itinerary as it stands.
func (e *Engine) Validate(it *models.Itinerary) Analysis {
	var vs []Violation
	var adj []Adjustment
	for _, d := range it.Days {
		dayVs, dayAdj := e.checkDay(d, nil, true)
		vs = append(vs, dayVs...)
		adj = append(adj, dayAdj...)
	}
	vs = append(vs, e.checkDependencies(it, nil)...)
	for _, d := range it.Days {
		for _, s := range d.Slots {
			if err := s.CheckLockInvariant(); err != nil {
				vs = append(vs, Violation{Layer: LayerFragility, Severity: SeverityError, SlotID: s.ID, Message: err.Error()})
			}
		}
	}
	return newAnalysis(vs, adj)
}

// ValidateDay runs the single-day layers over one day.
func (e *Engine) ValidateDay(day models.Day) []Violation {
	vs, _ := e.checkDay(day, nil, true)
	return vs
}

type timed struct {
	slot       models.Slot
	start, end int
}

func timedSlots(day models.Day) ([]timed, []Violation) {
	var out []timed
	var bad []Violation
	for _, s := range day.Slots {
		start, err1 := s.StartMin()
		end, err2 := s.EndMin()
		if err1 != nil || err2 != nil {
			bad = append(bad, Violation{Layer: LayerTemporal, Severity: SeverityError, SlotID: s.ID,
				Message: fmt.Sprintf("%s has an invalid time range %s-%s", s.Name(), s.Start, s.End)})
			continue
		}
		if end < start {
			end += 24 * 60
		}
		out = append(out, timed{slot: s, start: start, end: end})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out, bad
}

// checkDay runs temporal, travel and (optionally) pacing over one day. A
// nil touched set reports everything; otherwise only pairs involving a
// touched slot are reported.
func (e *Engine) checkDay(day models.Day, touched map[string]bool, pacing bool) ([]Violation, []Adjustment) {
	involves := func(ids ...string) bool {
		if touched == nil {
			return true
		}
		return lo.SomeBy(ids, func(id string) bool { return touched[id] })
	}

	ts, vs := timedSlots(day)
	var adj []Adjustment

	for i := range ts {
		for j := i + 1; j < len(ts); j++ {
			a, b := ts[i], ts[j]
			if b.start >= a.end {
				break
			}
			if a.slot.Behavior == models.BehaviorTravel || b.slot.Behavior == models.BehaviorTravel {
				continue
			}
			if !involves(a.slot.ID, b.slot.ID) {
				continue
			}
			vs = append(vs, Violation{
				Layer: LayerTemporal, Severity: SeverityError, SlotID: b.slot.ID, OtherID: a.slot.ID,
				Message: fmt.Sprintf("%s (%s-%s) overlaps %s (%s-%s)",
					b.slot.Name(), b.slot.Start, b.slot.End, a.slot.Name(), a.slot.Start, a.slot.End),
			})
		}
	}

	for i := 1; i < len(ts); i++ {
		prev, next := ts[i-1], ts[i]
		if !involves(prev.slot.ID, next.slot.ID) {
			continue
		}
		gap := next.start - prev.end
		if gap < 0 {
			continue // temporal already reported it
		}
		commute := CommuteMinutes(prev.slot, next.slot)
		switch shortfall := commute - gap; {
		case shortfall > 0 && shortfall <= e.cfg.AutoAdjustMaxMin && Rigidity(next.slot) < 0.7:
			adj = append(adj, Adjustment{
				SlotID: next.slot.ID,
				Start:  utils.FormatMinutes(next.start + shortfall),
				End:    utils.FormatMinutes(next.end + shortfall),
				Reason: fmt.Sprintf("needs %d min to travel from %s", commute, prev.slot.Name()),
			})
			vs = append(vs, Violation{Layer: LayerTravel, Severity: SeverityInfo, SlotID: next.slot.ID, OtherID: prev.slot.ID,
				Message: fmt.Sprintf("%s shifted %d min later to fit travel", next.slot.Name(), shortfall)})
		case shortfall > 0:
			vs = append(vs, Violation{Layer: LayerTravel, Severity: SeverityWarning, SlotID: next.slot.ID, OtherID: prev.slot.ID,
				Message: fmt.Sprintf("%d min gap before %s but travel needs %d min", gap, next.slot.Name(), commute)})
		case gap-commute < e.cfg.MinTravelBufferMin:
			vs = append(vs, Violation{Layer: LayerTravel, Severity: SeverityInfo, SlotID: next.slot.ID, OtherID: prev.slot.ID,
				Message: fmt.Sprintf("only %d min buffer before %s", gap-commute, next.slot.Name())})
		}
	}

	if pacing {
		count := lo.CountBy(day.Slots, func(s models.Slot) bool { return s.Behavior != models.BehaviorTravel })
		switch {
		case count > e.cfg.Ceiling():
			vs = append(vs, Violation{Layer: LayerPacing, Severity: SeverityWarning,
				Message: fmt.Sprintf("day %d has %d activities, above the ceiling of %d", day.Index, count, e.cfg.Ceiling())})
		case count > e.cfg.IdealActivitiesPerDay:
			vs = append(vs, Violation{Layer: LayerPacing, Severity: SeverityInfo,
				Message: fmt.Sprintf("day %d has %d activities, more than the ideal %d", day.Index, count, e.cfg.IdealActivitiesPerDay)})
		}
	}
	return vs, adj
}

// CommuteMinutes is the travel time into next. An explicit CommuteMin
// wins; otherwise it is estimated from venue distance.
func CommuteMinutes(prev, next models.Slot) int {
	if next.CommuteMin > 0 {
		return next.CommuteMin
	}
	po, ok1 := prev.SelectedOption()
	no, ok2 := next.SelectedOption()
	if !ok1 || !ok2 || po.Venue.Location == (models.Coordinates{}) || no.Venue.Location == (models.Coordinates{}) {
		return 0
	}
	d := geo.Distance(po.Venue.Location, no.Venue.Location)
	if d <= 1000 {
		return int(math.Ceil(d / 80)) // walking
	}
	return int(math.Ceil(d/250)) + 5 // transit plus waiting
}

type position struct {
	day, start, end int
}

func (e *Engine) checkDependencies(it *models.Itinerary, touched map[string]bool) []Violation {
	pos := make(map[string]position)
	for _, d := range it.Days {
		ts, _ := timedSlots(d)
		for _, t := range ts {
			pos[t.slot.ID] = position{day: d.Index, start: t.start, end: t.end}
		}
	}

	var vs []Violation
	for _, d := range it.Days {
		for _, s := range d.Slots {
			for _, dep := range s.DependsOn {
				if touched != nil && !touched[s.ID] && !touched[dep] {
					continue
				}
				dp, ok := pos[dep]
				if !ok {
					vs = append(vs, Violation{Layer: LayerDependencies, Severity: SeverityWarning, SlotID: s.ID, OtherID: dep,
						Message: fmt.Sprintf("%s depends on %s, which is no longer scheduled", s.Name(), dep)})
					continue
				}
				sp, ok := pos[s.ID]
				if !ok {
					continue
				}
				if dp.day > sp.day || (dp.day == sp.day && dp.end > sp.start) {
					vs = append(vs, Violation{Layer: LayerDependencies, Severity: SeverityError, SlotID: s.ID, OtherID: dep,
						Message: fmt.Sprintf("%s must come after %s", s.Name(), dep)})
				}
			}
		}
	}
	return vs
}

func (e *Engine) moveFragility(before, after models.Slot, dayChanged bool) []Violation {
	var vs []Violation
	timesChanged := before.Start != after.Start || before.End != after.End
	if !dayChanged && !timesChanged {
		return nil
	}
	f := before.Fragility
	switch {
	case f.IsBookingFixed():
		vs = append(vs, Violation{Layer: LayerFragility, Severity: SeverityError, SlotID: before.ID,
			Message: fmt.Sprintf("%s has a booking at %s and cannot move silently", before.Name(), f.BookingTime)})
	case f != nil && f.BookingRequired:
		vs = append(vs, Violation{Layer: LayerFragility, Severity: SeverityWarning, SlotID: before.ID,
			Message: fmt.Sprintf("%s needs a booking; check availability for the new time", before.Name())})
	}
	if f != nil && f.WeatherSensitive && dayChanged {
		vs = append(vs, Violation{Layer: LayerFragility, Severity: SeverityInfo, SlotID: before.ID,
			Message: fmt.Sprintf("%s is weather-sensitive; check the forecast for the new day", before.Name())})
	}
	if f != nil && f.CrowdSensitive && timesChanged {
		vs = append(vs, Violation{Layer: LayerFragility, Severity: SeverityInfo, SlotID: before.ID,
			Message: fmt.Sprintf("%s is crowd-sensitive at some hours", before.Name())})
	}
	return vs
}

func (e *Engine) clustering(it *models.Itinerary, s models.Slot, from, to int) []Violation {
	if s.ClusterID == "" {
		return nil
	}
	inCluster := func(d models.Day) int {
		return lo.CountBy(d.Slots, func(o models.Slot) bool { return o.ID != s.ID && o.ClusterID == s.ClusterID })
	}
	if inCluster(it.Days[from]) > 0 && inCluster(it.Days[to]) == 0 {
		return []Violation{{Layer: LayerClustering, Severity: SeverityWarning, SlotID: s.ID,
			Message: fmt.Sprintf("moving %s splits it from its %s cluster", s.Name(), s.ClusterID)}}
	}
	return nil
}

func (e *Engine) crossDay(it *models.Itinerary, s models.Slot, from, to int) []Violation {
	var vs []Violation
	if s.Behavior == models.BehaviorTravel {
		vs = append(vs, Violation{Layer: LayerCrossDay, Severity: SeverityError, SlotID: s.ID,
			Message: fmt.Sprintf("%s is a city transition on day %d and cannot move to day %d", s.Name(), from, to)})
	}
	target := it.Days[to].City
	if opt, ok := s.SelectedOption(); ok && target != "" && opt.Venue.City != "" && opt.Venue.City != target {
		vs = append(vs, Violation{Layer: LayerCrossDay, Severity: SeverityWarning, SlotID: s.ID,
			Message: fmt.Sprintf("%s is in %s but day %d is in %s", s.Name(), opt.Venue.City, to, target)})
	}
	return vs
}

// CheckPlacement validates a slot where it already sits in it, for slots
// that were just added or inserted.
func (e *Engine) CheckPlacement(it *models.Itinerary, slotID string) (Analysis, error) {
	di, si, ok := it.FindSlot(slotID)
	if !ok {
		return Analysis{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
	}
	touched := map[string]bool{slotID: true}
	vs, adj := e.checkDay(it.Days[di], touched, true)
	vs = append(vs, e.checkDependencies(it, touched)...)
	a := newAnalysis(vs, adj)
	a.Rigidity = Rigidity(it.Days[di].Slots[si])
	return a, nil
}

// RemovalImpact lists what removing a slot would leave dangling. Slots that
// depend on it make the removal infeasible.
func (e *Engine) RemovalImpact(it *models.Itinerary, slotID string) (Analysis, error) {
	di, si, ok := it.FindSlot(slotID)
	if !ok {
		return Analysis{}, fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
	}
	s := it.Days[di].Slots[si]
	var vs []Violation
	for _, d := range it.Days {
		for _, o := range d.Slots {
			if lo.Contains(o.DependsOn, slotID) {
				vs = append(vs, Violation{Layer: LayerDependencies, Severity: SeverityError, SlotID: o.ID, OtherID: slotID,
					Message: fmt.Sprintf("%s depends on %s", o.Name(), s.Name())})
			}
		}
	}
	if s.Fragility != nil && s.Fragility.BookingRequired {
		vs = append(vs, Violation{Layer: LayerFragility, Severity: SeverityWarning, SlotID: slotID,
			Message: fmt.Sprintf("%s has a booking that may need cancelling", s.Name())})
	}
	vs = append(vs, e.clustering(it, s, di, di)...)
	a := newAnalysis(vs, nil)
	a.Rigidity = Rigidity(s)
	return a, nil
}

// CheckRemoveDay reports what dropping a whole day would break. Locked
// slots in the day are errors.
func (e *Engine) CheckRemoveDay(it *models.Itinerary, dayIndex int) (Analysis, error) {
	if !it.HasDay(dayIndex) {
		return Analysis{}, fmt.Errorf("%w: %d", ErrDayOutOfRange, dayIndex)
	}
	day := it.Days[dayIndex]
	ids := make(map[string]bool, len(day.Slots))
	var vs []Violation
	for _, s := range day.Slots {
		ids[s.ID] = true
		if s.IsLocked {
			vs = append(vs, Violation{Layer: LayerFragility, Severity: SeverityError, SlotID: s.ID,
				Message: fmt.Sprintf("%s is locked", s.Name())})
		}
	}
	for _, d := range it.Days {
		if d.Index == dayIndex {
			continue
		}
		for _, s := range d.Slots {
			for _, dep := range s.DependsOn {
				if ids[dep] {
					vs = append(vs, Violation{Layer: LayerDependencies, Severity: SeverityWarning, SlotID: s.ID, OtherID: dep,
						Message: fmt.Sprintf("%s depends on %s on the removed day", s.Name(), dep)})
				}
			}
		}
	}
	if dayIndex > 0 && dayIndex < len(it.Days)-1 {
		prev, next := it.Days[dayIndex-1].City, it.Days[dayIndex+1].City
		if prev != "" && next != "" && prev != next {
			vs = append(vs, Violation{Layer: LayerCrossDay, Severity: SeverityWarning,
				Message: fmt.Sprintf("removing day %d leaves no day between %s and %s", dayIndex, prev, next)})
		}
	}
	return newAnalysis(vs, nil), nil
}
