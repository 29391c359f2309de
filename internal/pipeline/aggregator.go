// Package pipeline decides which engine events reach the traveller and with
// which actions. Events flow through a pre-filter, context aggregation, the
// rate limiting filter, quick rules and finally the generative recommender.
package pipeline

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/constraints"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/utils"
)

// StateSource is the read side of the execution engine.
type StateSource interface {
	Now() time.Time
	Version() uint64
	Snapshot() models.ExecutionState
	Itinerary() *models.Itinerary
	Executions() []models.ActivityExecution
}

// Input carries the external signals the engine does not own.
type Input struct {
	Weather         string
	TransitDelayMin int
	ClosedVenues    []string
}

type Aggregator struct {
	src      StateSource
	tz       TimezoneResolver
	fallback *time.Location
}

// NewAggregator builds an aggregator. tz may be nil, in which case every
// context uses the fallback zone.
func NewAggregator(src StateSource, tz TimezoneResolver, fallback *time.Location) *Aggregator {
	if fallback == nil {
		fallback = time.Local
	}
	return &Aggregator{src: src, tz: tz, fallback: fallback}
}

// Build assembles what the traveller needs to know right now.
func (a *Aggregator) Build(in Input) models.TripContext {
	st := a.src.Snapshot()
	loc := a.location(st.Location)
	tc := models.TripContext{
		TripID:              st.TripID,
		DayIndex:            st.DayIndex,
		Now:                 st.Now,
		LocalTime:           st.Now.In(loc).Format(constants.TimeFormat),
		Timezone:            loc.String(),
		Running:             st.Running,
		Paused:              st.Paused,
		AccumulatedDelayMin: st.AccumulatedDelayMin,
		CompletedCount:      st.CompletedCount,
		SkippedCount:        st.SkippedCount,
		Location:            st.Location,
		Weather:             in.Weather,
		TransitDelayMin:     in.TransitDelayMin,
		ClosedVenues:        slices.Clone(in.ClosedVenues),
		StateVersion:        st.Version,
	}
	if !st.Running {
		return tc
	}
	it := a.src.Itinerary()
	if it == nil || !it.HasDay(st.DayIndex) {
		return tc
	}
	day := it.Days[st.DayIndex]
	execs := a.src.Executions()

	cur := slices.IndexFunc(execs, func(x models.ActivityExecution) bool {
		return x.State.IsStarted() || x.State == models.StateArrived
	})
	next := -1
	for i := cur + 1; i < len(execs); i++ {
		if !execs[i].State.IsTerminal() {
			next = i
			break
		}
	}
	tc.RemainingCount = lo.CountBy(execs, func(x models.ActivityExecution) bool { return !x.State.IsTerminal() })

	remaining := 0
	var curSlot *models.Slot
	if cur >= 0 {
		if i, ok := day.FindSlot(execs[cur].SlotID); ok {
			curSlot = &day.Slots[i]
			tc.Current = slotContext(*curSlot, execs[cur], st.Now)
			remaining = tc.Current.MinutesRemaining
		}
	}
	if next >= 0 {
		if i, ok := day.FindSlot(execs[next].SlotID); ok {
			nextSlot := day.Slots[i]
			tc.Next = slotContext(nextSlot, execs[next], st.Now)
			tc.MinutesUntilNext = minutesBetween(st.Now, execs[next].ScheduledStart)
			if curSlot != nil {
				tc.CommuteMin = constraints.CommuteMinutes(*curSlot, nextSlot)
			} else {
				tc.CommuteMin = nextSlot.CommuteMin
			}
			tc.BufferMin = tc.MinutesUntilNext - remaining - tc.CommuteMin - in.TransitDelayMin
			if tc.Next.Booked && tc.BufferMin < 0 {
				tc.BookingsAtRisk = append(tc.BookingsAtRisk, nextSlot.ID)
			}
		}
	}
	tc.BookingsAtRisk = lo.Uniq(append(tc.BookingsAtRisk, shiftedBookings(day, execs)...))
	return tc
}

func (a *Aggregator) location(p *models.Coordinates) *time.Location {
	if p != nil && a.tz != nil {
		if loc, ok := a.tz.Resolve(*p); ok {
			return loc
		}
	}
	return a.fallback
}

func slotContext(s models.Slot, x models.ActivityExecution, now time.Time) *models.SlotContext {
	sc := &models.SlotContext{
		SlotID: s.ID,
		Name:   s.Name(),
		Type:   s.Type,
		Start:  x.ScheduledStart.Format(constants.TimeFormat),
		End:    x.ScheduledEnd.Format(constants.TimeFormat),
		State:  x.State,
		Booked: s.Fragility.IsBookingFixed(),
	}
	if opt, ok := s.SelectedOption(); ok {
		sc.Venue = opt.Venue.Name
		sc.VenueType = opt.Venue.Type
	}
	sc.MinutesRemaining = max(0, minutesBetween(now, x.ScheduledEnd))
	return sc
}

// shiftedBookings lists booked slots whose schedule has drifted past the
// booking time.
func shiftedBookings(day models.Day, execs []models.ActivityExecution) []string {
	var out []string
	for _, x := range execs {
		if x.State.IsTerminal() || x.State.IsStarted() {
			continue
		}
		i, ok := day.FindSlot(x.SlotID)
		if !ok || !day.Slots[i].Fragility.IsBookingFixed() {
			continue
		}
		booking, err := utils.ParseTimeToMinutes(day.Slots[i].Fragility.BookingTime)
		if err != nil {
			continue
		}
		if utils.MinuteOfDay(x.ScheduledStart) > booking {
			out = append(out, x.SlotID)
		}
	}
	return out
}

func minutesBetween(from, to time.Time) int {
	return int(to.Sub(from).Minutes())
}
