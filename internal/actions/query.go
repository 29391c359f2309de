package actions

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/julianstephens/wayfare/internal/constraints"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/utils"
)

type QueryKind string

const (
	QuerySummary QueryKind = "summary"
	QueryDay     QueryKind = "day"
	QuerySlot    QueryKind = "slot"
	QueryFree    QueryKind = "free"
)

// Gap is unscheduled time between two slots of a day.
type Gap struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Minutes int    `json:"minutes"`
}

// Answer is the read-only response to a query intent.
type Answer struct {
	Kind       QueryKind               `json:"kind"`
	TripID     string                  `json:"trip_id"`
	Version    int                     `json:"version"`
	Days       int                     `json:"days"`
	Slots      int                     `json:"slots"`
	Locked     int                     `json:"locked"`
	DayIndex   int                     `json:"day_index"`
	Day        *models.Day             `json:"day,omitempty"`
	Slot       *models.Slot            `json:"slot,omitempty"`
	Rigidity   float64                 `json:"rigidity,omitempty"`
	Violations []constraints.Violation `json:"violations,omitempty"`
	Gaps       []Gap                   `json:"gaps,omitempty"`
}

func (x *Executor) query(in Intent, it *models.Itinerary) Result {
	ans := &Answer{Kind: in.Query, TripID: it.TripID, Version: it.Version, Days: len(it.Days), DayIndex: in.DayIndex}
	for _, d := range it.Days {
		ans.Slots += len(d.Slots)
		ans.Locked += lo.CountBy(d.Slots, func(s models.Slot) bool { return s.IsLocked })
	}

	switch in.Query {
	case "", QuerySummary:
		ans.Kind = QuerySummary
		ans.Violations = x.constraints.Validate(it).Violations
		return Result{Success: true, Answer: ans,
			Message: fmt.Sprintf("%d days, %d slots, %d locked", ans.Days, ans.Slots, ans.Locked)}

	case QueryDay, QueryFree:
		if !it.HasDay(in.DayIndex) {
			return failure(fmt.Errorf("%w: %d", constraints.ErrDayOutOfRange, in.DayIndex), nil)
		}
		day := it.Days[in.DayIndex]
		ans.Day = &day
		if in.Query == QueryDay {
			ans.Violations = x.constraints.ValidateDay(day)
			return Result{Success: true, Answer: ans,
				Message: fmt.Sprintf("Day %d has %d slots", in.DayIndex, len(day.Slots))}
		}
		ans.Gaps = FreeGaps(day)
		total := lo.SumBy(ans.Gaps, func(g Gap) int { return g.Minutes })
		return Result{Success: true, Answer: ans,
			Message: fmt.Sprintf("Day %d has %d free min across %d gaps", in.DayIndex, total, len(ans.Gaps))}

	case QuerySlot:
		di, _, s, err := findSlot(it, in.SlotID)
		if err != nil {
			return failure(err, nil)
		}
		ans.DayIndex = di
		ans.Slot = &s
		ans.Rigidity = constraints.Rigidity(s)
		ans.Violations = lo.Filter(x.constraints.Validate(it).Violations, func(v constraints.Violation, _ int) bool {
			return v.SlotID == s.ID || v.OtherID == s.ID
		})
		return Result{Success: true, Answer: ans,
			Message: fmt.Sprintf("%s on day %d, %s-%s, rigidity %.1f", s.Name(), di, s.Start, s.End, ans.Rigidity)}
	}
	return failure(fmt.Errorf("%w: unknown query %q", ErrInvalidIntent, in.Query), nil)
}

// FreeGaps lists the open time between consecutive slots, by clock time.
func FreeGaps(day models.Day) []Gap {
	type span struct{ start, end int }
	var spans []span
	for _, s := range day.Slots {
		start, err1 := s.StartMin()
		end, err2 := s.EndMin()
		if err1 != nil || err2 != nil || end <= start {
			continue
		}
		spans = append(spans, span{start, end})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var gaps []Gap
	for i := 1; i < len(spans); i++ {
		prevEnd := spans[i-1].end
		for j := 0; j < i-1; j++ {
			prevEnd = max(prevEnd, spans[j].end)
		}
		if spans[i].start > prevEnd {
			gaps = append(gaps, Gap{
				Start:   utils.FormatMinutes(prevEnd),
				End:     utils.FormatMinutes(spans[i].start),
				Minutes: spans[i].start - prevEnd,
			})
		}
	}
	return gaps
}
