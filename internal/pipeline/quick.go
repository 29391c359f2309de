package pipeline

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/models"
)

// QuickRules answers common situations without the recommender. Answers
// the recommender gave for a situation shape are reused for the same shape.
type QuickRules struct {
	ampleBufferMin int
	cache          *lru.Cache[string, models.Recommendation]
}

func NewQuickRules(ampleBufferMin, size int) (*QuickRules, error) {
	if ampleBufferMin <= 0 {
		ampleBufferMin = constants.DefaultAmpleBufferMin
	}
	if size <= 0 {
		size = constants.DefaultQuickCacheSize
	}
	c, err := lru.New[string, models.Recommendation](size)
	if err != nil {
		return nil, err
	}
	return &QuickRules{ampleBufferMin: ampleBufferMin, cache: c}, nil
}

// Recommend returns a deterministic recommendation when one applies.
func (q *QuickRules) Recommend(ev models.QueuedEvent, tc models.TripContext) (models.Recommendation, bool) {
	switch ev.Type {
	case models.EventActivityEnding, models.EventDepartureReminder:
		if tc.Next != nil && tc.BufferMin >= q.ampleBufferMin && len(tc.BookingsAtRisk) == 0 {
			return models.Recommendation{
				Analysis:   fmt.Sprintf("%d minutes of buffer before %s", tc.BufferMin, tc.Next.Name),
				ShouldShow: false,
				ShowReason: "ample time and no booking at risk",
			}, true
		}
	case models.EventMorningBriefing:
		return models.Recommendation{
			ShouldShow: true,
			ShowReason: "start of day",
			Message:    ev.Message,
			Tone:       models.ToneFriendly,
			Actions: []models.ResponseAction{
				models.NewAction(models.ActionStartDay, "Start Day", ""),
				models.NewAction(models.ActionViewDay, "View Day", ""),
				models.NewAction(models.ActionDismiss, "Later", ""),
			},
		}, true
	case models.EventConfirmCompletion:
		return models.Recommendation{
			ShouldShow: true,
			ShowReason: "completion needs confirming",
			Message:    ev.Message,
			Tone:       models.ToneCalm,
			Actions: []models.ResponseAction{
				models.NewAction(models.ActionCheckOut, "Yes, done", ev.SlotID),
				models.NewAction(models.ActionExtend, "Staying longer", ev.SlotID),
				models.NewAction(models.ActionDismiss, "Not yet", ev.SlotID),
			},
		}, true
	}

	rec, ok := q.cache.Get(shapeKey(ev, tc))
	if !ok {
		return models.Recommendation{}, false
	}
	// cached wording belongs to another slot
	rec.Message = ev.Message
	rec.Actions = lo.Map(rec.Actions, func(a models.ResponseAction, _ int) models.ResponseAction {
		return models.NewAction(a.Type, a.Label, ev.SlotID)
	})
	return rec, true
}

// Remember stores a recommender answer under the event's situation shape.
func (q *QuickRules) Remember(ev models.QueuedEvent, tc models.TripContext, rec models.Recommendation) {
	q.cache.Add(shapeKey(ev, tc), rec)
}

func (q *QuickRules) Len() int { return q.cache.Len() }

// shapeKey buckets the parts of a situation that decide the answer.
func shapeKey(ev models.QueuedEvent, tc models.TripContext) string {
	var state models.ActivityState
	if tc.Current != nil {
		state = tc.Current.State
	}
	return fmt.Sprintf("%s|%s|%s|%t|%s", ev.Type, ev.Priority, bufferBucket(tc.BufferMin), len(tc.BookingsAtRisk) > 0, state)
}

func bufferBucket(m int) string {
	switch {
	case m < 0:
		return "late"
	case m < 10:
		return "tight"
	case m < constants.DefaultAmpleBufferMin:
		return "ok"
	}
	return "ample"
}
