package recommender

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/julianstephens/wayfare/internal/models"
)

// Fallback returns the actions to show when no recommendation is available:
// the event's own actions (at most four, padded with a dismiss when it has
// only one) or a confirm/dismiss pair.
func Fallback(ev models.QueuedEvent) []models.ResponseAction {
	own := ev.Clone().Actions
	switch {
	case len(own) >= 2:
		if len(own) > MaxActions {
			own = own[:MaxActions]
		}
		return own
	case len(own) == 1:
		if own[0].Type == models.ActionDismiss {
			return []models.ResponseAction{models.NewAction(models.ActionConfirm, labelFor(models.ActionConfirm), ev.SlotID), own[0]}
		}
		return append(own, models.NewAction(models.ActionDismiss, labelFor(models.ActionDismiss), ev.SlotID))
	}
	return []models.ResponseAction{
		models.NewAction(models.ActionConfirm, labelFor(models.ActionConfirm), ev.SlotID),
		models.NewAction(models.ActionDismiss, labelFor(models.ActionDismiss), ev.SlotID),
	}
}

// labelFor renders an action type as a button label, "check_in" -> "Check In".
func labelFor(t models.ActionType) string {
	if t == models.ActionConfirm {
		return "OK"
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(t), "_", " "))
}
