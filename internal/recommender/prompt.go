package recommender

import (
	"encoding/json"

	"github.com/julianstephens/wayfare/internal/models"
)

const systemPrompt = `You decide whether a travel notification should interrupt the traveller and which actions it offers.
Reply with one JSON object and nothing else:
{"analysis": string, "shouldShow": bool, "showReason": string, "message": string,
 "tone": "friendly"|"urgent"|"calm"|"informative",
 "actions": [{"label": string, "type": string, "slotId": string}]}
Allowed action types: confirm, dismiss, check_in, check_out, extend, skip, navigate, reschedule,
view_alternatives, view_day, start_day, snooze, open_booking.
Offer 2 to 4 actions when shouldShow is true. Keep the message under 140 characters.
Do not interrupt for information the traveller already has or when there is ample time and nothing is at risk.`

type promptPayload struct {
	Event   models.QueuedEvent `json:"event"`
	Context models.TripContext `json:"context"`
}

func userPrompt(ev models.QueuedEvent, tc models.TripContext) (string, error) {
	b, err := json.Marshal(promptPayload{Event: ev, Context: tc})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
