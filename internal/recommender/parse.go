package recommender

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/julianstephens/wayfare/internal/models"
)

var ErrInvalidResponse = errors.New("invalid recommender response")

// A shown recommendation carries between MinActions and MaxActions actions.
const (
	MinActions = 2
	MaxActions = 4
)

type rawAction struct {
	Label   string            `json:"label"`
	Type    string            `json:"type"`
	SlotID  string            `json:"slotId"`
	Payload map[string]string `json:"payload"`
}

type rawRecommendation struct {
	Analysis   string      `json:"analysis"`
	ShouldShow *bool       `json:"shouldShow"`
	ShowReason string      `json:"showReason"`
	Message    string      `json:"message"`
	Tone       string      `json:"tone"`
	Actions    []rawAction `json:"actions"`
}

// Parse turns model output into a validated recommendation. It tolerates
// markdown fences, prose around the object and mildly broken JSON.
func Parse(raw string) (models.Recommendation, error) {
	obj, ok := firstObject(stripFences(raw))
	if !ok {
		return models.Recommendation{}, fmt.Errorf("%w: no JSON object found", ErrInvalidResponse)
	}

	var rr rawRecommendation
	if err := json.Unmarshal([]byte(obj), &rr); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(obj)
		if repairErr != nil {
			return models.Recommendation{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		rr = rawRecommendation{}
		if err := json.Unmarshal([]byte(fixed), &rr); err != nil {
			return models.Recommendation{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}
	return validate(rr)
}

func validate(rr rawRecommendation) (models.Recommendation, error) {
	if rr.ShouldShow == nil {
		return models.Recommendation{}, fmt.Errorf("%w: shouldShow is missing", ErrInvalidResponse)
	}
	rec := models.Recommendation{
		Analysis:   strings.TrimSpace(rr.Analysis),
		ShouldShow: *rr.ShouldShow,
		ShowReason: strings.TrimSpace(rr.ShowReason),
		Message:    strings.TrimSpace(rr.Message),
		Tone:       models.Tone(strings.ToLower(strings.TrimSpace(rr.Tone))),
	}
	if !rec.ShouldShow {
		return rec, nil
	}
	if rec.Message == "" {
		return rec, fmt.Errorf("%w: message is empty", ErrInvalidResponse)
	}
	if !models.KnownTones[rec.Tone] {
		return rec, fmt.Errorf("%w: unknown tone %q", ErrInvalidResponse, rr.Tone)
	}
	if len(rr.Actions) < MinActions || len(rr.Actions) > MaxActions {
		return rec, fmt.Errorf("%w: expected %d-%d actions, got %d", ErrInvalidResponse, MinActions, MaxActions, len(rr.Actions))
	}
	for _, a := range rr.Actions {
		t := models.ActionType(strings.ToLower(strings.TrimSpace(a.Type)))
		if !models.KnownActionTypes[t] {
			return rec, fmt.Errorf("%w: unknown action type %q", ErrInvalidResponse, a.Type)
		}
		label := strings.TrimSpace(a.Label)
		if label == "" {
			label = labelFor(t)
		}
		act := models.NewAction(t, label, a.SlotID)
		act.Payload = a.Payload
		rec.Actions = append(rec.Actions, act)
	}
	return rec, nil
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// firstObject extracts the first balanced {...} block, ignoring braces
// inside strings. An unbalanced tail is returned as-is for repair.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], true
}
