package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/pipeline"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(13)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	DangerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	stateColors = map[models.ActivityState]lipgloss.Color{
		models.StateUpcoming:   "240",
		models.StatePending:    "214",
		models.StateEnRoute:    "39",
		models.StateArrived:    "45",
		models.StateInProgress: "42",
		models.StateExtended:   "48",
		models.StateCompleted:  "34",
		models.StateSkipped:    "244",
		models.StateDeferred:   "178",
		models.StateReplaced:   "135",
	}
)

// StateBadge renders a slot state in its colour.
func StateBadge(s models.ActivityState) string {
	c, ok := stateColors[s]
	if !ok {
		c = "252"
	}
	return lipgloss.NewStyle().Foreground(c).Render(strings.ReplaceAll(string(s), "_", " "))
}

// SlotLine renders one slot of a day, with its state when one is known.
func SlotLine(s models.Slot, state models.ActivityState) string {
	var b strings.Builder
	b.WriteString(timeStyle.Render(s.Start + "-" + s.End))
	b.WriteString(nameStyle.Render(s.Name()))
	b.WriteString(MutedStyle.Render(fmt.Sprintf("  %s/%s", s.Type, s.Behavior)))
	if s.IsLocked {
		b.WriteString(WarningStyle.Render("  locked"))
	}
	if s.Fragility.IsBookingFixed() {
		b.WriteString(WarningStyle.Render("  booked " + s.Fragility.BookingTime))
	}
	if state != "" {
		b.WriteString("  " + StateBadge(state))
	}
	return b.String()
}

// ResultLine renders a pipeline result for the terminal.
func ResultLine(res pipeline.Result) string {
	ev := res.Event
	head := fmt.Sprintf("[%s] %s", ev.Priority, ev.Type)
	if !res.Show {
		return MutedStyle.Render(fmt.Sprintf("%s suppressed (%s: %s)", head, res.Source, res.Reason))
	}
	style := nameStyle
	if ev.Priority == models.PriorityUrgent {
		style = DangerStyle
	}
	var b strings.Builder
	b.WriteString(style.Render(head) + " " + ev.Message)
	if ev.Tip != "" {
		b.WriteString("\n    " + MutedStyle.Render(ev.Tip))
	}
	for _, a := range ev.Actions {
		b.WriteString(fmt.Sprintf("\n    → %s (%s)", a.Label, a.Type))
	}
	return b.String()
}
