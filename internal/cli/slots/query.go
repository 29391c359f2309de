package slots

import (
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/wayfare/internal/actions"
	"github.com/julianstephens/wayfare/internal/cli"
)

type SlotQueryCmd struct {
	TripID string `arg:"" help:"Trip to inspect."`
	Kind   string `arg:"" help:"What to ask (summary|day|slot|free)." enum:"summary,day,slot,free" default:"summary"`
	Day    int    `help:"Day index for day and free queries." default:"0"`
	Slot   string `help:"Slot id for slot queries."`
}

func (c *SlotQueryCmd) Run(ctx *cli.Context) error {
	res, err := apply(ctx, c.TripID, actions.Intent{
		Type: actions.IntentQuery, Query: actions.QueryKind(c.Kind), DayIndex: c.Day, SlotID: c.Slot,
	})
	if err != nil {
		return err
	}
	ctx.Println(res.Message)
	ans := res.Answer
	if ans == nil {
		return nil
	}
	if ans.Day != nil && ans.Kind == actions.QueryDay {
		for _, s := range ans.Day.Slots {
			ctx.Println("  " + cli.SlotLine(s, ""))
		}
	}
	for _, g := range ans.Gaps {
		ctx.Printf("  %s-%s  %d min free\n", g.Start, g.End, g.Minutes)
	}
	printAnalysis(ctx, res.Analysis)
	for _, v := range ans.Violations {
		ctx.Println(cli.WarningStyle.Render(fmt.Sprintf("  %s %s: %s", v.Severity, v.Layer, v.Message)))
	}
	return nil
}

type SlotOptimizeCmd struct {
	TripID      string `arg:"" help:"Trip to inspect."`
	Apply       []int  `help:"Apply the suggestions with these numbers."`
	AutoApply   bool   `help:"Apply every suggestion that carries a change."`
	Interactive bool   `help:"Review each suggestion and choose whether to apply it."`
}

func (c *SlotOptimizeCmd) Validate() error {
	modes := 0
	for _, on := range []bool{len(c.Apply) > 0, c.AutoApply, c.Interactive} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return fmt.Errorf("--apply, --auto-apply and --interactive cannot be combined")
	}
	return nil
}

// choose asks whether to apply one suggestion. It returns "apply", "skip"
// or "skip_all".
var choose = func(title string) (string, error) {
	var choice string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(title).
				Options(
					huh.NewOption("Apply", "apply"),
					huh.NewOption("Skip", "skip"),
					huh.NewOption("Skip remaining", "skip_all"),
				).
				Value(&choice),
		),
	).WithTheme(huh.ThemeBase())
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("interactive form error: %w", err)
	}
	return choice, nil
}

func (c *SlotOptimizeCmd) Run(ctx *cli.Context) error {
	s, err := ctx.Session(c.TripID)
	if err != nil {
		return err
	}
	res, err := applyIn(ctx, s, actions.Intent{Type: actions.IntentOptimize})
	if err != nil {
		return err
	}
	ctx.Println(res.Message)
	for i, sg := range res.Suggestions {
		ctx.Println(suggestionLine(i+1, sg))
	}

	switch {
	case len(c.Apply) > 0:
		for _, n := range c.Apply {
			if n < 1 || n > len(res.Suggestions) {
				return fmt.Errorf("no suggestion %d", n)
			}
			if err := applySuggestion(ctx, s, n, res.Suggestions[n-1]); err != nil {
				return err
			}
		}
	case c.AutoApply:
		applied := 0
		for i, sg := range res.Suggestions {
			if sg.Intent == nil {
				continue
			}
			if err := applySuggestion(ctx, s, i+1, sg); err != nil {
				ctx.Println(cli.DangerStyle.Render("  ❌ " + err.Error()))
				continue
			}
			applied++
		}
		ctx.Printf("Applied %d suggestion(s)\n", applied)
	case c.Interactive:
		return c.review(ctx, s, res.Suggestions)
	}
	return nil
}

func (c *SlotOptimizeCmd) review(ctx *cli.Context, s *actions.Session, suggestions []actions.Suggestion) error {
	applied, skipped := 0, 0
	for i, sg := range suggestions {
		if sg.Intent == nil {
			continue
		}
		choice, err := choose(fmt.Sprintf("[%d/%d] Apply %s for %s?", i+1, len(suggestions), sg.Type, sg.SlotName))
		if err != nil {
			return err
		}
		if choice == "skip_all" {
			skipped += len(suggestions) - i
			break
		}
		if choice != "apply" {
			skipped++
			continue
		}
		if err := applySuggestion(ctx, s, i+1, sg); err != nil {
			ctx.Println(cli.DangerStyle.Render("  ❌ " + err.Error()))
			continue
		}
		applied++
	}
	ctx.Printf("Completed: %d applied, %d skipped\n", applied, skipped)
	return nil
}

// applySuggestion runs a suggestion's intent against the session's current
// snapshot; each applied change bumps the version, so it is re-pinned.
func applySuggestion(ctx *cli.Context, s *actions.Session, n int, sg actions.Suggestion) error {
	if sg.Intent == nil {
		ctx.Println(cli.MutedStyle.Render(fmt.Sprintf("  suggestion %d is advice only", n)))
		return nil
	}
	in := *sg.Intent
	in.BaseVersion = 0
	if _, err := applyIn(ctx, s, in); err != nil {
		return fmt.Errorf("suggestion %d: %w", n, err)
	}
	return nil
}

func suggestionLine(n int, sg actions.Suggestion) string {
	line := fmt.Sprintf("  %d. [%s] %s: %s", n, sg.Type, sg.SlotName, sg.Reason)
	if sg.SuggestedValue != nil {
		line += fmt.Sprintf(" (%v → %v)", sg.CurrentValue, sg.SuggestedValue)
	}
	return line
}
