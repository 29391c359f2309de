package slots

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/julianstephens/wayfare/internal/actions"
	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/constraints"
)

// apply runs intent against the newest version of tripID. A successful
// change is stored as a new version and its undo intent is logged.
func apply(ctx *cli.Context, tripID string, intent actions.Intent) (actions.Result, error) {
	s, err := ctx.Session(tripID)
	if err != nil {
		return actions.Result{}, err
	}
	return applyIn(ctx, s, intent)
}

func applyIn(ctx *cli.Context, s *actions.Session, intent actions.Intent) (actions.Result, error) {
	if intent.BaseVersion == 0 {
		intent.BaseVersion = s.Current().Version
	}
	res, err := s.Apply(intent)
	if err != nil {
		return res, err
	}
	if !res.Success {
		printAnalysis(ctx, res.Analysis)
		return res, errors.New(res.Message)
	}
	if !intent.Type.ReadOnly() {
		report(ctx, res)
	}
	return res, nil
}

func report(ctx *cli.Context, res actions.Result) {
	ctx.Printf("✓ %s (v%d)\n", res.Message, res.Itinerary.Version)
	printAnalysis(ctx, res.Analysis)
}

func printAnalysis(ctx *cli.Context, a *constraints.Analysis) {
	if a == nil {
		return
	}
	for _, v := range a.Violations {
		style := cli.MutedStyle
		switch v.Severity {
		case constraints.SeverityError:
			style = cli.DangerStyle
		case constraints.SeverityWarning:
			style = cli.WarningStyle
		}
		ctx.Println(style.Render(fmt.Sprintf("  %s %s: %s", v.Severity, v.Layer, v.Message)))
	}
	for _, adj := range a.Adjustments {
		ctx.Println(cli.MutedStyle.Render(fmt.Sprintf("  %s shifted to %s-%s: %s", adj.SlotID, adj.Start, adj.End, adj.Reason)))
	}
}

type SlotUndoCmd struct {
	TripID string `arg:"" help:"Trip to undo the last change of."`
}

func (c *SlotUndoCmd) Run(ctx *cli.Context) error {
	s, err := ctx.Session(c.TripID)
	if err != nil {
		return err
	}
	res, err := s.Undo()
	if err != nil {
		return err
	}
	if !res.Success {
		if errors.Is(res.Err, actions.ErrNothingToUndo) {
			return res.Err
		}
		return fmt.Errorf("undo failed: %s", res.Message)
	}
	report(ctx, res)
	return nil
}

type SlotApplyCmd struct {
	TripID string `arg:"" help:"Trip to change."`
	Intent string `arg:"" help:"Intent as JSON, e.g. '{\"type\":\"swap\",\"slot_id\":\"a\",\"other_slot_id\":\"b\"}'."`
}

func (c *SlotApplyCmd) Run(ctx *cli.Context) error {
	var in actions.Intent
	if err := json.Unmarshal([]byte(c.Intent), &in); err != nil {
		return fmt.Errorf("failed to parse intent: %w", err)
	}
	res, err := apply(ctx, c.TripID, in)
	if err != nil {
		return err
	}
	if in.Type.ReadOnly() {
		enc := json.NewEncoder(ctx.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return nil
}
