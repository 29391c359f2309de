package slots

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/julianstephens/wayfare/internal/actions"
	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/utils"
)

type SlotMoveCmd struct {
	TripID   string `arg:"" help:"Trip to change."`
	SlotID   string `arg:"" help:"Slot to move."`
	Day      int    `help:"Target day index (0-based)." required:""`
	Start    string `help:"New start time (HH:MM); the duration is kept."`
	Position *int   `help:"Position within the target day."`
	Override bool   `help:"Apply even when the move breaks a soft constraint."`
}

func (c *SlotMoveCmd) Validate() error {
	if c.Start != "" && !utils.ValidateTimeFormat(c.Start) {
		return fmt.Errorf("--start must be HH:MM, got %q", c.Start)
	}
	return nil
}

func (c *SlotMoveCmd) Run(ctx *cli.Context) error {
	_, err := apply(ctx, c.TripID, actions.Intent{
		Type: actions.IntentMove, SlotID: c.SlotID, DayIndex: c.Day,
		Start: c.Start, Position: c.Position, Override: c.Override,
	})
	return err
}

type SlotSwapCmd struct {
	TripID   string `arg:"" help:"Trip to change."`
	SlotID   string `arg:"" help:"First slot."`
	Other    string `arg:"" help:"Second slot."`
	Override bool   `help:"Apply even when the swap breaks a soft constraint."`
}

func (c *SlotSwapCmd) Run(ctx *cli.Context) error {
	_, err := apply(ctx, c.TripID, actions.Intent{Type: actions.IntentSwap, SlotID: c.SlotID, OtherSlotID: c.Other, Override: c.Override})
	return err
}

type SlotRemoveCmd struct {
	TripID   string `arg:"" help:"Trip to change."`
	SlotID   string `arg:"" help:"Slot to remove."`
	Override bool   `help:"Remove even when other slots depend on it."`
}

func (c *SlotRemoveCmd) Run(ctx *cli.Context) error {
	_, err := apply(ctx, c.TripID, actions.Intent{Type: actions.IntentRemove, SlotID: c.SlotID, Override: c.Override})
	return err
}

type SlotRemoveOptionCmd struct {
	TripID string `arg:"" help:"Trip to change."`
	SlotID string `arg:"" help:"Slot whose option to remove."`
	Index  int    `arg:"" help:"Option index."`
}

func (c *SlotRemoveOptionCmd) Run(ctx *cli.Context) error {
	_, err := apply(ctx, c.TripID, actions.Intent{Type: actions.IntentRemoveOption, SlotID: c.SlotID, OptionIndex: c.Index})
	return err
}

type SlotLockCmd struct {
	TripID string `arg:"" help:"Trip to change."`
	SlotID string `arg:"" help:"Slot to lock."`
}

func (c *SlotLockCmd) Run(ctx *cli.Context) error {
	_, err := apply(ctx, c.TripID, actions.Intent{Type: actions.IntentLock, SlotID: c.SlotID})
	return err
}

type SlotUnlockCmd struct {
	TripID string `arg:"" help:"Trip to change."`
	SlotID string `arg:"" help:"Slot to unlock."`
}

func (c *SlotUnlockCmd) Run(ctx *cli.Context) error {
	_, err := apply(ctx, c.TripID, actions.Intent{Type: actions.IntentUnlock, SlotID: c.SlotID})
	return err
}

type SlotPrioritizeCmd struct {
	TripID string `arg:"" help:"Trip to change."`
	SlotID string `arg:"" help:"Slot to make harder to move."`
}

func (c *SlotPrioritizeCmd) Run(ctx *cli.Context) error {
	_, err := apply(ctx, c.TripID, actions.Intent{Type: actions.IntentPrioritize, SlotID: c.SlotID})
	return err
}

type SlotDeprioritizeCmd struct {
	TripID string `arg:"" help:"Trip to change."`
	SlotID string `arg:"" help:"Slot to make easier to move or drop."`
}

func (c *SlotDeprioritizeCmd) Run(ctx *cli.Context) error {
	_, err := apply(ctx, c.TripID, actions.Intent{Type: actions.IntentDeprioritize, SlotID: c.SlotID})
	return err
}

type SlotAddCmd struct {
	TripID   string  `arg:"" help:"Trip to change."`
	Day      int     `help:"Day index (0-based)." required:""`
	File     string  `help:"Slot as a JSON file; the flags below are ignored when set." type:"existingfile"`
	Type     string  `help:"Slot type (morning|breakfast|lunch|afternoon|dinner|evening)." default:"afternoon"`
	Start    string  `help:"Start time (HH:MM)."`
	End      string  `help:"End time (HH:MM)."`
	Name     string  `help:"Activity name."`
	Venue    string  `help:"Venue type." default:"other"`
	Lat      float64 `help:"Venue latitude."`
	Lng      float64 `help:"Venue longitude."`
	Lock     bool    `help:"Lock the new slot."`
	Override bool    `help:"Add even when the slot breaks a soft constraint."`
}

func (c *SlotAddCmd) Validate() error {
	if c.File != "" {
		return nil
	}
	if !utils.ValidateTimeFormat(c.Start) || !utils.ValidateTimeFormat(c.End) {
		return errors.New("--start and --end must be HH:MM")
	}
	if models.SlotType(c.Type).Rank() == len(models.SlotTypeOrder) {
		return fmt.Errorf("unknown slot type %q", c.Type)
	}
	if c.Name == "" {
		return errors.New("--name is required")
	}
	return nil
}

func (c *SlotAddCmd) slot() (models.Slot, error) {
	if c.File != "" {
		var s models.Slot
		data, err := os.ReadFile(c.File)
		if err != nil {
			return s, fmt.Errorf("failed to read %s: %w", c.File, err)
		}
		if err := json.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse slot: %w", err)
		}
		return s, nil
	}
	start, _ := utils.ParseTimeToMinutes(c.Start)
	end, _ := utils.ParseTimeToMinutes(c.End)
	dur := end - start
	if dur <= 0 {
		dur += 24 * 60
	}
	return models.Slot{
		ID:    uuid.NewString(),
		Type:  models.SlotType(c.Type),
		Start: c.Start,
		End:   c.End,
		Options: []models.ActivityOption{{
			ID:          uuid.NewString(),
			Rank:        1,
			Name:        c.Name,
			Venue:       models.Venue{Name: c.Name, Type: models.VenueType(c.Venue), Location: models.Coordinates{Lat: c.Lat, Lng: c.Lng}},
			DurationMin: dur,
		}},
		IsLocked: c.Lock,
	}, nil
}

func (c *SlotAddCmd) Run(ctx *cli.Context) error {
	s, err := c.slot()
	if err != nil {
		return err
	}
	_, err = apply(ctx, c.TripID, actions.Intent{Type: actions.IntentAdd, DayIndex: c.Day, Slot: &s, Override: c.Override})
	return err
}

type SlotRemoveDayCmd struct {
	TripID   string `arg:"" help:"Trip to change."`
	Day      int    `arg:"" help:"Day index (0-based)."`
	Override bool   `help:"Remove even when the day holds locked slots."`
}

func (c *SlotRemoveDayCmd) Run(ctx *cli.Context) error {
	_, err := apply(ctx, c.TripID, actions.Intent{Type: actions.IntentRemoveDay, DayIndex: c.Day, Override: c.Override})
	return err
}
