package execs

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/cli/clitest"
	"github.com/julianstephens/wayfare/internal/execution"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/storage"
)

func started(t *testing.T) (*cli.Context, *bytes.Buffer) {
	t.Helper()
	ctx, out := clitest.NewContext(t)
	clitest.Seed(t, ctx, clitest.Itinerary())
	require.NoError(t, (&ExecStartCmd{TripID: "kyoto", At: "09:00"}).Run(ctx))
	return ctx, out
}

func slotState(t *testing.T, ctx *cli.Context, slotID string) models.ActivityState {
	t.Helper()
	rec, err := ctx.Store.GetExecutionRecord("kyoto")
	require.NoError(t, err)
	return rec.SlotStates[slotID]
}

func TestStartPersistsRecord(t *testing.T) {
	ctx, _ := started(t)

	rec, err := ctx.Store.GetExecutionRecord("kyoto")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.DayIndex)
	assert.Equal(t, models.StatePending, rec.SlotStates["a"])
	assert.Equal(t, models.StateUpcoming, rec.SlotStates["c"])

	err = (&ExecStartCmd{TripID: "kyoto"}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	require.NoError(t, (&ExecStartCmd{TripID: "kyoto", Day: 1, At: "09:00", Force: true}).Run(ctx))
	rec, err = ctx.Store.GetExecutionRecord("kyoto")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DayIndex)
}

func TestStartValidatesTime(t *testing.T) {
	assert.Error(t, (&ExecStartCmd{TripID: "kyoto", At: "9am"}).Validate())
	assert.NoError(t, (&ExecStartCmd{TripID: "kyoto", At: "09:30"}).Validate())
}

func TestCheckInCheckOutAcrossCommands(t *testing.T) {
	ctx, out := started(t)

	require.NoError(t, (&ExecCheckInCmd{TripID: "kyoto", SlotID: "a"}).Run(ctx))
	assert.Equal(t, models.StateInProgress, slotState(t, ctx, "a"))

	require.NoError(t, (&ExecCheckOutCmd{TripID: "kyoto", SlotID: "a", Rating: 4}).Run(ctx))
	assert.Equal(t, models.StateCompleted, slotState(t, ctx, "a"))

	require.NoError(t, (&ExecStatusCmd{TripID: "kyoto"}).Run(ctx))
	assert.Contains(t, out.String(), "★★★★")
	assert.Contains(t, out.String(), "1 completed, 0 skipped")

	log, err := ctx.Store.GetTransitions("kyoto", 0)
	require.NoError(t, err)
	var tos []models.ActivityState
	for _, tr := range log {
		if tr.SlotID == "a" {
			tos = append(tos, tr.To)
		}
	}
	assert.Contains(t, tos, models.StateInProgress)
	assert.Contains(t, tos, models.StateCompleted)
}

func TestCheckOutRejectsBadRating(t *testing.T) {
	err := (&ExecCheckOutCmd{TripID: "kyoto", SlotID: "a", Rating: 9}).Validate()
	assert.ErrorIs(t, err, execution.ErrInvalidRating)
}

func TestSkipAndStop(t *testing.T) {
	ctx, _ := started(t)

	require.NoError(t, (&ExecSkipCmd{TripID: "kyoto", SlotID: "b", Reason: "tired"}).Run(ctx))
	assert.Equal(t, models.StateSkipped, slotState(t, ctx, "b"))

	require.NoError(t, (&ExecStopCmd{TripID: "kyoto"}).Run(ctx))
	_, err := ctx.Store.GetExecutionRecord("kyoto")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = (&ExecStatusCmd{TripID: "kyoto"}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wayfare exec start")
}

func TestPauseResume(t *testing.T) {
	ctx, _ := started(t)

	require.NoError(t, (&ExecPauseCmd{TripID: "kyoto", Reason: "rain"}).Run(ctx))
	rec, err := ctx.Store.GetExecutionRecord("kyoto")
	require.NoError(t, err)
	assert.True(t, rec.Paused)

	require.NoError(t, (&ExecResumeCmd{TripID: "kyoto"}).Run(ctx))
	rec, err = ctx.Store.GetExecutionRecord("kyoto")
	require.NoError(t, err)
	assert.False(t, rec.Paused)
}

func TestTickAdvance(t *testing.T) {
	ctx, _ := started(t)
	before, err := ctx.Store.GetExecutionRecord("kyoto")
	require.NoError(t, err)

	require.NoError(t, (&ExecTickCmd{TripID: "kyoto", Advance: 30 * time.Minute}).Run(ctx))
	after, err := ctx.Store.GetExecutionRecord("kyoto")
	require.NoError(t, err)
	assert.False(t, after.SimulatedTime.Before(before.SimulatedTime.Add(30*time.Minute)))
}

func TestLocateValidates(t *testing.T) {
	assert.Error(t, (&ExecLocateCmd{Lat: 91}).Validate())
	assert.NoError(t, (&ExecLocateCmd{Lat: 34.9, Lng: 135.7}).Validate())
}
