package slots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/cli/clitest"
	"github.com/julianstephens/wayfare/internal/models"
)

func seeded(t *testing.T) *cli.Context {
	t.Helper()
	ctx, _ := clitest.NewContext(t)
	clitest.Seed(t, ctx, clitest.Itinerary())
	return ctx
}

func latest(t *testing.T, ctx *cli.Context) *models.Itinerary {
	t.Helper()
	it, err := ctx.Store.GetItinerary("kyoto")
	require.NoError(t, err)
	return it
}

func TestLockAndUndo(t *testing.T) {
	ctx := seeded(t)

	require.NoError(t, (&SlotLockCmd{TripID: "kyoto", SlotID: "b"}).Run(ctx))
	it := latest(t, ctx)
	assert.Equal(t, 2, it.Version)
	s, ok := it.Slot("b")
	require.True(t, ok)
	assert.True(t, s.IsLocked)

	require.NoError(t, (&SlotUndoCmd{TripID: "kyoto"}).Run(ctx))
	it = latest(t, ctx)
	assert.Equal(t, 3, it.Version)
	s, _ = it.Slot("b")
	assert.False(t, s.IsLocked)

	err := (&SlotUndoCmd{TripID: "kyoto"}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to undo")
}

func TestUndoWalksBackSeveralChanges(t *testing.T) {
	ctx := seeded(t)
	before := latest(t, ctx)

	require.NoError(t, (&SlotLockCmd{TripID: "kyoto", SlotID: "b"}).Run(ctx))
	require.NoError(t, (&SlotDeprioritizeCmd{TripID: "kyoto", SlotID: "c"}).Run(ctx))
	require.NoError(t, (&SlotLockCmd{TripID: "kyoto", SlotID: "d"}).Run(ctx))

	for i := 0; i < 3; i++ {
		require.NoError(t, (&SlotUndoCmd{TripID: "kyoto"}).Run(ctx), "undo %d", i+1)
	}
	it := latest(t, ctx)
	assert.Equal(t, 7, it.Version)
	assert.Equal(t, before.Days, it.Days)

	err := (&SlotUndoCmd{TripID: "kyoto"}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to undo")
}

func TestUndoDropsEntryAfterReimport(t *testing.T) {
	ctx := seeded(t)
	require.NoError(t, (&SlotLockCmd{TripID: "kyoto", SlotID: "b"}).Run(ctx))

	// a replaced itinerary makes the logged undo stale
	re := clitest.Itinerary()
	re.Version = latest(t, ctx).Version + 1
	require.NoError(t, ctx.Store.SaveItinerary(re))

	err := (&SlotUndoCmd{TripID: "kyoto"}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")

	err = (&SlotUndoCmd{TripID: "kyoto"}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to undo")
}

func booked() *models.Itinerary {
	it := clitest.Itinerary()
	it.Days[0].Slots[1].Fragility = &models.Fragility{BookingRequired: true, BookingTime: "11:00"}
	it.Days[1].Slots[0].Fragility = &models.Fragility{BookingRequired: true, BookingTime: "09:00"}
	return it
}

func locked(t *testing.T, ctx *cli.Context, id string) bool {
	t.Helper()
	s, ok := latest(t, ctx).Slot(id)
	require.True(t, ok)
	return s.IsLocked
}

func TestOptimizeAutoApply(t *testing.T) {
	ctx, out := clitest.NewContext(t)
	clitest.Seed(t, ctx, booked())

	require.NoError(t, (&SlotOptimizeCmd{TripID: "kyoto", AutoApply: true}).Run(ctx))
	assert.Contains(t, out.String(), "lock_booking")
	assert.True(t, locked(t, ctx, "b"))
	assert.True(t, locked(t, ctx, "d"))

	// every applied suggestion can be undone
	require.NoError(t, (&SlotUndoCmd{TripID: "kyoto"}).Run(ctx))
	require.NoError(t, (&SlotUndoCmd{TripID: "kyoto"}).Run(ctx))
	assert.False(t, locked(t, ctx, "b"))
	assert.False(t, locked(t, ctx, "d"))
}

func TestOptimizeInteractive(t *testing.T) {
	ctx, out := clitest.NewContext(t)
	clitest.Seed(t, ctx, booked())

	var asked []string
	answers := []string{"skip", "apply"}
	orig := choose
	t.Cleanup(func() { choose = orig })
	choose = func(title string) (string, error) {
		asked = append(asked, title)
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}

	require.NoError(t, (&SlotOptimizeCmd{TripID: "kyoto", Interactive: true}).Run(ctx))
	assert.Len(t, asked, 2)
	assert.False(t, locked(t, ctx, "b"))
	assert.True(t, locked(t, ctx, "d"))
	assert.Contains(t, out.String(), "Completed: 1 applied, 1 skipped")
}

func TestOptimizeModesAreExclusive(t *testing.T) {
	assert.Error(t, (&SlotOptimizeCmd{AutoApply: true, Interactive: true}).Validate())
	assert.Error(t, (&SlotOptimizeCmd{Apply: []int{1}, AutoApply: true}).Validate())
	assert.NoError(t, (&SlotOptimizeCmd{Interactive: true}).Validate())
}

func TestRemoveGuardsDependents(t *testing.T) {
	ctx, _ := clitest.NewContext(t)
	it := clitest.Itinerary()
	it.Days[0].Slots[2].DependsOn = []string{"b"}
	clitest.Seed(t, ctx, it)

	err := (&SlotRemoveCmd{TripID: "kyoto", SlotID: "b"}).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, latest(t, ctx).Version)

	require.NoError(t, (&SlotRemoveCmd{TripID: "kyoto", SlotID: "b", Override: true}).Run(ctx))
	_, ok := latest(t, ctx).Slot("b")
	assert.False(t, ok)
}

func TestSwap(t *testing.T) {
	ctx := seeded(t)

	require.NoError(t, (&SlotSwapCmd{TripID: "kyoto", SlotID: "a", Other: "c", Override: true}).Run(ctx))
	it := latest(t, ctx)
	a, _ := it.Slot("a")
	c, _ := it.Slot("c")
	assert.Equal(t, "13:00", a.Start)
	assert.Equal(t, "09:00", c.Start)
}

func TestUnknownSlotFails(t *testing.T) {
	ctx := seeded(t)

	err := (&SlotLockCmd{TripID: "kyoto", SlotID: "zz"}).Run(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, latest(t, ctx).Version)
}

func TestAddValidates(t *testing.T) {
	assert.Error(t, (&SlotAddCmd{Start: "9", End: "10:00", Name: "x", Type: "morning"}).Validate())
	assert.Error(t, (&SlotAddCmd{Start: "09:00", End: "10:00", Name: "x", Type: "brunch"}).Validate())
	assert.Error(t, (&SlotAddCmd{Start: "09:00", End: "10:00", Type: "morning"}).Validate())
	assert.NoError(t, (&SlotAddCmd{Start: "09:00", End: "10:00", Name: "x", Type: "morning"}).Validate())
}

func TestAddFromFlags(t *testing.T) {
	ctx := seeded(t)

	cmd := &SlotAddCmd{TripID: "kyoto", Day: 1, Type: "evening", Start: "19:00", End: "21:00", Name: "Gion walk", Venue: "other", Override: true}
	require.NoError(t, cmd.Run(ctx))
	it := latest(t, ctx)
	require.Len(t, it.Days[1].Slots, 2)
	var names []string
	for _, s := range it.Days[1].Slots {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "Gion walk")
}

func TestQueryIsReadOnly(t *testing.T) {
	ctx, out := clitest.NewContext(t)
	clitest.Seed(t, ctx, clitest.Itinerary())

	require.NoError(t, (&SlotQueryCmd{TripID: "kyoto", Kind: "day", Day: 0}).Run(ctx))
	assert.NotEmpty(t, out.String())
	assert.Equal(t, 1, latest(t, ctx).Version)

	_, err := ctx.Store.PopUndo("kyoto")
	assert.Error(t, err)
}

func TestApplyJSONIntent(t *testing.T) {
	ctx := seeded(t)

	require.NoError(t, (&SlotApplyCmd{TripID: "kyoto", Intent: `{"type":"lock","slot_id":"c"}`}).Run(ctx))
	s, _ := latest(t, ctx).Slot("c")
	assert.True(t, s.IsLocked)

	assert.Error(t, (&SlotApplyCmd{TripID: "kyoto", Intent: `{not json`}).Run(ctx))
}
