package backups

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/wayfare/internal/cli/clitest"
	"github.com/julianstephens/wayfare/internal/storage/sqlite"
)

func TestCreateListRestore(t *testing.T) {
	ctx, out := clitest.NewContext(t)
	clitest.Seed(t, ctx, clitest.Itinerary())

	require.NoError(t, (&BackupListCmd{}).Run(ctx))
	assert.Contains(t, out.String(), "No backups found")

	out.Reset()
	require.NoError(t, (&BackupCreateCmd{}).Run(ctx))
	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "✓ Backup created: "))
	name := strings.TrimPrefix(line, "✓ Backup created: ")

	out.Reset()
	require.NoError(t, (&BackupListCmd{}).Run(ctx))
	assert.Contains(t, out.String(), name)

	require.NoError(t, ctx.Store.DeleteItinerary("kyoto"))

	ctx.In = strings.NewReader("n\n")
	out.Reset()
	require.NoError(t, (&BackupRestoreCmd{BackupFile: name}).Run(ctx))
	assert.Contains(t, out.String(), "Restore cancelled")

	require.NoError(t, (&BackupRestoreCmd{BackupFile: name, Yes: true}).Run(ctx))

	store := sqlite.NewStore(ctx.Store.GetConfigPath())
	require.NoError(t, store.Load())
	defer store.Close()
	it, err := store.GetItinerary("kyoto")
	require.NoError(t, err)
	assert.Equal(t, "kyoto", it.TripID)
}

func TestRestoreMissingFile(t *testing.T) {
	ctx, _ := clitest.NewContext(t)
	err := (&BackupRestoreCmd{BackupFile: filepath.Join(t.TempDir(), "nope.db"), Yes: true}).Run(ctx)
	assert.Error(t, err)
}
