package system

import (
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/wayfare/internal/backup"
	"github.com/julianstephens/wayfare/internal/cli"
	"github.com/julianstephens/wayfare/internal/keyring"
	"github.com/julianstephens/wayfare/internal/storage"
	"github.com/julianstephens/wayfare/internal/utils"
)

type schemaStatuser interface {
	SchemaStatus() (current, latest int, err error)
}

// check is one diagnostic. A warning check never fails the run; a check
// that needs the database is skipped when it is unreachable.
type check struct {
	name    string
	needsDB bool
	warning bool
	gatesDB bool
	run     func(ctx *cli.Context) error
}

var checks = []check{
	{name: "Database reachable", gatesDB: true, run: checkDBReachable},
	{name: "Schema version", needsDB: true, run: checkSchemaVersion},
	{name: "Migrations complete", needsDB: true, run: checkMigrationsComplete},
	{name: "Backups present", warning: true, run: checkBackupsPresent},
	{name: "Itinerary validation", needsDB: true, run: checkItineraries},
	{name: "Days in progress", needsDB: true, run: checkExecutionRecords},
	{name: "Clock/timezone", run: checkClockTimezone},
	{name: "OS keyring", warning: true, run: checkKeyring},
	{name: "Recommender", warning: true, run: checkRecommender},
}

type DoctorCmd struct{}

func (cmd *DoctorCmd) Run(ctx *cli.Context) error {
	ctx.Println("Running diagnostics...")
	ctx.Println()

	hasError := false
	dbReachable := true
	for _, c := range checks {
		if c.needsDB && !dbReachable {
			ctx.Printf("⊘ %s: SKIPPED (database not reachable)\n", c.name)
			continue
		}
		err := c.run(ctx)
		switch {
		case err == nil:
			ctx.Printf("✓ %s: OK\n", c.name)
		case c.warning:
			ctx.Printf("⚠ %s: WARNING\n", c.name)
			ctx.Printf("   %v\n", err)
		default:
			ctx.Printf("❌ %s: FAIL\n", c.name)
			ctx.Printf("   Error: %v\n", err)
			hasError = true
			if c.gatesDB {
				dbReachable = false
			}
		}
	}

	ctx.Println()
	if hasError {
		ctx.Println("Diagnostics completed with errors.")
		return fmt.Errorf("one or more health checks failed")
	}
	ctx.Println("All diagnostics passed!")
	return nil
}

func checkDBReachable(ctx *cli.Context) error {
	if err := ctx.Store.Load(); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	if _, err := ctx.Store.ListTrips(); err != nil {
		return fmt.Errorf("failed to query database: %w", err)
	}
	return nil
}

func schemaStatus(ctx *cli.Context) (int, int, error) {
	s, ok := ctx.Store.(schemaStatuser)
	if !ok {
		return 0, 0, nil
	}
	current, latest, err := s.SchemaStatus()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return current, latest, nil
}

func checkSchemaVersion(ctx *cli.Context) error {
	current, latest, err := schemaStatus(ctx)
	if err != nil {
		return err
	}
	if current > latest {
		return fmt.Errorf("database schema version (%d) is newer than supported version (%d)", current, latest)
	}
	return nil
}

func checkMigrationsComplete(ctx *cli.Context) error {
	current, latest, err := schemaStatus(ctx)
	if err != nil {
		return err
	}
	if current < latest {
		return fmt.Errorf("migrations incomplete: current version %d, latest version %d; run 'wayfare migrate'", current, latest)
	}
	return nil
}

func checkBackupsPresent(ctx *cli.Context) error {
	mgr, err := backup.NewManager(ctx.Store.GetConfigPath())
	if errors.Is(err, backup.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}
	backups, err := mgr.List()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) == 0 {
		return fmt.Errorf("no backups found - consider creating one with 'wayfare backup create'")
	}
	return nil
}

func checkItineraries(ctx *cli.Context) error {
	trips, err := ctx.Store.ListTrips()
	if err != nil {
		return err
	}
	for _, t := range trips {
		it, err := ctx.Store.GetItinerary(t.TripID)
		if err != nil {
			return fmt.Errorf("trip %s: %w", t.TripID, err)
		}
		if err := it.Validate(); err != nil {
			return fmt.Errorf("trip %s: %w", t.TripID, err)
		}
	}
	return nil
}

// checkExecutionRecords restores every saved day to make sure it still
// matches its itinerary.
func checkExecutionRecords(ctx *cli.Context) error {
	trips, err := ctx.Store.ListTrips()
	if err != nil {
		return err
	}
	for _, t := range trips {
		if _, err := ctx.Store.GetExecutionRecord(t.TripID); errors.Is(err, storage.ErrNotFound) {
			continue
		}
		d, err := ctx.OpenDay(t.TripID)
		if err != nil {
			return fmt.Errorf("trip %s: %w", t.TripID, err)
		}
		d.Close()
	}
	return nil
}

func checkClockTimezone(ctx *cli.Context) error {
	now := time.Now()
	if now.Year() < 2020 || now.Year() > 2100 {
		return fmt.Errorf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	if _, err := utils.LoadLocation(ctx.Config.Engine.Timezone); err != nil {
		return fmt.Errorf("configured timezone %q: %w", ctx.Config.Engine.Timezone, err)
	}
	return nil
}

func checkKeyring(ctx *cli.Context) error {
	if !keyring.IsAvailable() {
		return fmt.Errorf("OS keyring is not available; use environment variables for secrets")
	}
	return nil
}

func checkRecommender(ctx *cli.Context) error {
	if !ctx.Config.Recommender.Enabled {
		return nil
	}
	if ctx.Config.Recommender.APIKey != "" {
		return nil
	}
	if _, err := keyring.GetAPIKey(); err != nil {
		return fmt.Errorf("recommender is enabled but no API key is set; quick rules and fallbacks will be used")
	}
	return nil
}
