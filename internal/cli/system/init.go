package system

import (
	"fmt"
	"os"

	"github.com/julianstephens/wayfare/internal/cli"
)

type InitCmd struct {
	Force bool `help:"Force reset by deleting the existing sqlite database before initialization."`
}

func (c *InitCmd) Run(ctx *cli.Context) error {
	if c.Force {
		if !cli.IsSQLite(ctx.Store) {
			return fmt.Errorf("--force only applies to sqlite storage")
		}
		dbPath := ctx.Store.GetConfigPath()
		if _, err := os.Stat(dbPath); err == nil {
			// close first so the file is not held open
			if err := ctx.Store.Close(); err != nil {
				return fmt.Errorf("failed to close existing database: %w", err)
			}
			if err := os.Remove(dbPath); err != nil {
				return fmt.Errorf("failed to delete existing database: %w", err)
			}
			ctx.Printf("Deleted existing database at: %s\n", dbPath)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to access existing database: %w", err)
		}
	}

	if err := ctx.Store.Init(); err != nil {
		return err
	}
	ctx.Printf("Initialized wayfare storage at: %s\n", ctx.Store.GetConfigPath())
	return nil
}
