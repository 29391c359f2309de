package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/julianstephens/wayfare/internal/actions"
	"github.com/julianstephens/wayfare/internal/backup"
	"github.com/julianstephens/wayfare/internal/config"
	"github.com/julianstephens/wayfare/internal/constraints"
	"github.com/julianstephens/wayfare/internal/execution"
	"github.com/julianstephens/wayfare/internal/keyring"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
	"github.com/julianstephens/wayfare/internal/storage"
	"github.com/julianstephens/wayfare/internal/storage/postgres"
	"github.com/julianstephens/wayfare/internal/storage/sqlite"
	"github.com/julianstephens/wayfare/internal/utils"
)

type Context struct {
	Store  storage.Provider
	Config config.Config
	// ConfigFile is the YAML file Config was loaded from.
	ConfigFile string
	// Out receives command output; nil means stdout.
	Out io.Writer
	// In answers confirmation prompts; nil means stdin.
	In io.Reader
}

func (c *Context) Printf(format string, args ...any) {
	fmt.Fprintf(c.Writer(), format, args...)
}

func (c *Context) Println(args ...any) {
	fmt.Fprintln(c.Writer(), args...)
}

// Writer returns where command output goes.
func (c *Context) Writer() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// Confirm asks a yes/no question and reports whether the answer was yes.
func (c *Context) Confirm(prompt string) (bool, error) {
	c.Printf("%s [y/N]: ", prompt)
	in := c.In
	if in == nil {
		in = os.Stdin
	}
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}

// PerformAutomaticBackup creates an automatic backup and silently handles errors
func (c *Context) PerformAutomaticBackup() {
	mgr, err := backup.NewManager(c.Store.GetConfigPath())
	if errors.Is(err, backup.ErrUnsupported) {
		return
	}
	if err == nil {
		_, err = mgr.Create()
	}
	if err != nil {
		// Log warning but don't interrupt user workflow
		logger.Warn("Automatic backup failed", "error", err)
	}
}

// LoadTrip returns the newest version of a stored trip.
func (c *Context) LoadTrip(tripID string) (*models.Itinerary, error) {
	it, err := c.Store.GetItinerary(tripID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("trip %s not found, import it with 'wayfare trip import'", tripID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trip %s: %w", tripID, err)
	}
	return it, nil
}

func (c *Context) Executor() *actions.Executor {
	return actions.NewExecutor(constraints.New(c.Config.Constraints))
}

// ExecutionConfig is the engine config for it. A trip timezone overrides
// the configured one.
func (c *Context) ExecutionConfig(it *models.Itinerary) (execution.Config, error) {
	cfg, err := c.Config.ExecutionConfig()
	if err != nil {
		return execution.Config{}, err
	}
	if it != nil && it.Timezone != "" {
		loc, err := utils.LoadLocation(it.Timezone)
		if err != nil {
			return execution.Config{}, fmt.Errorf("trip %s has invalid timezone %q: %w", it.TripID, it.Timezone, err)
		}
		cfg.Location = loc
	}
	return cfg, nil
}

// OpenStore picks a backend for conn. A connection string given on the
// command line may not carry a password; one from the environment may.
// The literal "keyring" reads the connection string from the OS keyring.
func OpenStore(flag string, cfg config.Config) (storage.Provider, error) {
	conn := flag
	if conn != "" && IsPostgresConn(conn) && storage.HasEmbeddedCredentials(conn) {
		return nil, postgres.ErrEmbeddedCredentials
	}
	if conn == "" {
		conn = cfg.Storage.Path
	}
	if conn == "keyring" {
		v, err := keyring.GetConnectionString()
		if err != nil {
			return nil, fmt.Errorf("failed to read connection string from keyring: %w", err)
		}
		conn = v
	}
	if IsPostgresConn(conn) {
		return postgres.New(conn), nil
	}
	path, err := config.ExpandHome(conn)
	if err != nil {
		return nil, err
	}
	return sqlite.NewStore(path), nil
}

// IsPostgresConn accepts URL and key=value connection strings.
func IsPostgresConn(conn string) bool {
	return storage.IsPostgres(conn) || strings.Contains(conn, "host=") || strings.Contains(conn, "dbname=")
}

// IsSQLite reports whether the store keeps its data in a local file.
func IsSQLite(s storage.Provider) bool {
	_, ok := s.(*sqlite.Store)
	return ok
}
