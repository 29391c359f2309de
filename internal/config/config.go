// Package config loads wayfare's YAML settings, overlays the environment and
// watches the file for changes while the daemon runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/constraints"
	"github.com/julianstephens/wayfare/internal/execution"
	"github.com/julianstephens/wayfare/internal/geo"
	"github.com/julianstephens/wayfare/internal/pipeline"
	"github.com/julianstephens/wayfare/internal/recommender"
	"github.com/julianstephens/wayfare/internal/utils"
)

type EngineConfig struct {
	PendingLeadMin    int           `yaml:"pending_lead_min"`
	Multiplier        float64       `yaml:"multiplier"`
	LoiterDelay       time.Duration `yaml:"loiter_delay"`
	DwellAfter        time.Duration `yaml:"dwell_after"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	PromptCooldownMin int           `yaml:"prompt_cooldown_min"`
	Timezone          string        `yaml:"timezone"`
}

type PipelineConfig struct {
	pipeline.Config `yaml:",inline"`
	Monitor         pipeline.MonitorConfig `yaml:"monitor"`
	PollInterval    time.Duration          `yaml:"poll_interval"`
	QueueSize       int                    `yaml:"queue_size"`
}

type RecommenderConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"base_url"`
	MaxTokens       int           `yaml:"max_tokens"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	// APIKey is never read from the file.
	APIKey string `yaml:"-"`
}

type StorageConfig struct {
	// Path is a sqlite file path or a PostgreSQL connection string.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Debug bool   `yaml:"debug"`
	Dir   string `yaml:"dir"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Engine      EngineConfig       `yaml:"engine"`
	Constraints constraints.Config `yaml:"constraints"`
	Pipeline    PipelineConfig     `yaml:"pipeline"`
	Recommender RecommenderConfig  `yaml:"recommender"`
	Storage     StorageConfig      `yaml:"storage"`
	Log         LogConfig          `yaml:"log"`
	Metrics     MetricsConfig      `yaml:"metrics"`
}

func Default() Config {
	rc := recommender.DefaultConfig()
	return Config{
		Engine: EngineConfig{
			PendingLeadMin:    constants.DefaultPendingLeadMin,
			Multiplier:        constants.DefaultTimeMultiplier,
			LoiterDelay:       constants.DefaultLoiterDelay,
			DwellAfter:        constants.DefaultDwellAfter,
			TickInterval:      constants.DefaultTickInterval,
			PromptCooldownMin: constants.DefaultPromptCooldownMin,
			Timezone:          constants.DefaultTimezone,
		},
		Constraints: constraints.DefaultConfig(),
		Pipeline: PipelineConfig{
			Config:       pipeline.DefaultConfig(),
			Monitor:      pipeline.DefaultMonitorConfig(),
			PollInterval: constants.DefaultPollInterval,
			QueueSize:    constants.DefaultQueueSize,
		},
		Recommender: RecommenderConfig{
			Enabled:         true,
			Model:           rc.Model,
			MaxTokens:       rc.MaxTokens,
			BreakerFailures: rc.BreakerFailures,
			BreakerCooldown: rc.BreakerCooldown,
		},
		Storage: StorageConfig{Path: constants.DefaultConfigPath},
		Metrics: MetricsConfig{Addr: constants.DefaultMetricsAddr},
	}
}

// Load reads path over the defaults and then applies the environment. A
// missing file is not an error. An empty path uses WAYFARE_CONFIG or the
// default location.
func Load(path string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(constants.EnvConfigFile)
	}
	if path == "" {
		path = constants.DefaultConfigFile
	}
	path, err := ExpandHome(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(constants.EnvAPIKey); v != "" {
		cfg.Recommender.APIKey = v
	} else if v := os.Getenv(constants.EnvAPIKeyFallback); v != "" {
		cfg.Recommender.APIKey = v
	}
	if v := os.Getenv(constants.EnvDBConnection); v != "" {
		cfg.Storage.Path = v
	}
	if v, err := strconv.ParseBool(os.Getenv(constants.EnvDebug)); err == nil {
		cfg.Log.Debug = v
	}
}

func (c Config) Validate() error {
	if c.Engine.Multiplier <= 0 {
		return fmt.Errorf("engine.multiplier must be positive, got %v", c.Engine.Multiplier)
	}
	if !utils.ValidateTimezone(c.Engine.Timezone) {
		return fmt.Errorf("engine.timezone %q is not a known timezone", c.Engine.Timezone)
	}
	for name, v := range map[string]string{
		"pipeline.filter.quiet_start": c.Pipeline.Filter.QuietStart,
		"pipeline.filter.quiet_end":   c.Pipeline.Filter.QuietEnd,
	} {
		if v != "" && !utils.ValidateTimeFormat(v) {
			return fmt.Errorf("%s must be HH:MM, got %q", name, v)
		}
	}
	if c.Constraints.IdealActivitiesPerDay <= 0 {
		return errors.New("constraints.ideal_activities_per_day must be positive")
	}
	return nil
}

// ExecutionConfig converts the engine section for execution.New.
func (c Config) ExecutionConfig() (execution.Config, error) {
	loc, err := utils.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return execution.Config{}, err
	}
	cfg := execution.DefaultConfig()
	cfg.PendingLead = time.Duration(c.Engine.PendingLeadMin) * time.Minute
	cfg.Multiplier = c.Engine.Multiplier
	cfg.Geofence = geo.Options{LoiterDelay: c.Engine.LoiterDelay, DwellAfter: c.Engine.DwellAfter}
	cfg.PromptCooldown = time.Duration(c.Engine.PromptCooldownMin) * time.Minute
	cfg.Location = loc
	return cfg, nil
}

func (c Config) RecommenderClientConfig() recommender.Config {
	return recommender.Config{
		APIKey:          c.Recommender.APIKey,
		Model:           c.Recommender.Model,
		BaseURL:         c.Recommender.BaseURL,
		MaxTokens:       c.Recommender.MaxTokens,
		Timeout:         c.Pipeline.Timeout,
		BreakerFailures: c.Recommender.BreakerFailures,
		BreakerCooldown: c.Recommender.BreakerCooldown,
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
