package cli

import (
	"errors"
	"time"

	"github.com/julianstephens/wayfare/internal/keyring"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/metrics"
	"github.com/julianstephens/wayfare/internal/pipeline"
	"github.com/julianstephens/wayfare/internal/recommender"
)

// Recommender returns the configured recommender client, or nil when it is
// disabled or no API key is available. The key comes from the environment
// first and the OS keyring second.
func (c *Context) Recommender() pipeline.Recommender {
	if !c.Config.Recommender.Enabled {
		return nil
	}
	rc := c.Config.RecommenderClientConfig()
	if rc.APIKey == "" {
		key, err := keyring.GetAPIKey()
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			logger.Debug("Keyring lookup for API key failed", "error", err)
		}
		rc.APIKey = key
	}
	client, err := recommender.New(rc)
	if err != nil {
		logger.Info("Recommender unavailable, using fallback actions", "reason", err)
		return nil
	}
	return client
}

// Pipeline builds an event pipeline reading from src. m may be nil.
func (c *Context) Pipeline(src pipeline.StateSource, loc *time.Location, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	tz, err := pipeline.NewTZFResolver()
	if err != nil {
		logger.Warn("Timezone lookup unavailable, using trip timezone", "error", err)
		tz = nil
	}
	rec := c.Recommender()
	if rec != nil && m != nil {
		rec = m.Instrument(rec)
	}
	p, err := pipeline.New(c.Config.Pipeline.Config, pipeline.NewAggregator(src, tz, loc), rec)
	if err != nil {
		return nil, err
	}
	if m != nil {
		p.OnResult = m.ObserveResult
	}
	return p, nil
}
