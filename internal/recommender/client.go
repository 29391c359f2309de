// Package recommender asks a chat-completion model which response actions a
// notification should carry, and guards the call with parsing, validation
// and a circuit breaker.
package recommender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/julianstephens/wayfare/internal/constants"
	"github.com/julianstephens/wayfare/internal/logger"
	"github.com/julianstephens/wayfare/internal/models"
)

var ErrNoAPIKey = errors.New("no recommender API key configured")

type Config struct {
	APIKey          string
	Model           string
	BaseURL         string
	MaxTokens       int
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		Model:           constants.DefaultRecommenderModel,
		MaxTokens:       constants.DefaultRecommenderMaxToks,
		Timeout:         constants.DefaultRecommenderTimeout,
		BreakerFailures: constants.DefaultBreakerFailures,
		BreakerCooldown: constants.DefaultBreakerCooldown,
	}
}

type Client struct {
	api     openai.Client
	cfg     Config
	breaker *Breaker
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		api:     openai.NewClient(opts...),
		cfg:     cfg,
		breaker: NewBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
	}, nil
}

func (c *Client) Breaker() *Breaker { return c.breaker }

// Recommend asks the model for a recommendation. Transport failures and
// unusable answers both count against the breaker.
func (c *Client) Recommend(ctx context.Context, ev models.QueuedEvent, tc models.TripContext) (models.Recommendation, error) {
	if err := c.breaker.Allow(); err != nil {
		return models.Recommendation{}, err
	}
	rec, err := c.complete(ctx, ev, tc)
	c.breaker.Mark(err)
	if err != nil {
		logger.Warn("Recommender call failed", "event", ev.Type, "error", err)
	}
	return rec, err
}

func (c *Client) complete(ctx context.Context, ev models.QueuedEvent, tc models.TripContext) (models.Recommendation, error) {
	user, err := userPrompt(ev, tc)
	if err != nil {
		return models.Recommendation{}, fmt.Errorf("failed to build prompt: %w", err)
	}
	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(int64(c.cfg.MaxTokens)),
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return models.Recommendation{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Recommendation{}, fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}
	logger.Debug("Recommender answered", "event", ev.Type, "model", c.cfg.Model, "elapsed", time.Since(start))
	return Parse(resp.Choices[0].Message.Content)
}
