// Package perplexity builds chat models and raw clients for the research
// provider (an OpenAI-compatible API).
package perplexity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

type LLMBuilder interface {
	New(ctx context.Context) (model.ToolCallingChatModel, error)
}

var _ LLMBuilder = (*Config)(nil)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.perplexity.ai"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken *int          `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"4000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`

	// RequestsPerSecond caps calls against the provider across all six
	// agents of a fan-out; Burst allows the initial spike.
	RequestsPerSecond float64 `envconfig:"REQUESTS_PER_SECOND" split_words:"true" default:"2"`
	Burst             int     `envconfig:"BURST" split_words:"true" default:"6"`
}

func (c *Config) New(ctx context.Context) (model.ToolCallingChatModel, error) {
	conf := &openaimodel.ChatModelConfig{
		BaseURL:     strings.TrimRight(c.BaseURL, "/"),
		APIKey:      strings.TrimSpace(c.APIKey),
		Model:       strings.TrimSpace(c.Model),
		MaxTokens:   c.MaxCompletionToken,
		Temperature: &c.Temperature,
		Timeout:     c.Timeout,
	}

	m, err := openaimodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("perplexity: create chat model: %w", err)
	}
	return m, nil
}

// Limiter builds the shared request limiter for this provider config.
func (c *Config) Limiter() *rate.Limiter {
	rps := c.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// NewClient creates a raw OpenAI-compatible SDK client for call sites
// that bypass the eino graph layer (company extraction).
func NewClient(cfg Config) (*openaisdk.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("perplexity: api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := openaisdk.NewClient(opts...)
	return &client, nil
}
