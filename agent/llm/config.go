package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/planforge/planforge/agent/contract"
	perplexityx "github.com/planforge/planforge/pkg/perplexity"
)

// Config selects the research model per section agent. Each section can
// override the default model and temperature; unset overrides fall back
// to the shared values.
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.perplexity.ai"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"4000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`

	FundamentalsModel string `envconfig:"FUNDAMENTALS_MODEL" split_words:"true"`
	LeadershipModel   string `envconfig:"LEADERSHIP_MODEL" split_words:"true"`
	NewsModel         string `envconfig:"NEWS_MODEL" split_words:"true"`
	TechServicesModel string `envconfig:"TECH_SERVICES_MODEL" split_words:"true"`
	StrategyModel     string `envconfig:"STRATEGY_MODEL" split_words:"true"`
	ChatModel         string `envconfig:"CHAT_MODEL" split_words:"true"`

	StrategyTemperature float32 `envconfig:"STRATEGY_TEMPERATURE" split_words:"true" default:"-1"`
	ChatTemperature     float32 `envconfig:"CHAT_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: research api key is required", contractx.ErrInvalidRequest)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrInvalidRequest)
	}
	return nil
}

// PerplexityFor resolves the provider config for one section kind.
func (c Config) PerplexityFor(kind contractx.SectionKind) perplexityx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch kind {
	case contractx.SectionFundamentals:
		if v := strings.TrimSpace(c.FundamentalsModel); v != "" {
			modelName = v
		}
	case contractx.SectionLeadership:
		if v := strings.TrimSpace(c.LeadershipModel); v != "" {
			modelName = v
		}
	case contractx.SectionNews:
		if v := strings.TrimSpace(c.NewsModel); v != "" {
			modelName = v
		}
	case contractx.SectionTechServices:
		if v := strings.TrimSpace(c.TechServicesModel); v != "" {
			modelName = v
		}
	case contractx.SectionStrategy:
		if v := strings.TrimSpace(c.StrategyModel); v != "" {
			modelName = v
		}
		if c.StrategyTemperature >= 0 {
			temp = c.StrategyTemperature
		}
	}

	return c.providerConfig(modelName, temp)
}

// PerplexityForChat resolves the provider config for the chat pipeline
// (classifier, answerer, editor).
func (c Config) PerplexityForChat() perplexityx.Config {
	modelName := strings.TrimSpace(c.Model)
	if v := strings.TrimSpace(c.ChatModel); v != "" {
		modelName = v
	}
	temp := c.Temperature
	if c.ChatTemperature >= 0 {
		temp = c.ChatTemperature
	}
	return c.providerConfig(modelName, temp)
}

func (c Config) providerConfig(modelName string, temp float32) perplexityx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return perplexityx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
	}
}
