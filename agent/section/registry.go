package section

import (
	"context"
	"fmt"

	contractx "github.com/planforge/planforge/agent/contract"
	llmx "github.com/planforge/planforge/agent/llm"
	promptx "github.com/planforge/planforge/agent/prompt"
)

type registryImpl struct {
	agents map[contractx.SectionKind]contractx.SectionAgent
}

func (r *registryImpl) Agent(kind contractx.SectionKind) (contractx.SectionAgent, bool) {
	a, ok := r.agents[kind]
	return a, ok
}

// NewRegistry builds all six section agents: five structured research
// agents sharing one provider rate limiter, plus the finance-backed
// visualization agent.
func NewRegistry(ctx context.Context, cfg llmx.Config, prices PriceProvider) (contractx.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prices == nil {
		return nil, fmt.Errorf("%w: price provider is required", contractx.ErrInvalidRequest)
	}

	prompts := promptx.LoadPromptSet()
	limiterCfg := cfg.PerplexityFor(contractx.SectionFundamentals)
	limiter := limiterCfg.Limiter()

	decoders := map[contractx.SectionKind]decodeFunc{
		contractx.SectionFundamentals: decodeInto[Fundamentals],
		contractx.SectionLeadership:   decodeInto[Leadership],
		contractx.SectionNews:         decodeInto[MarketNews],
		contractx.SectionTechServices: decodeInto[TechServices],
		contractx.SectionStrategy:     decodeInto[Strategy],
	}

	agents := make(map[contractx.SectionKind]contractx.SectionAgent, 6)
	for kind, decode := range decoders {
		systemPrompt, ok := prompts.ForSection(kind)
		if !ok {
			return nil, fmt.Errorf("%w: section %s", contractx.ErrPromptMissing, kind)
		}

		providerCfg := cfg.PerplexityFor(kind)
		chatModel, err := providerCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, kind, err)
		}

		agent, err := newLLMAgent(ctx, kind, chatModel, systemPrompt, decode, limiter, providerCfg.Timeout)
		if err != nil {
			return nil, err
		}
		agents[kind] = agent
	}

	agents[contractx.SectionVisualization] = newStockAgent(prices, cfg.Timeout)

	return &registryImpl{agents: agents}, nil
}
