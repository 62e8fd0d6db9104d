package section

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	contractx "github.com/planforge/planforge/agent/contract"
)

// decodeFunc checks that a model payload actually matches the section
// schema before it is accepted into a report.
type decodeFunc func(json.RawMessage) error

func decodeInto[T any](raw json.RawMessage) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return nil
}

// llmAgent is a research-backed section agent. Produce never returns an
// error: deadline, panic, transport and schema failures all fold into a
// failed AgentResult so the orchestrator keeps going with the rest.
type llmAgent struct {
	kind    contractx.SectionKind
	runner  compose.Runnable[map[string]any, envelope]
	decode  decodeFunc
	limiter *rate.Limiter
	timeout time.Duration
	now     func() time.Time
}

func newLLMAgent(
	ctx context.Context,
	kind contractx.SectionKind,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
	decode decodeFunc,
	limiter *rate.Limiter,
	timeout time.Duration,
) (*llmAgent, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: prompt for section %s", contractx.ErrPromptMissing, kind)
	}
	runner, err := compileSectionGraph(ctx, chatModel, systemPrompt, "section."+string(kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &llmAgent{
		kind:    kind,
		runner:  runner,
		decode:  decode,
		limiter: limiter,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

func (a *llmAgent) Kind() contractx.SectionKind {
	return a.kind
}

func (a *llmAgent) Produce(ctx context.Context, req contractx.ProduceRequest) contractx.AgentResult {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	input, err := json.Marshal(producePayload(req, a.kind))
	if err != nil {
		return contractx.FailedResult(a.kind, fmt.Sprintf("marshal agent input: %v", err), a.now())
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return contractx.FailedResult(a.kind, contractx.ReasonTimeout, a.now())
		}
	}

	type outcome struct {
		env envelope
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Warn().Str("section", string(a.kind)).Interface("panic", rec).Msg("section agent panicked")
				done <- outcome{err: fmt.Errorf("%s: %v", contractx.ReasonPanic, rec)}
			}
		}()
		env, err := a.runner.Invoke(ctx, map[string]any{"input": string(input)})
		done <- outcome{env: env, err: err}
	}()

	select {
	case <-ctx.Done():
		// The in-flight call is abandoned; its late result is dropped,
		// never merged.
		reason := contractx.ReasonTimeout
		if ctx.Err() == context.Canceled {
			reason = contractx.ReasonCancelled
		}
		return contractx.FailedResult(a.kind, reason, a.now())
	case out := <-done:
		return a.fromEnvelope(out.env, out.err)
	}
}

func (a *llmAgent) fromEnvelope(env envelope, err error) contractx.AgentResult {
	now := a.now()
	if err != nil {
		return contractx.FailedResult(a.kind, fmt.Sprintf("model invoke: %v", err), now)
	}
	if len(env.Data) == 0 {
		return contractx.FailedResult(a.kind, "model returned no payload", now)
	}
	if a.decode != nil {
		if err := a.decode(env.Data); err != nil {
			return contractx.FailedResult(a.kind, fmt.Sprintf("payload violates section schema: %v", err), now)
		}
	}

	citations := make([]contractx.Citation, 0, len(env.SourceURLs))
	for _, u := range env.SourceURLs {
		if strings.TrimSpace(u) == "" {
			continue
		}
		citations = append(citations, contractx.Citation{URL: u, RetrievedAt: now.UTC()})
	}

	status := contractx.StatusOK
	reason := ""
	if strings.TrimSpace(env.IncompleteReason) != "" {
		status = contractx.StatusPartial
		reason = strings.TrimSpace(env.IncompleteReason)
	}

	return contractx.AgentResult{
		Kind:        a.kind,
		Status:      status,
		Payload:     env.Data,
		Reason:      reason,
		Citations:   citations,
		Source:      contractx.SourceResearch,
		GeneratedAt: now.UTC(),
	}
}

// producePayload is the JSON blob rendered into the user message. Prior
// payload and memory give the model enough to refresh instead of redo.
func producePayload(req contractx.ProduceRequest, kind contractx.SectionKind) map[string]any {
	memories := make([]string, 0, len(req.Memory))
	for _, f := range req.Memory {
		memories = append(memories, f.Statement)
	}

	var prior json.RawMessage
	others := make(map[string]json.RawMessage, len(req.PriorSections))
	for k, payload := range req.PriorSections {
		if k == kind {
			prior = payload
			continue
		}
		others[string(k)] = payload
	}

	return map[string]any{
		"company":     req.Company,
		"company_key": req.CompanyKey,
		"persona": map[string]any{
			"name":    req.Persona.Name,
			"role":    req.Persona.Role,
			"company": req.Persona.Company,
			"region":  req.Persona.Region,
			"goal":    req.Persona.Goal,
			"notes":   req.Persona.Notes,
		},
		"prior_section":  prior,
		"other_sections": others,
		"known_context":  memories,
	}
}
