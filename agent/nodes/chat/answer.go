package chatnode

import (
	"context"
	"encoding/json"
	"fmt"

	contractx "github.com/planforge/planforge/agent/contract"
)

// Answer handles informational turns from already-gathered context. No
// section agent runs and the report is untouched.
func Answer(ctx context.Context, in *GraphState, answerer contractx.Answerer) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrInvalidRequest)
	}

	var reportJSON []byte
	if in.Report != nil {
		raw, err := json.Marshal(in.Report)
		if err != nil {
			return nil, fmt.Errorf("marshal report for answer: %w", err)
		}
		reportJSON = raw
	}

	reply, err := answerer.Answer(ctx, contractx.AnswerRequest{
		Message:       in.In.Message,
		Persona:       in.Persona,
		ReportJSON:    reportJSON,
		MemorySummary: in.MemorySummary,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: answer: %v", contractx.ErrModelInvoke, err)
	}

	in.Reply = reply
	return in, nil
}
