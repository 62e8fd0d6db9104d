package chatnode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/planforge/planforge/agent/contract"
)

// Refresh re-runs the implicated section agents through the research
// orchestrator as a targeted update.
func Refresh(ctx context.Context, in *GraphState, researcher Researcher) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrInvalidRequest)
	}

	kinds := make(map[contractx.SectionKind]bool, len(in.Intent.RefreshKinds))
	labels := make([]string, 0, len(in.Intent.RefreshKinds))
	for _, kind := range in.Intent.RefreshKinds {
		kinds[kind] = true
		labels = append(labels, string(kind))
	}

	updated, err := researcher.RunTargetedUpdate(ctx, in.Persona, in.In.Company, kinds)
	if err != nil {
		return nil, fmt.Errorf("targeted refresh: %w", err)
	}
	in.Report = updated

	reply := fmt.Sprintf("Refreshed %s for %s (report version %d).",
		strings.Join(labels, ", "), updated.CompanyName, updated.Version)
	if failed := updated.FailedKinds(); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, k := range failed {
			names = append(names, string(k))
		}
		reply += fmt.Sprintf(" Some sections could not be refreshed: %s; earlier content was kept.",
			strings.Join(names, ", "))
	}
	if updated.Unsaved {
		reply += " Saving the update failed, so the previous version is still on file."
	}
	in.Reply = reply
	return in, nil
}
