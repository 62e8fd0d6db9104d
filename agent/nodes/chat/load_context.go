package chatnode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/planforge/planforge/agent/contract"
	reportx "github.com/planforge/planforge/agent/report"
)

// LoadContext resolves the persona and the latest report for the target
// company. A missing report is fine; answer mode degrades to memory-only
// context and the reply says so.
func LoadContext(
	ctx context.Context,
	in *GraphState,
	personas reportx.PersonaStore,
	repo reportx.Repository,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrInvalidRequest)
	}

	persona, err := personas.GetPersona(ctx, in.In.UserID, in.In.PersonaID)
	if err != nil {
		return nil, err
	}
	in.Persona = persona

	r, err := repo.GetLatest(ctx, in.In.UserID, in.In.PersonaID, in.CompanyKey)
	if err != nil {
		if errors.Is(err, reportx.ErrReportNotFound) {
			return in, nil
		}
		return nil, fmt.Errorf("load report for chat: %w", err)
	}
	in.Report = r
	return in, nil
}
