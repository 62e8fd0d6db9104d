package chatnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/planforge/planforge/agent/contract"
)

// WriteMemory appends the settled turn so later turns and research runs
// can recall it. Best effort.
func WriteMemory(ctx context.Context, in *GraphState, memory contractx.MemoryStore) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrInvalidRequest)
	}

	statement := fmt.Sprintf("Chat about %s (%s): user said %q", in.In.Company, in.Intent.Mode, in.In.Message)
	fact := contractx.MemoryFact{
		UserID:    in.In.UserID,
		PersonaID: in.In.PersonaID,
		Statement: statement,
		Source:    contractx.SourceChat,
		CreatedAt: in.Now.UTC(),
	}
	if _, err := memory.Add(ctx, fact); err != nil {
		log.Warn().Err(err).Msg("chat memory append failed")
	}
	return in, nil
}
