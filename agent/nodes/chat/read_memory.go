package chatnode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/planforge/planforge/agent/contract"
)

const memorySearchLimit = 10

func ReadMemory(ctx context.Context, in *GraphState, memory contractx.MemoryStore) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrInvalidRequest)
	}

	facts, err := memory.Search(ctx, in.In.UserID, in.In.PersonaID, in.In.Message, memorySearchLimit)
	if err != nil {
		// Memory is advisory context; a lookup failure must not kill the turn.
		log.Warn().Err(err).Msg("chat memory search failed")
		return in, nil
	}

	in.Memory = facts
	statements := make([]string, 0, len(facts))
	for _, f := range facts {
		statements = append(statements, "- "+f.Statement)
	}
	in.MemorySummary = strings.Join(statements, "\n")
	return in, nil
}
