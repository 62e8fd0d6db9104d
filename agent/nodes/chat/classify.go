package chatnode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/planforge/planforge/agent/contract"
)

// Classify decides the turn mode. Verdicts that do not hold up, such as
// a refresh naming no valid section or an edit with no instruction, fall
// back to answer mode rather than failing the turn.
func Classify(ctx context.Context, in *GraphState, classifier contractx.Classifier) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrInvalidRequest)
	}

	intent, err := classifier.Classify(ctx, in.In.Message)
	if err != nil {
		log.Warn().Err(err).Msg("chat classification failed, answering instead")
		in.Intent = contractx.ChatIntent{Mode: contractx.ChatModeAnswer}
		return in, nil
	}

	in.Intent = sanitizeIntent(intent)
	return in, nil
}

func sanitizeIntent(intent contractx.ChatIntent) contractx.ChatIntent {
	switch intent.Mode {
	case contractx.ChatModeRefresh:
		kinds := make([]contractx.SectionKind, 0, len(intent.RefreshKinds))
		for _, k := range intent.RefreshKinds {
			if kind, ok := contractx.ParseSectionKind(string(k)); ok {
				kinds = append(kinds, kind)
			}
		}
		if len(kinds) == 0 {
			return contractx.ChatIntent{Mode: contractx.ChatModeAnswer}
		}
		return contractx.ChatIntent{Mode: contractx.ChatModeRefresh, RefreshKinds: kinds}
	case contractx.ChatModeEdit:
		kind, ok := contractx.ParseSectionKind(string(intent.EditKind))
		if !ok || strings.TrimSpace(intent.EditInstruction) == "" {
			return contractx.ChatIntent{Mode: contractx.ChatModeAnswer}
		}
		return contractx.ChatIntent{
			Mode:            contractx.ChatModeEdit,
			EditKind:        kind,
			EditInstruction: strings.TrimSpace(intent.EditInstruction),
		}
	default:
		return contractx.ChatIntent{Mode: contractx.ChatModeAnswer}
	}
}
