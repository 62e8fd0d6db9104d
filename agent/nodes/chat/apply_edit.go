package chatnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/planforge/planforge/agent/contract"
	reportx "github.com/planforge/planforge/agent/report"
)

// ApplyEdit rewrites one section from the user's instruction and
// persists it as the next report version. The slot is tagged as a chat
// edit so later untargeted research passes park their results in
// PendingReview instead of overwriting it.
func ApplyEdit(
	ctx context.Context,
	in *GraphState,
	editor contractx.SectionEditor,
	repo reportx.Repository,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrInvalidRequest)
	}
	if in.Report == nil {
		in.Reply = fmt.Sprintf("There is no report for %s yet; run research first, then I can apply edits.", in.In.Company)
		return in, nil
	}

	kind := in.Intent.EditKind
	var prior []byte
	if sec := in.Report.Section(kind); sec != nil {
		prior = sec.Result.Payload
	}

	payload, err := editor.Rewrite(ctx, kind, prior, in.Intent.EditInstruction)
	if err != nil {
		return nil, fmt.Errorf("%w: rewrite %s: %v", contractx.ErrModelInvoke, kind, err)
	}

	attempt := contractx.AgentResult{
		Kind:        kind,
		Status:      contractx.StatusOK,
		Payload:     payload,
		Source:      contractx.SourceChat,
		GeneratedAt: in.Now.UTC(),
	}
	opts := reportx.MergeOptions{
		TargetedKinds: map[contractx.SectionKind]bool{kind: true},
		Now:           in.Now,
	}

	merged := reportx.Merge(in.Report, []contractx.AgentResult{attempt}, opts)
	err = repo.Save(ctx, merged, merged.Version-1)
	if errors.Is(err, reportx.ErrVersionConflict) {
		latest, lerr := repo.GetLatest(ctx, in.In.UserID, in.In.PersonaID, in.CompanyKey)
		if lerr != nil {
			return nil, fmt.Errorf("reload after edit conflict: %w", lerr)
		}
		merged = reportx.Merge(latest, []contractx.AgentResult{attempt}, opts)
		err = repo.Save(ctx, merged, merged.Version-1)
	}
	if err != nil {
		merged.Unsaved = true
		log.Error().Err(err).Str("section", string(kind)).Msg("chat edit save failed")
		in.Report = merged
		in.Reply = fmt.Sprintf("I rewrote the %s section, but saving it failed; the previous version is still on file.", kind)
		return in, nil
	}

	in.Report = merged
	in.Reply = fmt.Sprintf("Updated the %s section as requested (report version %d).", kind, merged.Version)
	return in, nil
}
