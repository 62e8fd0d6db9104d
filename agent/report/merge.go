package report

import (
	"time"

	contractx "github.com/planforge/planforge/agent/contract"
)

// MergeOptions controls how fresh attempts land on prior slots.
type MergeOptions struct {
	// TargetedKinds marks sections the caller explicitly asked to
	// refresh. Only a targeted fresh ok result may replace a
	// chat-edited slot.
	TargetedKinds map[contractx.SectionKind]bool

	Now time.Time
}

// Merge folds a batch of agent attempts into the previous report and
// returns the next version. prev may be nil for a first run. Rules:
//
//   - fresh ok replaces the slot, unless the prior slot was chat-edited
//     and the kind was not explicitly targeted: then the prior payload is
//     retained and the fresh result is parked in PendingReview;
//   - fresh failed retains the prior displayed payload when one exists
//     (a working section never regresses to empty on a transient
//     failure) and records the attempt;
//   - fresh partial over a prior ok retains the old payload and parks
//     the partial in PendingReview; with no prior payload the partial's
//     best-effort payload is displayed;
//   - slots without a fresh attempt carry over untouched. Sections never
//     disappear.
func Merge(prev *Report, attempts []contractx.AgentResult, opts MergeOptions) *Report {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var next *Report
	if prev != nil {
		next = prev.Clone()
	} else {
		next = &Report{Sections: make(map[contractx.SectionKind]*Section, 6)}
	}
	next.Unsaved = false

	for _, attempt := range attempts {
		applyAttempt(next, attempt, opts)
	}

	next.Version++
	next.UpdatedAt = now.UTC()
	return next
}

func applyAttempt(r *Report, fresh contractx.AgentResult, opts MergeOptions) {
	prior := r.Sections[fresh.Kind]
	attempt := Attempt{
		Status:      fresh.Status,
		Reason:      fresh.Reason,
		GeneratedAt: fresh.GeneratedAt,
	}

	if prior == nil {
		// First attempt for this slot: whatever we got is the slot.
		r.Sections[fresh.Kind] = &Section{Result: fresh, LastAttempt: attempt}
		return
	}

	switch fresh.Status {
	case contractx.StatusOK:
		if prior.Result.Source == contractx.SourceChat && !opts.TargetedKinds[fresh.Kind] {
			// Manual edits survive untargeted research passes; the
			// fresh result waits for review instead.
			pending := fresh
			prior.PendingReview = &pending
			prior.LastAttempt = attempt
			return
		}
		r.Sections[fresh.Kind] = &Section{Result: fresh, LastAttempt: attempt}

	case contractx.StatusPartial:
		if len(prior.Result.Payload) > 0 {
			pending := fresh
			prior.PendingReview = &pending
			prior.LastAttempt = attempt
			return
		}
		r.Sections[fresh.Kind] = &Section{Result: fresh, LastAttempt: attempt}

	case contractx.StatusFailed:
		// Keep the displayed payload, record the failed attempt.
		prior.LastAttempt = attempt
	}
}
