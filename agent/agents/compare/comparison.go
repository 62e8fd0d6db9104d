package compare

import (
	"encoding/json"
	"strings"

	contractx "github.com/planforge/planforge/agent/contract"
	reportx "github.com/planforge/planforge/agent/report"
)

// Side summarizes one company's report for the comparison.
type Side struct {
	CompanyKey     string   `json:"company_key"`
	CompanyName    string   `json:"company_name"`
	ReportVersion  int64    `json:"report_version"`
	GoalAlignment  int      `json:"goal_alignment"`
	Opportunities  int      `json:"opportunities"`
	Risks          int      `json:"risks"`
	FailedSections []string `json:"failed_sections,omitempty"`
	WhyItMatters   string   `json:"why_it_matters,omitempty"`
}

// Comparison is the derived head-to-head payload. Given the same two
// reports and persona it is always identical, so compare sessions can be
// replayed and audited.
type Comparison struct {
	CompanyA       Side   `json:"company_a"`
	CompanyB       Side   `json:"company_b"`
	Recommendation string `json:"recommendation"`
	Rationale      string `json:"rationale"`
}

// BuildComparison derives the comparison and recommendation from the two
// reports. The recommendation prefers, in order: stronger goal alignment,
// more opportunities, fewer risks, fewer failed sections, and finally
// company A as the stable tie-break.
func BuildComparison(persona contractx.Persona, a, b *reportx.Report) Comparison {
	sideA := buildSide(persona, a)
	sideB := buildSide(persona, b)

	recommendation, rationale := recommend(sideA, sideB)
	return Comparison{
		CompanyA:       sideA,
		CompanyB:       sideB,
		Recommendation: recommendation,
		Rationale:      rationale,
	}
}

func recommend(a, b Side) (string, string) {
	switch {
	case a.GoalAlignment != b.GoalAlignment:
		if a.GoalAlignment > b.GoalAlignment {
			return a.CompanyName, "stronger alignment with the persona goal"
		}
		return b.CompanyName, "stronger alignment with the persona goal"
	case a.Opportunities != b.Opportunities:
		if a.Opportunities > b.Opportunities {
			return a.CompanyName, "more concrete opportunities identified"
		}
		return b.CompanyName, "more concrete opportunities identified"
	case a.Risks != b.Risks:
		if a.Risks < b.Risks {
			return a.CompanyName, "fewer risks and blockers on record"
		}
		return b.CompanyName, "fewer risks and blockers on record"
	case len(a.FailedSections) != len(b.FailedSections):
		if len(a.FailedSections) < len(b.FailedSections) {
			return a.CompanyName, "more complete research coverage"
		}
		return b.CompanyName, "more complete research coverage"
	default:
		return a.CompanyName, "both sides scored evenly"
	}
}

func buildSide(persona contractx.Persona, r *reportx.Report) Side {
	side := Side{
		CompanyKey:    r.CompanyKey,
		CompanyName:   r.CompanyName,
		ReportVersion: r.Version,
	}
	for _, kind := range r.FailedKinds() {
		side.FailedSections = append(side.FailedSections, string(kind))
	}

	sec := r.Section(contractx.SectionStrategy)
	if sec == nil || len(sec.Result.Payload) == 0 {
		return side
	}
	var strategy struct {
		WhyItMatters       string `json:"why_it_matters"`
		OpportunitiesForMe []struct {
			Title       string   `json:"title"`
			Description string   `json:"description"`
			Evidence    []string `json:"evidence"`
		} `json:"opportunities_for_me"`
		RisksBlockers []json.RawMessage `json:"risks_blockers"`
	}
	if err := json.Unmarshal(sec.Result.Payload, &strategy); err != nil {
		return side
	}

	side.WhyItMatters = strategy.WhyItMatters
	side.Opportunities = len(strategy.OpportunitiesForMe)
	side.Risks = len(strategy.RisksBlockers)

	var strategyText strings.Builder
	strategyText.WriteString(strategy.WhyItMatters)
	for _, op := range strategy.OpportunitiesForMe {
		strategyText.WriteString(" " + op.Title + " " + op.Description)
		for _, ev := range op.Evidence {
			strategyText.WriteString(" " + ev)
		}
	}
	side.GoalAlignment = goalAlignment(persona.Goal, strategyText.String())
	return side
}

// goalAlignment counts how many distinct meaningful goal terms show up in
// the strategy text. Crude, but deterministic and explainable.
func goalAlignment(goal, strategyText string) int {
	text := strings.ToLower(strategyText)
	if strings.TrimSpace(goal) == "" || text == "" {
		return 0
	}

	seen := make(map[string]bool)
	score := 0
	for _, term := range strings.Fields(strings.ToLower(goal)) {
		term = strings.Trim(term, ".,;:!?\"'()")
		if len(term) < 4 || seen[term] {
			continue
		}
		seen[term] = true
		if strings.Contains(text, term) {
			score++
		}
	}
	return score
}
