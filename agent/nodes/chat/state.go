// Package chatnode holds the graph nodes for the chat orchestrator: one
// turn flows validate -> load context -> read memory -> classify, then
// branches into answer, refresh or edit before converging on memory
// write and reply finalization.
package chatnode

import (
	"context"
	"time"

	"github.com/google/uuid"

	contractx "github.com/planforge/planforge/agent/contract"
	reportx "github.com/planforge/planforge/agent/report"
)

// GraphInput is one chat turn. Every turn is explicitly scoped to a
// user, a persona and a target company.
type GraphInput struct {
	UserID    string
	PersonaID uuid.UUID
	Company   string
	Message   string
}

// GraphOutput is the settled turn.
type GraphOutput struct {
	Reply  string
	Mode   contractx.ChatMode
	Report *reportx.Report
}

// GraphState is threaded through the nodes.
type GraphState struct {
	In GraphInput

	Persona    contractx.Persona
	CompanyKey string

	Report        *reportx.Report
	Memory        []contractx.MemoryFact
	MemorySummary string

	Intent contractx.ChatIntent
	Reply  string

	Now time.Time
}

// Researcher is the slice of the research orchestrator the refresh
// branch needs.
type Researcher interface {
	RunTargetedUpdate(
		ctx context.Context,
		persona contractx.Persona,
		company string,
		kinds map[contractx.SectionKind]bool,
	) (*reportx.Report, error)
}
