package contract

import (
	"context"

	"github.com/google/uuid"
)

// SectionAgent produces one report section. The contract is total: every
// error path resolves to a failed or partial AgentResult so the
// orchestrator can always proceed with the remaining sections. Produce
// must respect ctx and yield failed(timeout) rather than block past it.
type SectionAgent interface {
	Kind() SectionKind
	Produce(ctx context.Context, req ProduceRequest) AgentResult
}

// Registry hands out the agent for each section kind.
type Registry interface {
	Agent(kind SectionKind) (SectionAgent, bool)
}

// MemoryStore is the semantic memory adapter. Appends are commutative;
// there is no update or delete from the orchestrators' perspective.
type MemoryStore interface {
	Add(ctx context.Context, fact MemoryFact) (string, error)
	Search(ctx context.Context, userID string, personaID uuid.UUID, query string, limit int) ([]MemoryFact, error)
}

// Classifier decides how a chat turn is handled.
type Classifier interface {
	Classify(ctx context.Context, message string) (ChatIntent, error)
}

// Answerer answers an informational chat question from already-gathered
// context, with no external research calls.
type Answerer interface {
	Answer(ctx context.Context, req AnswerRequest) (string, error)
}

type AnswerRequest struct {
	Message       string
	Persona       Persona
	ReportJSON    []byte
	MemorySummary string
}

// SectionEditor synthesizes a replacement section payload from the prior
// payload and a user instruction. No section agent is invoked.
type SectionEditor interface {
	Rewrite(ctx context.Context, kind SectionKind, prior []byte, instruction string) ([]byte, error)
}

// CompanyExtractor pulls company names out of free text.
type CompanyExtractor interface {
	Extract(ctx context.Context, text string, max int) ([]string, error)
}

// Notifier publishes research lifecycle events. Best-effort; orchestrators
// never fail a run on a notification error.
type Notifier interface {
	ResearchCompleted(ctx context.Context, event ResearchEvent) error
}
