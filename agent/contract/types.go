package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SectionKind is the closed set of report sections. Aggregation code
// switches over these values exhaustively; adding a kind means touching
// every switch.
type SectionKind string

const (
	SectionFundamentals  SectionKind = "fundamentals"
	SectionLeadership    SectionKind = "leadership"
	SectionNews          SectionKind = "news"
	SectionTechServices  SectionKind = "tech_services"
	SectionStrategy      SectionKind = "strategy"
	SectionVisualization SectionKind = "visualization"
)

// AllSectionKinds returns the section kinds in canonical report order.
func AllSectionKinds() []SectionKind {
	return []SectionKind{
		SectionFundamentals,
		SectionLeadership,
		SectionNews,
		SectionTechServices,
		SectionStrategy,
		SectionVisualization,
	}
}

// ParseSectionKind maps a user-facing label onto a SectionKind.
func ParseSectionKind(s string) (SectionKind, bool) {
	kind := SectionKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range AllSectionKinds() {
		if k == kind {
			return k, true
		}
	}
	return "", false
}

type ResultStatus string

const (
	StatusOK      ResultStatus = "ok"
	StatusPartial ResultStatus = "partial"
	StatusFailed  ResultStatus = "failed"
)

// ResultSource records who produced a section payload. Chat edits are
// protected against blind overwrites on later research passes.
type ResultSource string

const (
	SourceResearch ResultSource = "research"
	SourceChat     ResultSource = "chat"
)

// Well-known failure reasons.
const (
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
	ReasonPanic     = "agent panic"
)

type Citation struct {
	URL         string    `json:"url"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// AgentResult is the single artifact every section agent produces.
// A failed result carries a reason and no payload; a partial result carries
// a best-effort payload plus the reason it is incomplete.
type AgentResult struct {
	Kind        SectionKind     `json:"kind"`
	Status      ResultStatus    `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Citations   []Citation      `json:"citations,omitempty"`
	Source      ResultSource    `json:"source"`
	GeneratedAt time.Time       `json:"generated_at"`
}

func (r AgentResult) Validate() error {
	if _, ok := ParseSectionKind(string(r.Kind)); !ok {
		return fmt.Errorf("%w: unknown section kind %q", ErrInvalidRequest, r.Kind)
	}
	switch r.Status {
	case StatusOK:
		if len(r.Payload) == 0 {
			return fmt.Errorf("%w: ok result for %s has no payload", ErrSchemaViolation, r.Kind)
		}
	case StatusPartial:
		if strings.TrimSpace(r.Reason) == "" {
			return fmt.Errorf("%w: partial result for %s has no reason", ErrSchemaViolation, r.Kind)
		}
	case StatusFailed:
		if strings.TrimSpace(r.Reason) == "" {
			return fmt.Errorf("%w: failed result for %s has no reason", ErrSchemaViolation, r.Kind)
		}
		if len(r.Payload) != 0 {
			return fmt.Errorf("%w: failed result for %s carries a payload", ErrSchemaViolation, r.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown result status %q", ErrSchemaViolation, r.Status)
	}
	return nil
}

// FailedResult builds a well-formed failed AgentResult for a section.
func FailedResult(kind SectionKind, reason string, now time.Time) AgentResult {
	return AgentResult{
		Kind:        kind,
		Status:      StatusFailed,
		Reason:      reason,
		Source:      SourceResearch,
		GeneratedAt: now.UTC(),
	}
}

// Persona is the identity every orchestrator call is keyed by. It is
// passed explicitly; there is no ambient "currently selected persona".
type Persona struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role,omitempty"`
	Company   string    `json:"company,omitempty"`
	Region    string    `json:"region,omitempty"`
	Goal      string    `json:"goal,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryFact is an append-only statement in the semantic memory store.
// Corrections are new facts that supersede by recency, never edits.
type MemoryFact struct {
	ID        string       `json:"id,omitempty"`
	UserID    string       `json:"user_id"`
	PersonaID uuid.UUID    `json:"persona_id"`
	Statement string       `json:"statement"`
	Source    ResultSource `json:"source"`
	CreatedAt time.Time    `json:"created_at"`
}

// ProduceRequest is the opaque context bundle handed to every section
// agent: prior payloads let agents target updates ("refresh news since
// last run") instead of re-querying everything from scratch.
type ProduceRequest struct {
	Persona       Persona
	Company       string
	CompanyKey    string
	PriorSections map[SectionKind]json.RawMessage
	Memory        []MemoryFact
}

// ChatMode is the three-way handling decision for one chat turn.
type ChatMode string

const (
	ChatModeAnswer  ChatMode = "answer"
	ChatModeRefresh ChatMode = "refresh"
	ChatModeEdit    ChatMode = "edit"
)

// ChatIntent is the classifier verdict for a chat message.
type ChatIntent struct {
	Mode ChatMode `json:"mode"`

	// RefreshKinds names the sections implicated by a refresh request.
	RefreshKinds []SectionKind `json:"refresh_kinds,omitempty"`

	// EditKind and EditInstruction describe a destructive section edit.
	EditKind        SectionKind `json:"edit_kind,omitempty"`
	EditInstruction string      `json:"edit_instruction,omitempty"`
}

// ResearchEvent is published after a research run settles.
type ResearchEvent struct {
	UserID      string        `json:"user_id"`
	PersonaID   uuid.UUID     `json:"persona_id"`
	CompanyKey  string        `json:"company_key"`
	Version     int64         `json:"version"`
	Saved       bool          `json:"saved"`
	FailedKinds []SectionKind `json:"failed_kinds,omitempty"`
	FinishedAt  time.Time     `json:"finished_at"`
}
