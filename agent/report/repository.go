package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	contractx "github.com/planforge/planforge/agent/contract"
)

// Repository is the durable store for versioned reports. Save enforces
// per-(persona, company) serialization with an optimistic version check:
// a write based on a stale version is rejected with ErrVersionConflict
// so the caller can re-merge against the newer version.
type Repository interface {
	GetLatest(ctx context.Context, userID string, personaID uuid.UUID, companyKey string) (*Report, error)
	Save(ctx context.Context, r *Report, expectedVersion int64) error
}

// PersonaStore persists personas. Personas are only mutated by explicit
// edit and removed on user request; every operation is scoped to the
// owning user.
type PersonaStore interface {
	CreatePersona(ctx context.Context, p contractx.Persona) (contractx.Persona, error)
	GetPersona(ctx context.Context, userID string, personaID uuid.UUID) (contractx.Persona, error)
	UpdatePersona(ctx context.Context, p contractx.Persona) (contractx.Persona, error)
	DeletePersona(ctx context.Context, userID string, personaID uuid.UUID) error
}

// CompareSession is an immutable record of one comparison: the two report
// identities at the versions used plus the derived payload. Superseded by
// newer sessions, never mutated.
type CompareSession struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"user_id"`
	PersonaID      uuid.UUID       `json:"persona_id"`
	CompanyAKey    string          `json:"company_a_key"`
	CompanyBKey    string          `json:"company_b_key"`
	VersionA       int64           `json:"version_a"`
	VersionB       int64           `json:"version_b"`
	Comparison     json.RawMessage `json:"comparison"`
	Recommendation string          `json:"recommendation"`
	CreatedAt      time.Time       `json:"created_at"`
}

type CompareStore interface {
	CreateCompareSession(ctx context.Context, cs CompareSession) (CompareSession, error)
	ListCompareSessions(ctx context.Context, userID string, personaID uuid.UUID, limit int) ([]CompareSession, error)
}
