// Package report holds the versioned account-plan report entity and the
// aggregation rules that merge fresh agent attempts into it.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	contractx "github.com/planforge/planforge/agent/contract"
)

var (
	ErrReportNotFound  = errors.New("report not found")
	ErrVersionConflict = errors.New("report version conflict")
	ErrPersonaNotFound = errors.New("persona not found")
	ErrNilReport       = errors.New("report is nil")
)

// Section is one slot of a report. Result is what downstream consumers
// read; LastAttempt records the most recent agent attempt even when the
// displayed payload was retained from an older version; PendingReview
// parks results that must not silently replace the displayed payload.
type Section struct {
	Result        contractx.AgentResult  `json:"result"`
	LastAttempt   Attempt                `json:"last_attempt"`
	PendingReview *contractx.AgentResult `json:"pending_review,omitempty"`
}

type Attempt struct {
	Status      contractx.ResultStatus `json:"status"`
	Reason      string                 `json:"reason,omitempty"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// Report is owned by exactly one (user, persona, company_key) triple.
// Version increases by exactly 1 on every persisted mutation.
type Report struct {
	UserID      string                                `json:"user_id"`
	PersonaID   uuid.UUID                             `json:"persona_id"`
	CompanyKey  string                                `json:"company_key"`
	CompanyName string                                `json:"company_name"`
	Version     int64                                 `json:"version"`
	Sections    map[contractx.SectionKind]*Section    `json:"sections"`
	UpdatedAt   time.Time                             `json:"updated_at"`

	// Unsaved marks a report that was aggregated but could not be
	// persisted. Never stored.
	Unsaved bool `json:"-"`
}

func New(userID string, personaID uuid.UUID, companyName string, now time.Time) *Report {
	return &Report{
		UserID:      userID,
		PersonaID:   personaID,
		CompanyKey:  NormalizeCompanyKey(companyName),
		CompanyName: strings.TrimSpace(companyName),
		Version:     0,
		Sections:    make(map[contractx.SectionKind]*Section, 6),
		UpdatedAt:   now.UTC(),
	}
}

// Section returns the slot for kind, or nil when absent.
func (r *Report) Section(kind contractx.SectionKind) *Section {
	if r == nil || r.Sections == nil {
		return nil
	}
	return r.Sections[kind]
}

// SectionPayloads returns the displayed payload per populated slot,
// the shape agents receive as prior context.
func (r *Report) SectionPayloads() map[contractx.SectionKind]json.RawMessage {
	out := make(map[contractx.SectionKind]json.RawMessage, len(r.Sections))
	for kind, sec := range r.Sections {
		if sec == nil || len(sec.Result.Payload) == 0 {
			continue
		}
		out[kind] = sec.Result.Payload
	}
	return out
}

// FailedKinds lists the sections whose latest attempt failed.
func (r *Report) FailedKinds() []contractx.SectionKind {
	var out []contractx.SectionKind
	for _, kind := range contractx.AllSectionKinds() {
		sec := r.Section(kind)
		if sec != nil && sec.LastAttempt.Status == contractx.StatusFailed {
			out = append(out, kind)
		}
	}
	return out
}

func (r *Report) Validate() error {
	if r == nil {
		return ErrNilReport
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id is empty", contractx.ErrInvalidRequest)
	}
	if r.PersonaID == uuid.Nil {
		return fmt.Errorf("%w: persona id is empty", contractx.ErrInvalidRequest)
	}
	if strings.TrimSpace(r.CompanyKey) == "" {
		return fmt.Errorf("%w: company key is empty", contractx.ErrInvalidRequest)
	}
	if r.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1", contractx.ErrInvalidRequest)
	}
	for kind, sec := range r.Sections {
		if sec == nil {
			return fmt.Errorf("section %s is nil", kind)
		}
		if err := sec.Result.Validate(); err != nil {
			return fmt.Errorf("section %s: %v", kind, err)
		}
	}
	return nil
}

// Clone deep-copies the report through its JSON form.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	var out Report
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	if out.Sections == nil {
		out.Sections = make(map[contractx.SectionKind]*Section, 6)
	}
	return &out
}

var legalSuffixes = map[string]bool{
	"inc":  true,
	"corp": true,
	"co":   true,
	"ltd":  true,
	"llc":  true,
	"gmbh": true,
	"plc":  true,
	"sa":   true,
}

// NormalizeCompanyKey reduces a company name to the identity used for
// dedup and compare: lower-cased, punctuation stripped, legal suffixes
// dropped, whitespace collapsed to single hyphens.
func NormalizeCompanyKey(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	words := strings.Fields(b.String())
	for len(words) > 1 && legalSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, "-")
}
