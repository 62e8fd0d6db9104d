// Package compare builds head-to-head comparisons of two researched
// companies for one persona. The comparison itself is a pure function of
// the two reports; the only model involvement is upstream research and
// optional company-name extraction from free text.
package compare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/planforge/planforge/agent/contract"
	reportx "github.com/planforge/planforge/agent/report"
)

const defaultFreshnessWindow = 24 * time.Hour

var ErrCompanyPair = errors.New("comparison needs two distinct companies")

type Config struct {
	// FreshnessWindow bounds how old a report may be before a compare
	// triggers fresh research for that side.
	FreshnessWindow time.Duration `envconfig:"FRESHNESS_WINDOW" split_words:"true" default:"24h"`
}

// Researcher is the slice of the research orchestrator compare needs to
// bring a stale side up to date.
type Researcher interface {
	RunFullResearch(ctx context.Context, persona contractx.Persona, company string, save bool) (*reportx.Report, error)
}

type Orchestrator struct {
	repo       reportx.Repository
	sessions   reportx.CompareStore
	researcher Researcher
	extractor  contractx.CompanyExtractor

	freshness time.Duration
	now       func() time.Time
}

func New(
	repo reportx.Repository,
	sessions reportx.CompareStore,
	researcher Researcher,
	extractor contractx.CompanyExtractor,
	cfg Config,
) (*Orchestrator, error) {
	if repo == nil {
		return nil, errors.New("report repository is required")
	}
	if sessions == nil {
		return nil, errors.New("compare session store is required")
	}
	if researcher == nil {
		return nil, errors.New("researcher is required")
	}

	freshness := cfg.FreshnessWindow
	if freshness <= 0 {
		freshness = defaultFreshnessWindow
	}

	return &Orchestrator{
		repo:       repo,
		sessions:   sessions,
		researcher: researcher,
		extractor:  extractor,
		freshness:  freshness,
		now:        time.Now,
	}, nil
}

// Result is one settled comparison.
type Result struct {
	Session    reportx.CompareSession
	Comparison Comparison
}

// CompareText resolves the two companies from free text, then compares.
func (o *Orchestrator) CompareText(ctx context.Context, persona contractx.Persona, text string, useCached bool) (*Result, error) {
	if o.extractor == nil {
		return nil, fmt.Errorf("%w: no company extractor configured", contractx.ErrInvalidRequest)
	}
	companies, err := o.extractor.Extract(ctx, text, 2)
	if err != nil {
		return nil, fmt.Errorf("extract companies: %w", err)
	}
	if len(companies) < 2 {
		return nil, fmt.Errorf("%w: found %d in %q", ErrCompanyPair, len(companies), text)
	}
	return o.Compare(ctx, persona, companies[0], companies[1], useCached)
}

// Compare ensures both sides have a report no older than the freshness
// window, derives the comparison and persists it as an immutable session.
// useCached=false forces fresh research on both sides regardless of age.
func (o *Orchestrator) Compare(ctx context.Context, persona contractx.Persona, companyA, companyB string, useCached bool) (*Result, error) {
	keyA := reportx.NormalizeCompanyKey(companyA)
	keyB := reportx.NormalizeCompanyKey(companyB)
	if keyA == "" || keyB == "" {
		return nil, fmt.Errorf("%w: empty company name", ErrCompanyPair)
	}
	if keyA == keyB {
		return nil, fmt.Errorf("%w: %q and %q resolve to the same company", ErrCompanyPair, companyA, companyB)
	}

	reportA, err := o.ensureFresh(ctx, persona, companyA, keyA, useCached)
	if err != nil {
		return nil, err
	}
	reportB, err := o.ensureFresh(ctx, persona, companyB, keyB, useCached)
	if err != nil {
		return nil, err
	}

	comparison := BuildComparison(persona, reportA, reportB)
	payload, err := json.Marshal(comparison)
	if err != nil {
		return nil, fmt.Errorf("marshal comparison: %w", err)
	}

	session := reportx.CompareSession{
		UserID:         persona.UserID,
		PersonaID:      persona.ID,
		CompanyAKey:    keyA,
		CompanyBKey:    keyB,
		VersionA:       reportA.Version,
		VersionB:       reportB.Version,
		Comparison:     payload,
		Recommendation: comparison.Recommendation,
		CreatedAt:      o.now().UTC(),
	}
	saved, err := o.sessions.CreateCompareSession(ctx, session)
	if err != nil {
		// The comparison is still returned; only its history entry is lost.
		log.Error().Err(err).Msg("persist compare session failed")
		saved = session
	}

	return &Result{Session: saved, Comparison: comparison}, nil
}

// ensureFresh reuses the stored report when it is inside the freshness
// window, otherwise it runs a full research pass for that side. With
// useCached=false the stored report is only kept as a fallback.
func (o *Orchestrator) ensureFresh(ctx context.Context, persona contractx.Persona, company, companyKey string, useCached bool) (*reportx.Report, error) {
	existing, err := o.repo.GetLatest(ctx, persona.UserID, persona.ID, companyKey)
	if err == nil && useCached && o.now().Sub(existing.UpdatedAt) <= o.freshness {
		return existing, nil
	}
	if err != nil && !errors.Is(err, reportx.ErrReportNotFound) {
		return nil, fmt.Errorf("load report for compare: %w", err)
	}

	fresh, rerr := o.researcher.RunFullResearch(ctx, persona, company, true)
	if rerr != nil {
		// Keep the stale side rather than failing the whole comparison.
		if existing != nil {
			log.Warn().Err(rerr).Str("company_key", companyKey).Msg("compare refresh failed, using stale report")
			return existing, nil
		}
		return nil, fmt.Errorf("research %s for compare: %w", company, rerr)
	}
	return fresh, nil
}

// History lists past compare sessions, newest first.
func (o *Orchestrator) History(ctx context.Context, persona contractx.Persona, limit int) ([]reportx.CompareSession, error) {
	return o.sessions.ListCompareSessions(ctx, persona.UserID, persona.ID, limit)
}
