// Package research implements the fan-out/join orchestrator that turns
// one research request into six concurrent section-agent calls and merges
// the results into a versioned report.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/planforge/planforge/agent/contract"
	reportx "github.com/planforge/planforge/agent/report"
)

const (
	defaultRunTimeout  = 3 * time.Minute
	defaultMemoryLimit = 8
)

type Config struct {
	// RunTimeout is the shared deadline for one fan-out. Agents that
	// miss it are recorded as failed(timeout).
	RunTimeout time.Duration `envconfig:"RUN_TIMEOUT" split_words:"true" default:"3m"`

	// MemoryLimit caps how many facts seed the agent context.
	MemoryLimit int `envconfig:"MEMORY_LIMIT" split_words:"true" default:"8"`
}

type Orchestrator struct {
	registry contractx.Registry
	repo     reportx.Repository
	memory   contractx.MemoryStore
	notifier contractx.Notifier

	runTimeout  time.Duration
	memoryLimit int

	now func() time.Time
}

func New(
	registry contractx.Registry,
	repo reportx.Repository,
	memory contractx.MemoryStore,
	notifier contractx.Notifier,
	cfg Config,
) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("agent registry is required")
	}
	if repo == nil {
		return nil, errors.New("report repository is required")
	}
	if memory == nil {
		memory = noopMemoryStore{}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}

	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	memoryLimit := cfg.MemoryLimit
	if memoryLimit <= 0 {
		memoryLimit = defaultMemoryLimit
	}

	return &Orchestrator{
		registry:    registry,
		repo:        repo,
		memory:      memory,
		notifier:    notifier,
		runTimeout:  runTimeout,
		memoryLimit: memoryLimit,
		now:         time.Now,
	}, nil
}

// RunFullResearch fans out all six section agents and merges the results
// into the next report version. The run never fails because an agent
// failed; a persistence outage returns the aggregated report flagged
// Unsaved instead of an error.
func (o *Orchestrator) RunFullResearch(
	ctx context.Context,
	persona contractx.Persona,
	company string,
	save bool,
) (*reportx.Report, error) {
	return o.run(ctx, persona, company, nil, save)
}

// RunTargetedUpdate re-runs only the requested section agents. Targeted
// kinds are also the only ones allowed to replace a chat-edited slot.
func (o *Orchestrator) RunTargetedUpdate(
	ctx context.Context,
	persona contractx.Persona,
	company string,
	kinds map[contractx.SectionKind]bool,
) (*reportx.Report, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: at least one section kind is required", contractx.ErrInvalidRequest)
	}
	for kind := range kinds {
		if _, ok := contractx.ParseSectionKind(string(kind)); !ok {
			return nil, fmt.Errorf("%w: unknown section kind %q", contractx.ErrInvalidRequest, kind)
		}
	}
	return o.run(ctx, persona, company, kinds, true)
}

func (o *Orchestrator) run(
	ctx context.Context,
	persona contractx.Persona,
	company string,
	targeted map[contractx.SectionKind]bool,
	save bool,
) (*reportx.Report, error) {
	if err := validateRequest(persona, company); err != nil {
		return nil, err
	}
	companyKey := reportx.NormalizeCompanyKey(company)

	prev := o.loadPrevious(ctx, persona, companyKey)
	facts := o.searchMemory(ctx, persona, companyKey)

	req := contractx.ProduceRequest{
		Persona:    persona,
		Company:    strings.TrimSpace(company),
		CompanyKey: companyKey,
		Memory:     facts,
	}
	if prev != nil {
		req.PriorSections = prev.SectionPayloads()
	}

	attempts := o.fanOut(ctx, req, targeted)
	if err := ctx.Err(); err != nil {
		// User-initiated stop: nothing is persisted, the prior report
		// stays authoritative.
		return nil, fmt.Errorf("research run cancelled: %w", err)
	}

	opts := reportx.MergeOptions{TargetedKinds: targeted, Now: o.now()}
	merged := reportx.Merge(prev, attempts, opts)
	o.stampIdentity(merged, persona, company, companyKey)

	if save {
		saved, err := o.saveWithRetry(ctx, merged, attempts, persona, companyKey, opts)
		if err != nil {
			return saved, err
		}
		merged = saved
	} else {
		merged.Unsaved = true
	}

	o.writeDerivedFacts(ctx, persona, prev, merged)
	o.notify(ctx, persona, merged, save && !merged.Unsaved)

	return merged, nil
}

// fanOut dispatches the selected agents concurrently under the shared
// run deadline and joins on all of them. Per-agent failures are absorbed
// into failed results; the join is the only suspension point.
func (o *Orchestrator) fanOut(
	ctx context.Context,
	req contractx.ProduceRequest,
	targeted map[contractx.SectionKind]bool,
) []contractx.AgentResult {
	kinds := selectedKinds(targeted)

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	results := make([]contractx.AgentResult, len(kinds))
	g, gctx := errgroup.WithContext(runCtx)
	for i, kind := range kinds {
		g.Go(func() error {
			agent, ok := o.registry.Agent(kind)
			if !ok {
				results[i] = contractx.FailedResult(kind, "no agent registered", o.now())
				return nil
			}
			results[i] = agent.Produce(gctx, req)
			if results[i].Status != contractx.StatusOK {
				log.Warn().
					Str("section", string(kind)).
					Str("status", string(results[i].Status)).
					Str("reason", results[i].Reason).
					Msg("section attempt did not fully succeed")
			}
			return nil
		})
	}
	// Agents never return errors; Wait is purely the join point.
	_ = g.Wait()
	return results
}

func (o *Orchestrator) saveWithRetry(
	ctx context.Context,
	merged *reportx.Report,
	attempts []contractx.AgentResult,
	persona contractx.Persona,
	companyKey string,
	opts reportx.MergeOptions,
) (*reportx.Report, error) {
	err := o.repo.Save(ctx, merged, merged.Version-1)
	if err == nil {
		return merged, nil
	}

	if errors.Is(err, reportx.ErrVersionConflict) {
		// Someone else advanced the report; re-merge against the newer
		// version once instead of clobbering it.
		latest, lerr := o.repo.GetLatest(ctx, persona.UserID, persona.ID, companyKey)
		if lerr == nil {
			remerged := reportx.Merge(latest, attempts, opts)
			o.stampIdentity(remerged, persona, merged.CompanyName, companyKey)
			if serr := o.repo.Save(ctx, remerged, remerged.Version-1); serr == nil {
				return remerged, nil
			} else if errors.Is(serr, reportx.ErrVersionConflict) {
				return remerged, fmt.Errorf("save research report: %w", serr)
			} else {
				remerged.Unsaved = true
				log.Error().Err(serr).Str("company_key", companyKey).Msg("report save failed after conflict retry")
				return remerged, nil
			}
		}
		merged.Unsaved = true
		log.Error().Err(lerr).Str("company_key", companyKey).Msg("reload after version conflict failed")
		return merged, nil
	}

	// Persistence unavailable: the research result is still returned,
	// only the save step is lost.
	merged.Unsaved = true
	log.Error().Err(err).Str("company_key", companyKey).Msg("report save failed")
	return merged, nil
}

func (o *Orchestrator) loadPrevious(ctx context.Context, persona contractx.Persona, companyKey string) *reportx.Report {
	prev, err := o.repo.GetLatest(ctx, persona.UserID, persona.ID, companyKey)
	if err != nil {
		if !errors.Is(err, reportx.ErrReportNotFound) {
			log.Warn().Err(err).Str("company_key", companyKey).Msg("loading previous report failed, starting fresh")
		}
		return nil
	}
	return prev
}

func (o *Orchestrator) searchMemory(ctx context.Context, persona contractx.Persona, companyKey string) []contractx.MemoryFact {
	facts, err := o.memory.Search(ctx, persona.UserID, persona.ID, "company "+companyKey, o.memoryLimit)
	if err != nil {
		log.Warn().Err(err).Str("company_key", companyKey).Msg("memory search failed")
		return nil
	}
	return facts
}

func (o *Orchestrator) stampIdentity(r *reportx.Report, persona contractx.Persona, company, companyKey string) {
	r.UserID = persona.UserID
	r.PersonaID = persona.ID
	r.CompanyKey = companyKey
	if strings.TrimSpace(r.CompanyName) == "" {
		r.CompanyName = strings.TrimSpace(company)
	}
}

// writeDerivedFacts records a small number of research outcomes so chat
// and compare sessions can reference them without re-deriving.
func (o *Orchestrator) writeDerivedFacts(
	ctx context.Context,
	persona contractx.Persona,
	prev, merged *reportx.Report,
) {
	now := o.now().UTC()
	facts := []contractx.MemoryFact{{
		UserID:    persona.UserID,
		PersonaID: persona.ID,
		Statement: completionStatement(merged),
		Source:    contractx.SourceResearch,
		CreatedAt: now,
	}}

	for _, change := range leadershipChanges(prev, merged) {
		facts = append(facts, contractx.MemoryFact{
			UserID:    persona.UserID,
			PersonaID: persona.ID,
			Statement: change,
			Source:    contractx.SourceResearch,
			CreatedAt: now,
		})
	}

	for _, fact := range facts {
		if _, err := o.memory.Add(ctx, fact); err != nil {
			log.Warn().Err(err).Msg("memory append failed")
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, persona contractx.Persona, r *reportx.Report, saved bool) {
	event := contractx.ResearchEvent{
		UserID:      persona.UserID,
		PersonaID:   persona.ID,
		CompanyKey:  r.CompanyKey,
		Version:     r.Version,
		Saved:       saved,
		FailedKinds: r.FailedKinds(),
		FinishedAt:  o.now().UTC(),
	}
	if err := o.notifier.ResearchCompleted(ctx, event); err != nil {
		log.Warn().Err(err).Str("company_key", r.CompanyKey).Msg("research notification failed")
	}
}

func validateRequest(persona contractx.Persona, company string) error {
	if strings.TrimSpace(persona.UserID) == "" {
		return fmt.Errorf("%w: user id is empty", contractx.ErrInvalidRequest)
	}
	if persona.ID == uuid.Nil {
		return fmt.Errorf("%w: persona id is empty", contractx.ErrInvalidRequest)
	}
	if reportx.NormalizeCompanyKey(company) == "" {
		return fmt.Errorf("%w: company name is empty", contractx.ErrInvalidRequest)
	}
	return nil
}

func selectedKinds(targeted map[contractx.SectionKind]bool) []contractx.SectionKind {
	all := contractx.AllSectionKinds()
	if len(targeted) == 0 {
		return all
	}
	kinds := make([]contractx.SectionKind, 0, len(targeted))
	for _, kind := range all {
		if targeted[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func completionStatement(r *reportx.Report) string {
	statement := fmt.Sprintf("Completed research on %s (version %d)", r.CompanyName, r.Version)
	sec := r.Section(contractx.SectionStrategy)
	if sec == nil || len(sec.Result.Payload) == 0 {
		return statement
	}
	var strategy struct {
		WhyItMatters string `json:"why_it_matters"`
	}
	if err := json.Unmarshal(sec.Result.Payload, &strategy); err != nil {
		return statement
	}
	excerpt := strings.TrimSpace(strategy.WhyItMatters)
	if excerpt == "" {
		return statement
	}
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	return statement + ". Key insight: " + excerpt
}

// leadershipChanges diffs leader names between the previous and merged
// leadership payloads.
func leadershipChanges(prev, merged *reportx.Report) []string {
	if prev == nil || merged == nil {
		return nil
	}
	before := leaderTitles(prev)
	after := leaderTitles(merged)
	if before == nil || after == nil {
		return nil
	}

	var changes []string
	for name, title := range after {
		if _, ok := before[name]; !ok {
			changes = append(changes, fmt.Sprintf("Leadership change at %s: %s (%s) newly listed", merged.CompanyName, name, title))
		}
	}
	return changes
}

func leaderTitles(r *reportx.Report) map[string]string {
	sec := r.Section(contractx.SectionLeadership)
	if sec == nil || len(sec.Result.Payload) == 0 {
		return nil
	}
	var leadership struct {
		Leaders []struct {
			Name  string `json:"name"`
			Title string `json:"title"`
		} `json:"leaders"`
	}
	if err := json.Unmarshal(sec.Result.Payload, &leadership); err != nil {
		return nil
	}
	out := make(map[string]string, len(leadership.Leaders))
	for _, l := range leadership.Leaders {
		out[l.Name] = l.Title
	}
	return out
}

type noopMemoryStore struct{}

func (noopMemoryStore) Add(context.Context, contractx.MemoryFact) (string, error) {
	return "", nil
}

func (noopMemoryStore) Search(context.Context, string, uuid.UUID, string, int) ([]contractx.MemoryFact, error) {
	return nil, nil
}

type noopNotifier struct{}

func (noopNotifier) ResearchCompleted(context.Context, contractx.ResearchEvent) error {
	return nil
}
