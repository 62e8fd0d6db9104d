package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	contractx "github.com/planforge/planforge/agent/contract"
	reportx "github.com/planforge/planforge/agent/report"
)

type fakeAgent struct {
	kind   contractx.SectionKind
	result contractx.AgentResult
	block  bool

	mu    sync.Mutex
	calls int
	last  contractx.ProduceRequest
}

func (f *fakeAgent) Kind() contractx.SectionKind { return f.kind }

func (f *fakeAgent) Produce(ctx context.Context, req contractx.ProduceRequest) contractx.AgentResult {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return contractx.FailedResult(f.kind, contractx.ReasonTimeout, time.Now())
	}
	return f.result
}

func (f *fakeAgent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRegistry struct {
	agents map[contractx.SectionKind]*fakeAgent
}

func (f *fakeRegistry) Agent(kind contractx.SectionKind) (contractx.SectionAgent, bool) {
	a, ok := f.agents[kind]
	return a, ok
}

func okAgent(kind contractx.SectionKind) *fakeAgent {
	return &fakeAgent{
		kind: kind,
		result: contractx.AgentResult{
			Kind:        kind,
			Status:      contractx.StatusOK,
			Payload:     json.RawMessage(fmt.Sprintf(`{"section":%q}`, kind)),
			Source:      contractx.SourceResearch,
			GeneratedAt: time.Now(),
		},
	}
}

func fullRegistry() *fakeRegistry {
	agents := make(map[contractx.SectionKind]*fakeAgent, 6)
	for _, kind := range contractx.AllSectionKinds() {
		agents[kind] = okAgent(kind)
	}
	return &fakeRegistry{agents: agents}
}

type fakeRepo struct {
	mu     sync.Mutex
	latest *reportx.Report

	getErr       error
	saveErr      error
	conflictOnce bool

	saves int
	gets  int
}

func (f *fakeRepo) GetLatest(ctx context.Context, userID string, personaID uuid.UUID, companyKey string) (*reportx.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.latest == nil {
		return nil, reportx.ErrReportNotFound
	}
	return f.latest.Clone(), nil
}

func (f *fakeRepo) Save(ctx context.Context, r *reportx.Report, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.conflictOnce {
		f.conflictOnce = false
		return reportx.ErrVersionConflict
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	f.latest = r.Clone()
	return nil
}

type fakeMemory struct {
	mu    sync.Mutex
	facts []contractx.MemoryFact
	added []contractx.MemoryFact
}

func (f *fakeMemory) Add(ctx context.Context, fact contractx.MemoryFact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, fact)
	return "mem-1", nil
}

func (f *fakeMemory) Search(ctx context.Context, userID string, personaID uuid.UUID, query string, limit int) ([]contractx.MemoryFact, error) {
	return f.facts, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []contractx.ResearchEvent
}

func (f *fakeNotifier) ResearchCompleted(ctx context.Context, event contractx.ResearchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func testPersona() contractx.Persona {
	return contractx.Persona{
		ID:     uuid.New(),
		UserID: "user-1",
		Name:   "Dana",
		Role:   "Account Executive",
		Goal:   "expand enterprise accounts",
	}
}

func newTestOrchestrator(t *testing.T, registry contractx.Registry, repo reportx.Repository, memory contractx.MemoryStore, notifier contractx.Notifier) *Orchestrator {
	t.Helper()
	o, err := New(registry, repo, memory, notifier, Config{RunTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

var (
	_ contractx.MemoryStore = noopMemoryStore{}
	_ contractx.Notifier    = noopNotifier{}
)

func TestNewDefaultsOptionalDependencies(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	o, err := New(fullRegistry(), repo, nil, nil, Config{RunTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	r, err := o.RunFullResearch(context.Background(), testPersona(), "Acme", true)
	if err != nil {
		t.Fatalf("RunFullResearch() error = %v", err)
	}
	if r.Unsaved || repo.saves != 1 {
		t.Fatalf("run without memory/notifier should still persist, saves = %d", repo.saves)
	}
}

func TestRunFullResearchInvalidInput(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, fullRegistry(), &fakeRepo{}, &fakeMemory{}, &fakeNotifier{})

	_, err := o.RunFullResearch(context.Background(), contractx.Persona{}, "Acme", true)
	if !errors.Is(err, contractx.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty persona, got %v", err)
	}

	_, err = o.RunFullResearch(context.Background(), testPersona(), "   ", true)
	if !errors.Is(err, contractx.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty company, got %v", err)
	}
}

func TestRunFullResearchHappyPath(t *testing.T) {
	t.Parallel()

	registry := fullRegistry()
	repo := &fakeRepo{}
	memory := &fakeMemory{facts: []contractx.MemoryFact{{Statement: "met their CTO at a conference"}}}
	notifier := &fakeNotifier{}
	o := newTestOrchestrator(t, registry, repo, memory, notifier)

	r, err := o.RunFullResearch(context.Background(), testPersona(), "Acme Corp", true)
	if err != nil {
		t.Fatalf("RunFullResearch() error = %v", err)
	}

	if r.Version != 1 {
		t.Fatalf("version = %d, want 1", r.Version)
	}
	if r.CompanyKey != "acme" {
		t.Fatalf("company key = %q, want acme", r.CompanyKey)
	}
	if r.Unsaved {
		t.Fatal("report should be saved")
	}
	if len(r.Sections) != 6 {
		t.Fatalf("sections = %d, want 6", len(r.Sections))
	}
	for _, agent := range registry.agents {
		if agent.callCount() != 1 {
			t.Fatalf("agent %s called %d times", agent.kind, agent.callCount())
		}
		if len(agent.last.Memory) != 1 {
			t.Fatalf("agent %s did not receive memory context", agent.kind)
		}
	}
	if repo.saves != 1 {
		t.Fatalf("saves = %d, want 1", repo.saves)
	}
	if len(notifier.events) != 1 || !notifier.events[0].Saved {
		t.Fatalf("expected one saved notification, got %+v", notifier.events)
	}
	if len(memory.added) == 0 {
		t.Fatal("expected a completion fact in memory")
	}
}

func TestRunFullResearchAgentFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	registry := fullRegistry()
	registry.agents[contractx.SectionNews] = &fakeAgent{
		kind:   contractx.SectionNews,
		result: contractx.FailedResult(contractx.SectionNews, "provider 500", time.Now()),
	}
	repo := &fakeRepo{}
	o := newTestOrchestrator(t, registry, repo, &fakeMemory{}, &fakeNotifier{})

	r, err := o.RunFullResearch(context.Background(), testPersona(), "Acme", true)
	if err != nil {
		t.Fatalf("RunFullResearch() error = %v", err)
	}
	failed := r.FailedKinds()
	if len(failed) != 1 || failed[0] != contractx.SectionNews {
		t.Fatalf("FailedKinds() = %v, want [news]", failed)
	}
	if repo.saves != 1 {
		t.Fatal("run with a failed section must still persist")
	}
}

func TestRunFullResearchSharedDeadline(t *testing.T) {
	t.Parallel()

	registry := fullRegistry()
	registry.agents[contractx.SectionLeadership] = &fakeAgent{kind: contractx.SectionLeadership, block: true}
	repo := &fakeRepo{}

	o, err := New(registry, repo, &fakeMemory{}, &fakeNotifier{}, Config{RunTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	r, err := o.RunFullResearch(context.Background(), testPersona(), "Acme", true)
	if err != nil {
		t.Fatalf("RunFullResearch() error = %v", err)
	}
	sec := r.Section(contractx.SectionLeadership)
	if sec == nil || sec.LastAttempt.Status != contractx.StatusFailed {
		t.Fatal("blocked agent should resolve to a failed attempt at the deadline")
	}
	if r.Section(contractx.SectionNews).Result.Status != contractx.StatusOK {
		t.Fatal("fast agents must not be dragged down by the slow one")
	}
}

func TestRunFullResearchVersionConflictRetriesOnce(t *testing.T) {
	t.Parallel()

	registry := fullRegistry()
	prior := reportx.Merge(nil, []contractx.AgentResult{
		registry.agents[contractx.SectionNews].result,
	}, reportx.MergeOptions{Now: time.Now()})
	prior.UserID = "user-1"
	prior.PersonaID = uuid.New()
	prior.CompanyKey = "acme"
	prior.CompanyName = "Acme"

	repo := &fakeRepo{latest: prior, conflictOnce: true}
	o := newTestOrchestrator(t, registry, repo, &fakeMemory{}, &fakeNotifier{})

	r, err := o.RunFullResearch(context.Background(), testPersona(), "Acme", true)
	if err != nil {
		t.Fatalf("RunFullResearch() error = %v", err)
	}
	if repo.saves != 2 {
		t.Fatalf("saves = %d, want 2 (initial + conflict retry)", repo.saves)
	}
	if r.Unsaved {
		t.Fatal("retry should have saved the re-merged report")
	}
	if r.Version != prior.Version+1 {
		t.Fatalf("version = %d, want %d", r.Version, prior.Version+1)
	}
}

func TestRunFullResearchPersistenceOutageFlagsUnsaved(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{saveErr: errors.New("connection refused")}
	o := newTestOrchestrator(t, fullRegistry(), repo, &fakeMemory{}, &fakeNotifier{})

	r, err := o.RunFullResearch(context.Background(), testPersona(), "Acme", true)
	if err != nil {
		t.Fatalf("persistence outage must not fail the run, got %v", err)
	}
	if !r.Unsaved {
		t.Fatal("report should be flagged Unsaved")
	}
	if len(r.Sections) != 6 {
		t.Fatal("aggregated sections should still be returned")
	}
}

func TestRunFullResearchCancellationAbortsBeforeSave(t *testing.T) {
	t.Parallel()

	registry := fullRegistry()
	registry.agents[contractx.SectionStrategy] = &fakeAgent{kind: contractx.SectionStrategy, block: true}
	repo := &fakeRepo{}
	o := newTestOrchestrator(t, registry, repo, &fakeMemory{}, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := o.RunFullResearch(ctx, testPersona(), "Acme", true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if repo.saves != 0 {
		t.Fatal("a cancelled run must not persist anything")
	}
}

func TestRunTargetedUpdateOnlyRunsNamedAgents(t *testing.T) {
	t.Parallel()

	registry := fullRegistry()
	repo := &fakeRepo{}
	o := newTestOrchestrator(t, registry, repo, &fakeMemory{}, &fakeNotifier{})

	_, err := o.RunTargetedUpdate(context.Background(), testPersona(), "Acme", nil)
	if !errors.Is(err, contractx.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty kinds, got %v", err)
	}

	r, err := o.RunTargetedUpdate(context.Background(), testPersona(), "Acme",
		map[contractx.SectionKind]bool{contractx.SectionNews: true})
	if err != nil {
		t.Fatalf("RunTargetedUpdate() error = %v", err)
	}
	if registry.agents[contractx.SectionNews].callCount() != 1 {
		t.Fatal("news agent should have run")
	}
	for _, kind := range contractx.AllSectionKinds() {
		if kind == contractx.SectionNews {
			continue
		}
		if registry.agents[kind].callCount() != 0 {
			t.Fatalf("agent %s ran during a targeted news update", kind)
		}
	}
	if len(r.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(r.Sections))
	}
}
