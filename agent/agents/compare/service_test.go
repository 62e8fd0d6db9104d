package compare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	contractx "github.com/planforge/planforge/agent/contract"
	reportx "github.com/planforge/planforge/agent/report"
)

type fakeRepo struct {
	reports map[string]*reportx.Report
}

func (f *fakeRepo) GetLatest(ctx context.Context, userID string, personaID uuid.UUID, companyKey string) (*reportx.Report, error) {
	r, ok := f.reports[companyKey]
	if !ok {
		return nil, reportx.ErrReportNotFound
	}
	return r.Clone(), nil
}

func (f *fakeRepo) Save(ctx context.Context, r *reportx.Report, expectedVersion int64) error {
	f.reports[r.CompanyKey] = r.Clone()
	return nil
}

type fakeSessions struct {
	created []reportx.CompareSession
	err     error
}

func (f *fakeSessions) CreateCompareSession(ctx context.Context, cs reportx.CompareSession) (reportx.CompareSession, error) {
	if f.err != nil {
		return reportx.CompareSession{}, f.err
	}
	cs.ID = uuid.New()
	f.created = append(f.created, cs)
	return cs, nil
}

func (f *fakeSessions) ListCompareSessions(ctx context.Context, userID string, personaID uuid.UUID, limit int) ([]reportx.CompareSession, error) {
	return f.created, nil
}

type fakeResearcher struct {
	reports map[string]*reportx.Report
	err     error
	calls   int
}

func (f *fakeResearcher) RunFullResearch(ctx context.Context, persona contractx.Persona, company string, save bool) (*reportx.Report, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	key := reportx.NormalizeCompanyKey(company)
	r, ok := f.reports[key]
	if !ok {
		return nil, fmt.Errorf("no research scripted for %s", key)
	}
	return r.Clone(), nil
}

type fakeExtractor struct {
	companies []string
	err       error
}

func (f *fakeExtractor) Extract(ctx context.Context, text string, max int) ([]string, error) {
	return f.companies, f.err
}

func strategyReport(personaID uuid.UUID, company, whyItMatters string, opportunities, risks int, updatedAt time.Time) *reportx.Report {
	ops := make([]map[string]any, 0, opportunities)
	for i := 0; i < opportunities; i++ {
		ops = append(ops, map[string]any{"title": fmt.Sprintf("op-%d", i), "description": "d"})
	}
	rks := make([]map[string]any, 0, risks)
	for i := 0; i < risks; i++ {
		rks = append(rks, map[string]any{"risk": fmt.Sprintf("r-%d", i), "impact": "i"})
	}
	payload, _ := json.Marshal(map[string]any{
		"why_it_matters":       whyItMatters,
		"opportunities_for_me": ops,
		"risks_blockers":       rks,
	})

	r := reportx.New("user-1", personaID, company, updatedAt)
	r.Version = 1
	r.UpdatedAt = updatedAt
	r.Sections[contractx.SectionStrategy] = &reportx.Section{
		Result: contractx.AgentResult{
			Kind:    contractx.SectionStrategy,
			Status:  contractx.StatusOK,
			Payload: payload,
			Source:  contractx.SourceResearch,
		},
	}
	return r
}

func testPersona() contractx.Persona {
	return contractx.Persona{
		ID:     uuid.New(),
		UserID: "user-1",
		Name:   "Dana",
		Goal:   "grow enterprise cloud revenue",
	}
}

func newTestCompare(t *testing.T, repo *fakeRepo, sessions *fakeSessions, researcher *fakeResearcher, extractor contractx.CompanyExtractor) *Orchestrator {
	t.Helper()
	o, err := New(repo, sessions, researcher, extractor, Config{FreshnessWindow: 24 * time.Hour})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func TestCompareUsesFreshReportsWithoutResearch(t *testing.T) {
	t.Parallel()

	persona := testPersona()
	now := time.Now()
	repo := &fakeRepo{reports: map[string]*reportx.Report{
		"acme":   strategyReport(persona.ID, "Acme", "cloud revenue growth for enterprise", 3, 1, now.Add(-time.Hour)),
		"globex": strategyReport(persona.ID, "Globex", "unrelated direction", 1, 4, now.Add(-time.Hour)),
	}}
	sessions := &fakeSessions{}
	researcher := &fakeResearcher{}
	o := newTestCompare(t, repo, sessions, researcher, nil)

	result, err := o.Compare(context.Background(), persona, "Acme", "Globex", true)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if researcher.calls != 0 {
		t.Fatalf("researcher calls = %d, fresh reports should be reused", researcher.calls)
	}
	if result.Comparison.Recommendation != "Acme" {
		t.Fatalf("recommendation = %q, want Acme", result.Comparison.Recommendation)
	}
	if len(sessions.created) != 1 {
		t.Fatalf("sessions created = %d, want 1", len(sessions.created))
	}
	if sessions.created[0].Recommendation != "Acme" {
		t.Fatal("session should record the recommendation")
	}
}

func TestCompareBypassesCacheWhenDisabled(t *testing.T) {
	t.Parallel()

	persona := testPersona()
	now := time.Now()
	repo := &fakeRepo{reports: map[string]*reportx.Report{
		"acme":   strategyReport(persona.ID, "Acme", "x", 1, 1, now.Add(-time.Minute)),
		"globex": strategyReport(persona.ID, "Globex", "y", 1, 1, now.Add(-time.Minute)),
	}}
	refreshedA := strategyReport(persona.ID, "Acme", "x", 1, 1, now)
	refreshedA.Version = 2
	refreshedB := strategyReport(persona.ID, "Globex", "y", 1, 1, now)
	refreshedB.Version = 2
	researcher := &fakeResearcher{reports: map[string]*reportx.Report{
		"acme":   refreshedA,
		"globex": refreshedB,
	}}
	o := newTestCompare(t, repo, &fakeSessions{}, researcher, nil)

	result, err := o.Compare(context.Background(), persona, "Acme", "Globex", false)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if researcher.calls != 2 {
		t.Fatalf("researcher calls = %d, want both sides re-researched", researcher.calls)
	}
	if result.Session.VersionA != 2 || result.Session.VersionB != 2 {
		t.Fatalf("versions = %d/%d, want the refreshed reports", result.Session.VersionA, result.Session.VersionB)
	}
}

func TestCompareRefreshesStaleSide(t *testing.T) {
	t.Parallel()

	persona := testPersona()
	now := time.Now()
	stale := strategyReport(persona.ID, "Acme", "cloud enterprise", 2, 1, now.Add(-48*time.Hour))
	fresh := strategyReport(persona.ID, "Acme", "cloud enterprise revenue", 2, 1, now)
	fresh.Version = 2

	repo := &fakeRepo{reports: map[string]*reportx.Report{
		"acme":   stale,
		"globex": strategyReport(persona.ID, "Globex", "other", 1, 1, now.Add(-time.Hour)),
	}}
	researcher := &fakeResearcher{reports: map[string]*reportx.Report{"acme": fresh}}
	o := newTestCompare(t, repo, &fakeSessions{}, researcher, nil)

	result, err := o.Compare(context.Background(), persona, "Acme", "Globex", true)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if researcher.calls != 1 {
		t.Fatalf("researcher calls = %d, want 1 for the stale side", researcher.calls)
	}
	if result.Session.VersionA != 2 {
		t.Fatalf("VersionA = %d, want the refreshed version", result.Session.VersionA)
	}
}

func TestCompareResearchesMissingSide(t *testing.T) {
	t.Parallel()

	persona := testPersona()
	now := time.Now()
	repo := &fakeRepo{reports: map[string]*reportx.Report{
		"acme": strategyReport(persona.ID, "Acme", "x", 1, 1, now),
	}}
	researcher := &fakeResearcher{reports: map[string]*reportx.Report{
		"globex": strategyReport(persona.ID, "Globex", "y", 1, 1, now),
	}}
	o := newTestCompare(t, repo, &fakeSessions{}, researcher, nil)

	if _, err := o.Compare(context.Background(), persona, "Acme", "Globex", true); err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if researcher.calls != 1 {
		t.Fatalf("researcher calls = %d, want 1", researcher.calls)
	}
}

func TestCompareRejectsSameCompany(t *testing.T) {
	t.Parallel()

	o := newTestCompare(t, &fakeRepo{reports: map[string]*reportx.Report{}}, &fakeSessions{}, &fakeResearcher{}, nil)

	_, err := o.Compare(context.Background(), testPersona(), "Acme Inc", "ACME", true)
	if !errors.Is(err, ErrCompanyPair) {
		t.Fatalf("expected ErrCompanyPair, got %v", err)
	}
}

func TestCompareTextExtractsCompanies(t *testing.T) {
	t.Parallel()

	persona := testPersona()
	now := time.Now()
	repo := &fakeRepo{reports: map[string]*reportx.Report{
		"acme":   strategyReport(persona.ID, "Acme", "x", 1, 1, now),
		"globex": strategyReport(persona.ID, "Globex", "y", 1, 1, now),
	}}
	o := newTestCompare(t, repo, &fakeSessions{}, &fakeResearcher{}, &fakeExtractor{companies: []string{"Acme", "Globex"}})

	result, err := o.CompareText(context.Background(), persona, "should I focus on acme or globex?", true)
	if err != nil {
		t.Fatalf("CompareText() error = %v", err)
	}
	if result.Session.CompanyAKey != "acme" || result.Session.CompanyBKey != "globex" {
		t.Fatalf("keys = %s/%s", result.Session.CompanyAKey, result.Session.CompanyBKey)
	}

	_, err = o.CompareText(context.Background(), persona, "tell me about acme", true)
	if err == nil {
		t.Fatal("expected error when fewer than two companies are named")
	}
}

func TestCompareIsDeterministic(t *testing.T) {
	t.Parallel()

	persona := testPersona()
	now := time.Now()
	a := strategyReport(persona.ID, "Acme", "enterprise cloud revenue expansion", 2, 2, now)
	b := strategyReport(persona.ID, "Globex", "hardware retail", 2, 2, now)

	first := BuildComparison(persona, a, b)
	second := BuildComparison(persona, a, b)

	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	if string(firstJSON) != string(secondJSON) {
		t.Fatal("identical inputs must produce identical comparisons")
	}
}

func TestRecommendationPrecedence(t *testing.T) {
	t.Parallel()

	side := func(goal, ops, risks, failed int) Side {
		s := Side{CompanyName: "X", GoalAlignment: goal, Opportunities: ops, Risks: risks}
		for i := 0; i < failed; i++ {
			s.FailedSections = append(s.FailedSections, "news")
		}
		return s
	}

	cases := []struct {
		name string
		a, b Side
		want string
	}{
		{"goal alignment wins", side(3, 0, 9, 9), side(1, 9, 0, 0), "A"},
		{"opportunities break alignment tie", side(2, 5, 9, 9), side(2, 3, 0, 0), "A"},
		{"fewer risks break opportunity tie", side(2, 3, 1, 0), side(2, 3, 4, 0), "A"},
		{"fewer failed sections break risk tie", side(2, 3, 2, 0), side(2, 3, 2, 3), "A"},
		{"company A is the final tie-break", side(2, 3, 2, 1), side(2, 3, 2, 1), "A"},
		{"b can win on alignment", side(1, 9, 0, 0), side(3, 0, 9, 9), "B"},
	}
	for _, tc := range cases {
		tc.a.CompanyName = "A"
		tc.b.CompanyName = "B"
		got, _ := recommend(tc.a, tc.b)
		if got != tc.want {
			t.Errorf("%s: recommend() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestGoalAlignmentCountsDistinctTerms(t *testing.T) {
	t.Parallel()

	score := goalAlignment("grow enterprise cloud revenue", "their enterprise cloud push is driving revenue")
	if score != 3 {
		t.Fatalf("score = %d, want 3 (enterprise, cloud, revenue)", score)
	}
	if goalAlignment("", "anything") != 0 {
		t.Fatal("empty goal must score 0")
	}
	if goalAlignment("grow grow grow", "grow") != 1 {
		t.Fatal("repeated terms must count once")
	}
}
