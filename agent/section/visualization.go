package section

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	contractx "github.com/planforge/planforge/agent/contract"
)

// PriceProvider supplies daily close prices for a ticker. The provider
// protocol itself is opaque; implementations live under pkg/finance.
type PriceProvider interface {
	DailySeries(ctx context.Context, symbol string, days int) (StockSeries, error)
}

const defaultSeriesDays = 365

// stockAgent renders the visualization section from the finance provider.
// It only fires for public companies with a known ticker; the ticker is
// read from the fundamentals section in the prior context, matching how
// the stock chart is gated upstream of it.
type stockAgent struct {
	provider PriceProvider
	timeout  time.Duration
	now      func() time.Time
}

func newStockAgent(provider PriceProvider, timeout time.Duration) *stockAgent {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &stockAgent{provider: provider, timeout: timeout, now: time.Now}
}

func (a *stockAgent) Kind() contractx.SectionKind {
	return contractx.SectionVisualization
}

func (a *stockAgent) Produce(ctx context.Context, req contractx.ProduceRequest) contractx.AgentResult {
	profile, ok := fundamentalsProfile(req)
	if !ok {
		return contractx.FailedResult(a.Kind(), "no fundamentals context to derive a ticker from", a.now())
	}
	if profile.PublicStatus != "public" || strings.TrimSpace(profile.StockTicker) == "" {
		return contractx.FailedResult(a.Kind(), "company is not publicly traded or ticker unknown", a.now())
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	series, err := a.provider.DailySeries(ctx, normalizeTicker(profile.StockTicker), defaultSeriesDays)
	if err != nil {
		reason := fmt.Sprintf("price series fetch: %v", err)
		if ctx.Err() != nil {
			reason = contractx.ReasonTimeout
		}
		return contractx.FailedResult(a.Kind(), reason, a.now())
	}
	if series.CompanyName == "" {
		series.CompanyName = profile.CompanyName
	}

	payload, err := json.Marshal(series)
	if err != nil {
		return contractx.FailedResult(a.Kind(), fmt.Sprintf("marshal series: %v", err), a.now())
	}

	now := a.now()
	status := contractx.StatusOK
	reason := ""
	if len(series.Points) == 0 {
		status = contractx.StatusPartial
		reason = "provider returned an empty series"
	}
	return contractx.AgentResult{
		Kind:        a.Kind(),
		Status:      status,
		Payload:     payload,
		Reason:      reason,
		Source:      contractx.SourceResearch,
		GeneratedAt: now.UTC(),
	}
}

func fundamentalsProfile(req contractx.ProduceRequest) (CompanyProfile, bool) {
	raw, ok := req.PriorSections[contractx.SectionFundamentals]
	if !ok || len(raw) == 0 {
		return CompanyProfile{}, false
	}
	var f Fundamentals
	if err := json.Unmarshal(raw, &f); err != nil {
		return CompanyProfile{}, false
	}
	if strings.TrimSpace(f.Profile.CompanyName) == "" {
		return CompanyProfile{}, false
	}
	return f.Profile, true
}

// normalizeTicker strips an exchange prefix like "NASDAQ:CRM".
func normalizeTicker(ticker string) string {
	t := strings.TrimSpace(ticker)
	if i := strings.LastIndex(t, ":"); i >= 0 {
		t = t[i+1:]
	}
	return strings.ToUpper(t)
}
