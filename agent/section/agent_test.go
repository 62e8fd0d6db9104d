package section

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/planforge/planforge/agent/contract"
)

func testLLMAgent(kind contractx.SectionKind, decode decodeFunc) *llmAgent {
	return &llmAgent{
		kind:   kind,
		decode: decode,
		now:    time.Now,
	}
}

func TestFromEnvelopeInvokeError(t *testing.T) {
	t.Parallel()

	a := testLLMAgent(contractx.SectionNews, nil)
	res := a.fromEnvelope(envelope{}, errors.New("upstream 500"))
	if res.Status != contractx.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.Reason, "upstream 500") {
		t.Fatalf("reason = %q", res.Reason)
	}
	if len(res.Payload) != 0 {
		t.Fatal("failed result must carry no payload")
	}
}

func TestFromEnvelopeEmptyData(t *testing.T) {
	t.Parallel()

	a := testLLMAgent(contractx.SectionNews, nil)
	res := a.fromEnvelope(envelope{}, nil)
	if res.Status != contractx.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
}

func TestFromEnvelopeSchemaViolation(t *testing.T) {
	t.Parallel()

	a := testLLMAgent(contractx.SectionNews, decodeInto[MarketNews])
	res := a.fromEnvelope(envelope{Data: json.RawMessage(`{"items": "not-a-list"}`)}, nil)
	if res.Status != contractx.StatusFailed {
		t.Fatalf("status = %s, want failed on schema violation", res.Status)
	}
	if !strings.Contains(res.Reason, "schema") {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestFromEnvelopeOkWithCitations(t *testing.T) {
	t.Parallel()

	a := testLLMAgent(contractx.SectionNews, decodeInto[MarketNews])
	res := a.fromEnvelope(envelope{
		Data:       json.RawMessage(`{"company_name":"Acme","items":[]}`),
		SourceURLs: []string{"https://example.com/a", "  ", "https://example.com/b"},
	}, nil)

	if res.Status != contractx.StatusOK {
		t.Fatalf("status = %s, want ok", res.Status)
	}
	if res.Source != contractx.SourceResearch {
		t.Fatalf("source = %s, want research", res.Source)
	}
	if len(res.Citations) != 2 {
		t.Fatalf("citations = %d, want 2 (blank dropped)", len(res.Citations))
	}
}

func TestFromEnvelopeIncompleteReasonYieldsPartial(t *testing.T) {
	t.Parallel()

	a := testLLMAgent(contractx.SectionLeadership, decodeInto[Leadership])
	res := a.fromEnvelope(envelope{
		Data:             json.RawMessage(`{"company_name":"Acme"}`),
		IncompleteReason: "only two leaders found",
	}, nil)

	if res.Status != contractx.StatusPartial {
		t.Fatalf("status = %s, want partial", res.Status)
	}
	if res.Reason != "only two leaders found" {
		t.Fatalf("reason = %q", res.Reason)
	}
	if len(res.Payload) == 0 {
		t.Fatal("partial result keeps its best-effort payload")
	}
}

func TestProducePayloadSplitsPriorFromOtherSections(t *testing.T) {
	t.Parallel()

	req := contractx.ProduceRequest{
		Company:    "Acme",
		CompanyKey: "acme",
		PriorSections: map[contractx.SectionKind]json.RawMessage{
			contractx.SectionNews:         json.RawMessage(`{"items":["own"]}`),
			contractx.SectionFundamentals: json.RawMessage(`{"profile":{}}`),
		},
		Memory: []contractx.MemoryFact{{Statement: "met at re:Invent"}},
	}

	payload := producePayload(req, contractx.SectionNews)

	prior, _ := payload["prior_section"].(json.RawMessage)
	if string(prior) != `{"items":["own"]}` {
		t.Fatalf("prior_section = %s", prior)
	}
	others, _ := payload["other_sections"].(map[string]json.RawMessage)
	if len(others) != 1 {
		t.Fatalf("other_sections = %d entries, want 1", len(others))
	}
	if _, ok := others["fundamentals"]; !ok {
		t.Fatal("fundamentals missing from other_sections")
	}
	known, _ := payload["known_context"].([]string)
	if len(known) != 1 || known[0] != "met at re:Invent" {
		t.Fatalf("known_context = %v", known)
	}
}

type fakePrices struct {
	series StockSeries
	err    error
	symbol string
	calls  int
}

func (f *fakePrices) DailySeries(ctx context.Context, symbol string, days int) (StockSeries, error) {
	f.calls++
	f.symbol = symbol
	if f.err != nil {
		return StockSeries{}, f.err
	}
	return f.series, nil
}

func visualizationRequest(publicStatus, ticker string) contractx.ProduceRequest {
	fundamentals, _ := json.Marshal(Fundamentals{
		Profile: CompanyProfile{
			CompanyName:  "Acme",
			PublicStatus: publicStatus,
			StockTicker:  ticker,
		},
	})
	return contractx.ProduceRequest{
		Company:    "Acme",
		CompanyKey: "acme",
		PriorSections: map[contractx.SectionKind]json.RawMessage{
			contractx.SectionFundamentals: fundamentals,
		},
	}
}

func TestStockAgentSkipsPrivateCompanies(t *testing.T) {
	t.Parallel()

	prices := &fakePrices{}
	a := newStockAgent(prices, time.Second)

	res := a.Produce(context.Background(), visualizationRequest("private", ""))
	if res.Status != contractx.StatusFailed {
		t.Fatalf("status = %s, want failed for a private company", res.Status)
	}
	if prices.calls != 0 {
		t.Fatal("provider must not be called for a private company")
	}
}

func TestStockAgentNoFundamentalsContext(t *testing.T) {
	t.Parallel()

	a := newStockAgent(&fakePrices{}, time.Second)
	res := a.Produce(context.Background(), contractx.ProduceRequest{Company: "Acme"})
	if res.Status != contractx.StatusFailed {
		t.Fatalf("status = %s, want failed without fundamentals", res.Status)
	}
}

func TestStockAgentNormalizesExchangePrefix(t *testing.T) {
	t.Parallel()

	prices := &fakePrices{series: StockSeries{
		Symbol: "CRM",
		Points: []StockPoint{{Date: "2026-08-28", Close: 250.1}},
	}}
	a := newStockAgent(prices, time.Second)

	res := a.Produce(context.Background(), visualizationRequest("public", "NYSE:crm"))
	if res.Status != contractx.StatusOK {
		t.Fatalf("status = %s, want ok: %s", res.Status, res.Reason)
	}
	if prices.symbol != "CRM" {
		t.Fatalf("symbol = %q, want CRM", prices.symbol)
	}

	var series StockSeries
	if err := json.Unmarshal(res.Payload, &series); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if series.CompanyName != "Acme" {
		t.Fatalf("company name = %q, want backfilled Acme", series.CompanyName)
	}
}

func TestStockAgentEmptySeriesIsPartial(t *testing.T) {
	t.Parallel()

	prices := &fakePrices{series: StockSeries{Symbol: "CRM"}}
	a := newStockAgent(prices, time.Second)

	res := a.Produce(context.Background(), visualizationRequest("public", "CRM"))
	if res.Status != contractx.StatusPartial {
		t.Fatalf("status = %s, want partial for empty series", res.Status)
	}
}

func TestStockAgentProviderError(t *testing.T) {
	t.Parallel()

	prices := &fakePrices{err: errors.New("quota exceeded")}
	a := newStockAgent(prices, time.Second)

	res := a.Produce(context.Background(), visualizationRequest("public", "CRM"))
	if res.Status != contractx.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.Reason, "quota exceeded") {
		t.Fatalf("reason = %q", res.Reason)
	}
}
