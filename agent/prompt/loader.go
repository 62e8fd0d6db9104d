package prompt

import (
	_ "embed"
	"strings"

	contractx "github.com/planforge/planforge/agent/contract"
)

var (
	//go:embed template/fundamentals.txt
	fundamentalsRaw string

	//go:embed template/leadership.txt
	leadershipRaw string

	//go:embed template/market_news.txt
	marketNewsRaw string

	//go:embed template/tech_services.txt
	techServicesRaw string

	//go:embed template/strategy.txt
	strategyRaw string

	//go:embed template/chat_classifier.txt
	chatClassifierRaw string

	//go:embed template/chat_answer.txt
	chatAnswerRaw string

	//go:embed template/section_editor.txt
	sectionEditorRaw string

	//go:embed template/company_extractor.txt
	companyExtractorRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Fundamentals     string
	Leadership       string
	MarketNews       string
	TechServices     string
	Strategy         string
	ChatClassifier   string
	ChatAnswer       string
	SectionEditor    string
	CompanyExtractor string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings. Safe to
// call concurrently; the embed is compile-time and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Fundamentals:     strings.TrimSpace(fundamentalsRaw),
		Leadership:       strings.TrimSpace(leadershipRaw),
		MarketNews:       strings.TrimSpace(marketNewsRaw),
		TechServices:     strings.TrimSpace(techServicesRaw),
		Strategy:         strings.TrimSpace(strategyRaw),
		ChatClassifier:   strings.TrimSpace(chatClassifierRaw),
		ChatAnswer:       strings.TrimSpace(chatAnswerRaw),
		SectionEditor:    strings.TrimSpace(sectionEditorRaw),
		CompanyExtractor: strings.TrimSpace(companyExtractorRaw),
	}
}

// ForSection returns the research prompt for an LLM-backed section kind.
func (p PromptSet) ForSection(kind contractx.SectionKind) (string, bool) {
	switch kind {
	case contractx.SectionFundamentals:
		return p.Fundamentals, true
	case contractx.SectionLeadership:
		return p.Leadership, true
	case contractx.SectionNews:
		return p.MarketNews, true
	case contractx.SectionTechServices:
		return p.TechServices, true
	case contractx.SectionStrategy:
		return p.Strategy, true
	default:
		return "", false
	}
}
