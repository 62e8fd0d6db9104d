// Package section implements the six report-section agents. Five are
// structured-output LLM calls against the research provider; the
// visualization agent wraps the finance price API.
package section

// CompanyProfile is the basic identity of the target company.
type CompanyProfile struct {
	CompanyName         string   `json:"company_name"`
	Website             string   `json:"website,omitempty"`
	Headquarters        string   `json:"headquarters,omitempty"`
	Industry            string   `json:"industry,omitempty"`
	PublicStatus        string   `json:"public_status"` // public | private | subsidiary | unknown
	StockTicker         string   `json:"stock_ticker,omitempty"`
	EmployeeCountBucket string   `json:"employee_count_bucket,omitempty"`
	PrimaryRegions      []string `json:"primary_regions,omitempty"`
	ShortDescription    string   `json:"short_description,omitempty"`
}

// KeyNumbers are lightweight numeric signals consumed by the strategy agent.
type KeyNumbers struct {
	LatestRevenueUSDBil  *float64 `json:"latest_revenue_usd_bil,omitempty"`
	YoYRevenueGrowthPct  *float64 `json:"yoy_revenue_growth_pct,omitempty"`
	EmployeeCountEstimate *int    `json:"employee_count_estimate,omitempty"`
	FoundedYear          *int     `json:"founded_year,omitempty"`
}

type Fundamentals struct {
	Profile              CompanyProfile `json:"profile"`
	KeyNumbers           KeyNumbers     `json:"key_numbers"`
	BusinessModel        string         `json:"business_model,omitempty"`
	IdealCustomerProfile string         `json:"ideal_customer_profile,omitempty"`
	KeySegments          []string       `json:"key_segments,omitempty"`
	NotableNotes         []string       `json:"notable_notes,omitempty"`
}

type Leader struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	Location    string `json:"location,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type Leadership struct {
	CompanyName string   `json:"company_name"`
	Leaders     []Leader `json:"leaders,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

type NewsItem struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	URL         string   `json:"url"`
	PublishedAt string   `json:"published_at,omitempty"`
	Sentiment   string   `json:"sentiment,omitempty"` // positive | negative | neutral | mixed
	Topics      []string `json:"topics,omitempty"`
}

type MarketNews struct {
	CompanyName      string     `json:"company_name"`
	OverallSentiment string     `json:"overall_sentiment,omitempty"`
	KeyThemes        []string   `json:"key_themes,omitempty"`
	Items            []NewsItem `json:"items,omitempty"`
}

type ProductOrService struct {
	Name        string   `json:"name"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	TargetUsers []string `json:"target_users,omitempty"`
}

type TechComponent struct {
	Area              string   `json:"area"`
	Technologies      []string `json:"technologies,omitempty"`
	ConfidenceComment string   `json:"confidence_comment,omitempty"`
}

type TechServices struct {
	CompanyName         string             `json:"company_name"`
	ProductsAndServices []ProductOrService `json:"products_and_services,omitempty"`
	TechStack           []TechComponent    `json:"tech_stack,omitempty"`
	Notes               string             `json:"notes,omitempty"`
}

type OpportunityItem struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
}

type UnknownItem struct {
	Question     string `json:"question"`
	WhyItMatters string `json:"why_it_matters"`
	HowToFindOut string `json:"how_to_find_out,omitempty"`
}

type RiskItem struct {
	Risk       string `json:"risk"`
	Impact     string `json:"impact"`
	Mitigation string `json:"mitigation,omitempty"`
}

type NextStepItem struct {
	Action    string `json:"action"`
	Owner     string `json:"owner,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
}

// Strategy is the persona-specific "why it matters / opportunities /
// risks / next steps" payload.
type Strategy struct {
	WhyItMatters       string            `json:"why_it_matters"`
	OpportunitiesForMe []OpportunityItem `json:"opportunities_for_me,omitempty"`
	KeyUnknowns        []UnknownItem     `json:"key_unknowns,omitempty"`
	RisksBlockers      []RiskItem        `json:"risks_blockers,omitempty"`
	NextSteps          []NextStepItem    `json:"next_steps,omitempty"`
	SuggestedFollowups []string          `json:"suggested_followups,omitempty"`
}

type StockPoint struct {
	Date  string  `json:"date"` // ISO date, trading day
	Close float64 `json:"close"`
}

// StockSeries is ordered oldest to newest, ready for plotting.
type StockSeries struct {
	Symbol      string       `json:"symbol"`
	CompanyName string       `json:"company_name,omitempty"`
	Currency    string       `json:"currency,omitempty"`
	Points      []StockPoint `json:"points,omitempty"`
}
