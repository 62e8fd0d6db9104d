// Package finance fetches daily closing prices from the Alpha Vantage
// REST API for the visualization section.
package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	sectionx "github.com/planforge/planforge/agent/section"
)

const maxResponseSizeBytes = 4 << 20

var ErrNoSeries = errors.New("no daily series for symbol")

type Config struct {
	BaseURL string        `envconfig:"BASE_URL" split_words:"true" default:"https://www.alphavantage.co"`
	APIKey  string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("finance base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid finance base url: %w", err)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("finance api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type dailyResponse struct {
	Series  map[string]map[string]string `json:"Time Series (Daily)"`
	Note    string                       `json:"Note"`
	Message string                       `json:"Error Message"`
}

// DailySeries returns up to days closing prices for symbol, oldest
// first.
func (c *Client) DailySeries(ctx context.Context, symbol string, days int) (sectionx.StockSeries, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return sectionx.StockSeries{}, errors.New("symbol is empty")
	}
	if days <= 0 {
		days = 30
	}

	query := url.Values{}
	query.Set("function", "TIME_SERIES_DAILY")
	query.Set("symbol", symbol)
	query.Set("apikey", c.apiKey)

	endpoint := c.baseURL + "/query?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return sectionx.StockSeries{}, fmt.Errorf("build finance request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sectionx.StockSeries{}, fmt.Errorf("execute finance request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return sectionx.StockSeries{}, fmt.Errorf("read finance response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return sectionx.StockSeries{}, fmt.Errorf("finance http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed dailyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return sectionx.StockSeries{}, fmt.Errorf("decode finance response: %w", err)
	}
	if parsed.Message != "" {
		return sectionx.StockSeries{}, fmt.Errorf("finance api error: %s", parsed.Message)
	}
	if parsed.Note != "" {
		return sectionx.StockSeries{}, fmt.Errorf("finance api throttled: %s", parsed.Note)
	}
	if len(parsed.Series) == 0 {
		return sectionx.StockSeries{}, fmt.Errorf("%w: %s", ErrNoSeries, symbol)
	}

	dates := make([]string, 0, len(parsed.Series))
	for date := range parsed.Series {
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > days {
		dates = dates[:days]
	}

	points := make([]sectionx.StockPoint, 0, len(dates))
	for i := len(dates) - 1; i >= 0; i-- {
		date := dates[i]
		closeRaw := parsed.Series[date]["4. close"]
		closePrice, err := strconv.ParseFloat(strings.TrimSpace(closeRaw), 64)
		if err != nil {
			continue
		}
		points = append(points, sectionx.StockPoint{Date: date, Close: closePrice})
	}
	if len(points) == 0 {
		return sectionx.StockSeries{}, fmt.Errorf("%w: %s", ErrNoSeries, symbol)
	}

	return sectionx.StockSeries{
		Symbol:   symbol,
		Currency: "USD",
		Points:   points,
	}, nil
}
