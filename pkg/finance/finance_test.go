package finance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "demo"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func dailyBody(series map[string]map[string]string) []byte {
	raw, _ := json.Marshal(map[string]any{"Time Series (Daily)": series})
	return raw
}

func TestDailySeriesOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "CRM" {
			t.Errorf("symbol = %q", got)
		}
		if got := r.URL.Query().Get("function"); got != "TIME_SERIES_DAILY" {
			t.Errorf("function = %q", got)
		}
		w.Write(dailyBody(map[string]map[string]string{
			"2026-08-27": {"4. close": "250.00"},
			"2026-08-28": {"4. close": "251.50"},
			"2026-08-26": {"4. close": "248.75"},
		}))
	})

	series, err := client.DailySeries(context.Background(), "crm", 30)
	if err != nil {
		t.Fatalf("DailySeries() error = %v", err)
	}
	if series.Symbol != "CRM" {
		t.Fatalf("symbol = %q", series.Symbol)
	}
	if len(series.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(series.Points))
	}
	if series.Points[0].Date != "2026-08-26" || series.Points[2].Date != "2026-08-28" {
		t.Fatalf("points out of order: %+v", series.Points)
	}
	if series.Points[2].Close != 251.50 {
		t.Fatalf("latest close = %v", series.Points[2].Close)
	}
}

func TestDailySeriesTruncatesToRequestedDays(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(dailyBody(map[string]map[string]string{
			"2026-08-25": {"4. close": "1"},
			"2026-08-26": {"4. close": "2"},
			"2026-08-27": {"4. close": "3"},
			"2026-08-28": {"4. close": "4"},
		}))
	})

	series, err := client.DailySeries(context.Background(), "CRM", 2)
	if err != nil {
		t.Fatalf("DailySeries() error = %v", err)
	}
	if len(series.Points) != 2 {
		t.Fatalf("points = %d, want the 2 most recent", len(series.Points))
	}
	if series.Points[0].Date != "2026-08-27" || series.Points[1].Date != "2026-08-28" {
		t.Fatalf("kept wrong window: %+v", series.Points)
	}
}

func TestDailySeriesAPIError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"Error Message": "Invalid API call"})
	})

	if _, err := client.DailySeries(context.Background(), "NOPE", 30); err == nil {
		t.Fatal("expected error from api error message")
	}
}

func TestDailySeriesEmptyIsErrNoSeries(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := client.DailySeries(context.Background(), "CRM", 30)
	if !errors.Is(err, ErrNoSeries) {
		t.Fatalf("expected ErrNoSeries, got %v", err)
	}
}
