package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	contractx "github.com/planforge/planforge/agent/contract"
)

func TestResearchCompletedDeliversEvent(t *testing.T) {
	t.Parallel()

	var got contractx.ResearchEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	n, err := NewNotifier(Config{URL: srv.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("NewNotifier() error = %v", err)
	}

	event := contractx.ResearchEvent{
		UserID:      "user-1",
		PersonaID:   uuid.New(),
		CompanyKey:  "acme",
		Version:     3,
		Saved:       true,
		FailedKinds: []contractx.SectionKind{contractx.SectionNews},
	}
	if err := n.ResearchCompleted(context.Background(), event); err != nil {
		t.Fatalf("ResearchCompleted() error = %v", err)
	}
	if got.CompanyKey != "acme" || got.Version != 3 || !got.Saved {
		t.Fatalf("delivered event = %+v", got)
	}
}

func TestResearchCompletedNon2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	n, err := NewNotifier(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewNotifier() error = %v", err)
	}
	if err := n.ResearchCompleted(context.Background(), contractx.ResearchEvent{}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestNewNotifierValidatesURL(t *testing.T) {
	t.Parallel()

	if _, err := NewNotifier(Config{URL: "  "}); err == nil {
		t.Fatal("expected error for empty url")
	}
}
