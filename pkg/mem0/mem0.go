// Package mem0 talks to the Mem0 REST API and adapts it to the
// MemoryStore contract. Facts are scoped per user and persona.
package mem0

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	contractx "github.com/planforge/planforge/agent/contract"
)

const maxResponseSizeBytes = 2 << 20

var ErrEmptyStatement = errors.New("memory statement is empty")

type Config struct {
	BaseURL string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.mem0.ai"`
	APIKey  string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// Option customizes Store.
type Option func(*Store)

func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// Store is the Mem0-backed MemoryStore.
type Store struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewStore(cfg Config, opts ...Option) (*Store, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("mem0 base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid mem0 base url: %w", err)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("mem0 api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &Store{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

type addRequest struct {
	Messages []message      `json:"messages"`
	UserID   string         `json:"user_id"`
	AgentID  string         `json:"agent_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchRequest struct {
	Query   string         `json:"query"`
	UserID  string         `json:"user_id"`
	AgentID string         `json:"agent_id,omitempty"`
	Limit   int            `json:"limit,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
}

type memoryRecord struct {
	ID        string         `json:"id"`
	Memory    string         `json:"memory"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Add stores one fact and returns the remote memory id.
func (s *Store) Add(ctx context.Context, fact contractx.MemoryFact) (string, error) {
	statement := strings.TrimSpace(fact.Statement)
	if statement == "" {
		return "", ErrEmptyStatement
	}
	if strings.TrimSpace(fact.UserID) == "" {
		return "", errors.New("memory fact user id is empty")
	}

	body := addRequest{
		Messages: []message{{Role: "user", Content: statement}},
		UserID:   fact.UserID,
		AgentID:  agentID(fact.PersonaID),
		Metadata: map[string]any{"source": string(fact.Source)},
	}

	var records []memoryRecord
	if err := s.do(ctx, "/v1/memories/", body, &records); err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].ID, nil
}

// Search returns facts relevant to the query, newest scoring first as
// ranked by the service.
func (s *Store) Search(
	ctx context.Context,
	userID string,
	personaID uuid.UUID,
	query string,
	limit int,
) ([]contractx.MemoryFact, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is empty")
	}
	if limit <= 0 {
		limit = 10
	}

	body := searchRequest{
		Query:   strings.TrimSpace(query),
		UserID:  userID,
		AgentID: agentID(personaID),
		Limit:   limit,
	}

	var records []memoryRecord
	if err := s.do(ctx, "/v1/memories/search/", body, &records); err != nil {
		return nil, err
	}

	facts := make([]contractx.MemoryFact, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.Memory) == "" {
			continue
		}
		facts = append(facts, contractx.MemoryFact{
			ID:        rec.ID,
			UserID:    userID,
			PersonaID: personaID,
			Statement: rec.Memory,
			Source:    recordSource(rec.Metadata),
			CreatedAt: rec.CreatedAt,
		})
	}
	return facts, nil
}

func (s *Store) do(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mem0 request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mem0 request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute mem0 request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read mem0 response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("mem0 http status=%d body=%s", resp.StatusCode, string(raw))
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode mem0 response: %w", err)
	}
	return nil
}

func agentID(personaID uuid.UUID) string {
	if personaID == uuid.Nil {
		return ""
	}
	return "persona-" + personaID.String()
}

func recordSource(metadata map[string]any) contractx.ResultSource {
	if metadata == nil {
		return contractx.SourceResearch
	}
	if src, ok := metadata["source"].(string); ok && src == string(contractx.SourceChat) {
		return contractx.SourceChat
	}
	return contractx.SourceResearch
}
