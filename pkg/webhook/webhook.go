// Package webhook delivers research-completed events to a configured
// HTTP endpoint. Delivery is best effort; callers log and move on.
package webhook

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

	contractx "github.com/planforge/planforge/agent/contract"
)

type Config struct {
	URL     string        `split_words:"true" required:"true"`
	Token   string        `split_words:"true"`
	Timeout time.Duration `split_words:"true" default:"10s"`
}

type Notifier struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

func NewNotifier(cfg Config) (*Notifier, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, errors.New("webhook url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Notifier{
		endpoint:   endpoint,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func MustNew(cfg Config) *Notifier {
	n, err := NewNotifier(cfg)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Notifier) ResearchCompleted(ctx context.Context, event contractx.ResearchEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook http status=%d", resp.StatusCode)
	}
	return nil
}
