package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ClientConfig configures a ChatClient.
type ClientConfig struct {
	BaseURL     string // default https://api.openai.com/v1
	APIKey      string
	Model       string // default gpt-4o
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int // retries on 429/5xx
}

// ChatClient calls an OpenAI-compatible /chat/completions endpoint.
type ChatClient struct {
	url        string
	cfg        ClientConfig
	httpClient *http.Client
	sleep      func(context.Context, time.Duration) error
}

// NewChatClient creates a ChatClient.
func NewChatClient(cfg ClientConfig) *ChatClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	// Accept a base URL that already names the endpoint.
	base := strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/chat/completions")
	return &ChatClient{
		url:        base + "/chat/completions",
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		sleep:      sleepCtx,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Complete sends one system and one user message and returns the first
// choice's content.
func (c *ChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("advisor: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		content, retryAfter, err := c.do(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if retryAfter < 0 || attempt == c.cfg.MaxRetries {
			break
		}
		if retryAfter == 0 {
			retryAfter = min((800*time.Millisecond)<<attempt, 8*time.Second)
		}
		if err := c.sleep(ctx, retryAfter); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

// do performs one attempt. retryAfter is negative when the failure is not
// retryable, zero when retryable without a server hint.
func (c *ChatClient) do(ctx context.Context, body []byte) (content string, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", -1, fmt.Errorf("advisor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", -1, fmt.Errorf("advisor: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", -1, fmt.Errorf("advisor: read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(gjson.GetBytes(raw, "error.message").String())
		if msg == "" {
			msg = resp.Status
		}
		err := fmt.Errorf("advisor: status=%d: %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", parseRetryAfter(resp.Header.Get("Retry-After")), err
		}
		return "", -1, err
	}

	choice := gjson.GetBytes(raw, "choices.0.message.content")
	if !choice.Exists() {
		return "", -1, errors.New("advisor: empty choices")
	}
	return choice.String(), 0, nil
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
