// Package llm talks to an OpenAI-compatible chat-completions endpoint and
// extracts structured tags for a video.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// TagGenerator is the contract the generate_tags step programs against.
type TagGenerator interface {
	GenerateTags(ctx context.Context, req TagRequest) (*TagResult, error)
}

type TagRequest struct {
	VideoID      string
	Title        string
	Description  string
	ChannelTitle string
	Transcript   string
}

// TagResult is the parsed model output plus usage accounting for the
// archived LLMOutput entry.
type TagResult struct {
	Summary          string   `json:"summary"`
	Tags             []string `json:"tags"`
	Topics           []string `json:"topics"`
	Model            string   `json:"-"`
	PromptTokens     *int     `json:"-"`
	CompletionTokens *int     `json:"-"`
}

type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	log        *logger.Logger
	baseURL    string
	model      string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

func New(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("llm: logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("llm: base url required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("llm: model required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		log:        log.With("client", "LLM", "model", cfg.Model),
		baseURL:    baseURL,
		model:      cfg.Model,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		timeout:    timeout,
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// NewWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewWithHTTPClient(log *logger.Logger, cfg Config, httpClient *http.Client) (*Client, error) {
	c, err := New(log, cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

const tagSystemPrompt = `You label YouTube videos for a searchable archive.
Given a video's title, description and transcript, respond with a JSON object:
{"summary": "<2-3 sentence summary>", "tags": ["<5-15 short tags>"], "topics": ["<1-5 broad topics>"]}.
Respond with JSON only.`

// Transcripts beyond this are truncated in the prompt; the full text stays
// in the archive.
const maxTranscriptPromptBytes = 48 << 10

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) GenerateTags(ctx context.Context, req TagRequest) (*TagResult, error) {
	transcript := req.Transcript
	if len(transcript) > maxTranscriptPromptBytes {
		transcript = transcript[:maxTranscriptPromptBytes]
	}

	user := fmt.Sprintf("Title: %s\nChannel: %s\nDescription: %s\n\nTranscript:\n%s",
		req.Title, req.ChannelTitle, req.Description, transcript)

	body := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: tagSystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	var resp chatCompletionResponse
	if err := c.doJSON(ctx, "/v1/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty completion: %w", errkind.ErrUpstreamUnavailable)
	}

	content := sanitizeJSONText(resp.Choices[0].Message.Content)
	var result TagResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("llm: parse completion: %v: %w", err, errkind.ErrUpstreamUnavailable)
	}

	result.Model = c.model
	pt, ct := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if pt > 0 {
		result.PromptTokens = &pt
	}
	if ct > 0 {
		result.CompletionTokens = &ct
	}
	return &result, nil
}

func (c *Client) doJSON(ctx context.Context, path string, body any, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("llm: %w", ctx.Err())
			case <-time.After(time.Second):
			}
			c.log.Warn("retrying chat completion", "error", lastErr)
		}

		lastErr = c.doOnce(ctx, path, body, out)
		if lastErr == nil {
			return nil
		}
		if !errkind.Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("llm: encode request: %w", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm: %v: %w", err, errkind.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("llm: status 429: %w", errkind.ErrRateLimited)
	case resp.StatusCode >= 500:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("llm: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), errkind.ErrUpstreamUnavailable)
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("llm: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), errkind.ErrInvalidInput)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("llm: decode response: %w", err)
	}
	return nil
}

// sanitizeJSONText strips markdown code fences some models wrap around JSON.
func sanitizeJSONText(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
