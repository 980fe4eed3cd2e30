package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func fakeResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	c, err := NewWithHTTPClient(logger.NewNop(), Config{
		BaseURL: "http://llm.local",
		Model:   "test-model",
	}, &http.Client{Transport: rt})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestGenerateTags(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		return fakeResponse(http.StatusOK, `{
			"choices":[{"message":{"content":"{\"summary\":\"A talk about Go.\",\"tags\":[\"go\",\"concurrency\"],\"topics\":[\"programming\"]}"}}],
			"usage":{"prompt_tokens":120,"completion_tokens":40}
		}`), nil
	})

	res, err := client.GenerateTags(context.Background(), TagRequest{
		VideoID: "dQw4w9WgXcQ",
		Title:   "Go talk",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Summary != "A talk about Go." {
		t.Errorf("summary = %q", res.Summary)
	}
	if len(res.Tags) != 2 || res.Tags[0] != "go" {
		t.Errorf("tags = %v", res.Tags)
	}
	if res.Model != "test-model" {
		t.Errorf("model = %q", res.Model)
	}
	if res.PromptTokens == nil || *res.PromptTokens != 120 {
		t.Errorf("prompt tokens = %v", res.PromptTokens)
	}
	if res.CompletionTokens == nil || *res.CompletionTokens != 40 {
		t.Errorf("completion tokens = %v", res.CompletionTokens)
	}
}

func TestGenerateTagsStripsCodeFence(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return fakeResponse(http.StatusOK, `{
			"choices":[{"message":{"content":"`+"```json\\n{\\\"summary\\\":\\\"s\\\",\\\"tags\\\":[\\\"t\\\"],\\\"topics\\\":[]}\\n```"+`"}}]
		}`), nil
	})
	res, err := client.GenerateTags(context.Background(), TagRequest{Title: "x"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Summary != "s" || len(res.Tags) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestGenerateTagsUpstreamError(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		calls++
		return fakeResponse(http.StatusInternalServerError, `boom`), nil
	})
	_, err := client.GenerateTags(context.Background(), TagRequest{Title: "x"})
	if !errors.Is(err, errkind.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected one retry, got %d calls", calls)
	}
}

func TestGenerateTagsMalformedJSON(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return fakeResponse(http.StatusOK, `{"choices":[{"message":{"content":"not json"}}]}`), nil
	})
	_, err := client.GenerateTags(context.Background(), TagRequest{Title: "x"})
	if err == nil {
		t.Fatal("expected parse error")
	}
}
