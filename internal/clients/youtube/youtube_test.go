package youtube

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

func TestParseVideoID(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ?start=10", "dQw4w9WgXcQ", false},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ", false},
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://www.youtube.com/watch", "", true},
		{"https://example.com/watch?v=dQw4w9WgXcQ", "", true},
		{"", "", true},
		{"not a url at all", "", true},
	}
	for _, tc := range cases {
		got, err := ParseVideoID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseVideoID(%q): expected error, got %q", tc.in, got)
			} else if !errors.Is(err, errkind.ErrInvalidInput) {
				t.Errorf("ParseVideoID(%q): wrong error kind: %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseVideoID(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseVideoID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMetadataToMap(t *testing.T) {
	md := &Metadata{
		Title:           "T",
		ChannelID:       "C1",
		ChannelTitle:    "Ch",
		DurationSeconds: 60,
	}
	m := md.ToMap()
	if m["title"] != "T" || m["channel_id"] != "C1" || m["channel_title"] != "Ch" {
		t.Errorf("map = %v", m)
	}
	if _, ok := m["channel_name"]; ok {
		t.Error("unexpected channel_name key")
	}
	if _, ok := m["published_at"]; ok {
		t.Error("zero published_at should be omitted")
	}
}

func TestParseISO8601Duration(t *testing.T) {
	cases := map[string]int64{
		"PT4M13S":    253,
		"PT1H2M3S":   3723,
		"PT45S":      45,
		"PT2H":       7200,
		"P1DT1H":     90000,
		"":           0,
		"not-a-time": 0,
	}
	for in, want := range cases {
		if got := parseISO8601Duration(in); got != want {
			t.Errorf("parseISO8601Duration(%q) = %d, want %d", in, got, want)
		}
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func fakeResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestFetchTranscript(t *testing.T) {
	log := logger.NewNop()
	body := `{"language":"en","segments":[
		{"text":"hello world","start":0,"duration":2.5},
		{"text":"  ","start":2.5,"duration":1},
		{"text":"second line","start":3.5,"duration":2}
	]}`

	client, err := NewTranscriptClientWithHTTPClient(log, "http://transcripts.local", &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if got := r.URL.Query().Get("video_id"); got != "dQw4w9WgXcQ" {
				t.Errorf("unexpected video_id %q", got)
			}
			return fakeResponse(http.StatusOK, body), nil
		}),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	tr, err := client.FetchTranscript(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if tr.Text != "hello world second line" {
		t.Errorf("joined text = %q", tr.Text)
	}
	if len(tr.Segments) != 2 {
		t.Errorf("expected 2 non-empty segments, got %d", len(tr.Segments))
	}
	if tr.Language != "en" {
		t.Errorf("language = %q", tr.Language)
	}
}

func TestFetchTranscriptStatusMapping(t *testing.T) {
	log := logger.NewNop()
	cases := []struct {
		status int
		kind   error
	}{
		{http.StatusNotFound, errkind.ErrTranscriptUnavailable},
		{http.StatusTooManyRequests, errkind.ErrRateLimited},
		{http.StatusBadGateway, errkind.ErrUpstreamUnavailable},
		{http.StatusBadRequest, errkind.ErrInvalidInput},
	}
	for _, tc := range cases {
		client, err := NewTranscriptClientWithHTTPClient(log, "http://transcripts.local", &http.Client{
			Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				return fakeResponse(tc.status, `{}`), nil
			}),
		})
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		_, err = client.FetchTranscript(context.Background(), "dQw4w9WgXcQ")
		if !errors.Is(err, tc.kind) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.kind, err)
		}
	}
}

func TestFetchTranscriptEmptyIsUnavailable(t *testing.T) {
	log := logger.NewNop()
	client, err := NewTranscriptClientWithHTTPClient(log, "http://transcripts.local", &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return fakeResponse(http.StatusOK, `{"segments":[]}`), nil
		}),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.FetchTranscript(context.Background(), "dQw4w9WgXcQ")
	if !errors.Is(err, errkind.ErrTranscriptUnavailable) {
		t.Errorf("expected transcript-unavailable, got %v", err)
	}
}
