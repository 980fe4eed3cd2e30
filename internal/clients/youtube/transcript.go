package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// Transcript is a fetched caption track: the timed segments plus the joined
// plain text.
type Transcript struct {
	Text     string
	Segments []domain.TimedSegment
	Language string
}

type TranscriptClient interface {
	FetchTranscript(ctx context.Context, videoID string) (*Transcript, error)
}

type transcriptClient struct {
	log        *logger.Logger
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func NewTranscriptClient(log *logger.Logger, baseURL string) (TranscriptClient, error) {
	if log == nil {
		return nil, fmt.Errorf("youtube: logger required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("youtube: transcript base url required")
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &transcriptClient{
		log:        log.With("client", "Transcript"),
		baseURL:    baseURL,
		timeout:    30 * time.Second,
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// NewTranscriptClientWithHTTPClient is intended for tests; it avoids network
// access by using a custom RoundTripper.
func NewTranscriptClientWithHTTPClient(log *logger.Logger, baseURL string, httpClient *http.Client) (TranscriptClient, error) {
	c, err := NewTranscriptClient(log, baseURL)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.(*transcriptClient).httpClient = httpClient
	}
	return c, nil
}

type transcriptResponse struct {
	Language string `json:"language,omitempty"`
	Segments []struct {
		Text     string  `json:"text"`
		Start    float64 `json:"start"`
		Duration float64 `json:"duration"`
	} `json:"segments"`
}

func (c *transcriptClient) FetchTranscript(ctx context.Context, videoID string) (*Transcript, error) {
	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + "/transcript?video_id=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx2, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("youtube: build transcript request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("youtube: transcript %s: %v: %w", videoID, err, errkind.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("youtube: transcript %s: %w", videoID, errkind.ErrTranscriptUnavailable)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("youtube: transcript %s: status 429: %w", videoID, errkind.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("youtube: transcript %s: status %d: %w", videoID, resp.StatusCode, errkind.ErrUpstreamUnavailable)
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("youtube: transcript %s: status %d: %s: %w",
			videoID, resp.StatusCode, strings.TrimSpace(string(raw)), errkind.ErrInvalidInput)
	}

	var body transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("youtube: decode transcript %s: %w", videoID, err)
	}
	if len(body.Segments) == 0 {
		return nil, fmt.Errorf("youtube: transcript %s empty: %w", videoID, errkind.ErrTranscriptUnavailable)
	}

	out := &Transcript{Language: body.Language}
	parts := make([]string, 0, len(body.Segments))
	for _, seg := range body.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		out.Segments = append(out.Segments, domain.TimedSegment{
			Text:     text,
			Start:    seg.Start,
			Duration: seg.Duration,
		})
	}
	out.Text = strings.Join(parts, " ")
	if out.Text == "" {
		return nil, fmt.Errorf("youtube: transcript %s empty: %w", videoID, errkind.ErrTranscriptUnavailable)
	}
	return out, nil
}
