// Package youtube wraps the external video collaborators: the Data API for
// metadata and a timedtext-style service for transcripts.
package youtube

import (
	"context"
	"fmt"
	"strings"
	"time"

	yt "google.golang.org/api/youtube/v3"
	"google.golang.org/api/option"

	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// Metadata is the normalized slice of the Data API response the pipeline
// cares about. ToMap produces the youtube_metadata document stored in the
// archive.
type Metadata struct {
	Title           string
	Description     string
	ChannelID       string
	ChannelTitle    string
	PublishedAt     time.Time
	DurationSeconds int64
	ViewCount       uint64
	LikeCount       uint64
	Tags            []string
	CategoryID      string
	ThumbnailURL    string
}

func (m *Metadata) ToMap() map[string]any {
	out := map[string]any{
		"title":            m.Title,
		"description":      m.Description,
		"channel_id":       m.ChannelID,
		"channel_title":    m.ChannelTitle,
		"duration_seconds": m.DurationSeconds,
		"view_count":       m.ViewCount,
		"like_count":       m.LikeCount,
	}
	if !m.PublishedAt.IsZero() {
		out["published_at"] = m.PublishedAt.UTC().Format(time.RFC3339)
	}
	if len(m.Tags) > 0 {
		out["tags"] = m.Tags
	}
	if m.CategoryID != "" {
		out["category_id"] = m.CategoryID
	}
	if m.ThumbnailURL != "" {
		out["thumbnail_url"] = m.ThumbnailURL
	}
	return out
}

type MetadataClient interface {
	FetchMetadata(ctx context.Context, videoID string) (*Metadata, error)
}

type metadataClient struct {
	log    *logger.Logger
	apiKey string
}

func NewMetadataClient(log *logger.Logger, apiKey string) (MetadataClient, error) {
	if log == nil {
		return nil, fmt.Errorf("youtube: logger required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("youtube: api key required")
	}
	return &metadataClient{
		log:    log.With("client", "YouTubeMetadata"),
		apiKey: strings.TrimSpace(apiKey),
	}, nil
}

func (c *metadataClient) FetchMetadata(ctx context.Context, videoID string) (*Metadata, error) {
	svc, err := yt.NewService(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("youtube: init service: %w", err)
	}

	resp, err := svc.Videos.List([]string{"snippet", "contentDetails", "statistics"}).
		Id(videoID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube: fetch %s: %v: %w", videoID, err, errkind.ErrUpstreamUnavailable)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("youtube: video %s: %w", videoID, errkind.ErrNotFound)
	}

	item := resp.Items[0]
	md := &Metadata{}
	if sn := item.Snippet; sn != nil {
		md.Title = sn.Title
		md.Description = sn.Description
		md.ChannelID = sn.ChannelId
		md.ChannelTitle = sn.ChannelTitle
		md.Tags = sn.Tags
		md.CategoryID = sn.CategoryId
		if t, err := time.Parse(time.RFC3339, sn.PublishedAt); err == nil {
			md.PublishedAt = t
		}
		if sn.Thumbnails != nil && sn.Thumbnails.High != nil {
			md.ThumbnailURL = sn.Thumbnails.High.Url
		}
	}
	if cd := item.ContentDetails; cd != nil {
		md.DurationSeconds = parseISO8601Duration(cd.Duration)
	}
	if st := item.Statistics; st != nil {
		md.ViewCount = st.ViewCount
		md.LikeCount = st.LikeCount
	}
	return md, nil
}

// parseISO8601Duration handles the PT#H#M#S form the Data API returns.
// Malformed input yields 0.
func parseISO8601Duration(s string) int64 {
	s = strings.TrimPrefix(s, "P")
	var days, hours, mins, secs int64
	inTime := false
	n := int64(0)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + int64(r-'0')
		case r == 'T':
			inTime = true
			n = 0
		case r == 'D':
			days, n = n, 0
		case r == 'H' && inTime:
			hours, n = n, 0
		case r == 'M' && inTime:
			mins, n = n, 0
		case r == 'S' && inTime:
			secs, n = n, 0
		default:
			n = 0
		}
	}
	return days*86400 + hours*3600 + mins*60 + secs
}
