package steps

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tubevault/backend/internal/blob"
	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/index"
	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

const srcCacheToBlob = `cache_to_blob@v1
write the canonical archive record JSON under the youtube:video:<id> cache
key; skip when the key already exists`

func (d *Deps) cacheToBlob(log *logger.Logger) pipeline.StepFunc {
	return func(pctx *pipeline.Context) pipeline.StepResult {
		key := blob.VideoCacheKey(pctx.VideoID)

		exists, err := d.Blob.Exists(pctx.Ctx, key)
		if err != nil {
			return pipeline.Fail(err)
		}
		if exists {
			log.Debug("cache key present, skipping", "key", key)
			return pipeline.OKCached(key)
		}

		rec, err := d.Archive.Get(pctx.VideoID)
		if err != nil {
			return pipeline.Fail(err)
		}
		if err := d.Blob.PutJSON(pctx.Ctx, key, rec); err != nil {
			return pipeline.Fail(err)
		}

		log.Info("cached to blob", "key", key)
		return pipeline.OK(key)
	}
}

const srcUpdateGraph = `update_graph@v1
embed the canonical summary_text, store the document vector on the archive
record and the video row, upsert channel/topic nodes and their edges`

// tagPayload is the shape of the latest "tags" llm_output value, tolerant of
// the map form it takes after a JSON round-trip through the archive.
type tagPayload struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
	Topics  []string `json:"topics"`
}

func (d *Deps) updateGraph(log *logger.Logger) pipeline.StepFunc {
	return func(pctx *pipeline.Context) pipeline.StepResult {
		rec, err := d.Archive.Get(pctx.VideoID)
		if err != nil {
			return pipeline.Fail(err)
		}

		md := rec.YouTubeMetadata
		title, _ := md["title"].(string)
		channelID, _ := md["channel_id"].(string)
		channelTitle, _ := md["channel_title"].(string)

		tags := latestTags(rec)

		summaryText := buildSummaryText(pctx.VideoID, channelTitle, title, tags)
		if d.Embedder == nil {
			return pipeline.Fail(fmt.Errorf("update_graph: embedding client not configured: %w", errkind.ErrInvalidInput))
		}
		vec, err := d.Embedder.Embed(pctx.Ctx, summaryText)
		if err != nil {
			return pipeline.Fail(err)
		}
		if err := d.Archive.SetEmbedding(pctx.VideoID, vec); err != nil {
			return pipeline.Fail(err)
		}

		fields := index.Record{
			"video_id":      pctx.VideoID,
			"url":           rec.URL,
			"title":         title,
			"channel_id":    channelID,
			"channel_title": channelTitle,
			"summary":       tags.Summary,
			"summary_text":  summaryText,
			"embedding":     vec,
			"fetched_at":    rec.FetchedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		if len(tags.Tags) > 0 {
			fields["tags"] = tags.Tags
		}
		if im := rec.ImportMetadata; im != nil {
			fields["source_type"] = string(im.SourceType)
			fields["recommendation_weight"] = im.RecommendationWeight
		}
		if err := d.Index.Upsert(pctx.Ctx, domain.TableVideo, pctx.VideoID, fields); err != nil {
			return pipeline.Fail(err)
		}

		videoRef := index.Ref{Table: domain.TableVideo, ID: pctx.VideoID}
		if channelID != "" {
			if err := d.Index.Upsert(pctx.Ctx, domain.TableChannel, channelID, index.Record{
				"channel_id": channelID,
				"title":      channelTitle,
			}); err != nil {
				return pipeline.Fail(err)
			}
			channelRef := index.Ref{Table: domain.TableChannel, ID: channelID}
			if err := d.Index.Link(pctx.Ctx, videoRef, domain.RelHasChannel, channelRef, nil); err != nil {
				return pipeline.Fail(err)
			}
		}

		for _, topic := range tags.Topics {
			id := topicID(topic)
			if id == "" {
				continue
			}
			if err := d.Index.Upsert(pctx.Ctx, domain.TableTopic, id, index.Record{"topic": topic}); err != nil {
				return pipeline.Fail(err)
			}
			topicRef := index.Ref{Table: domain.TableTopic, ID: id}
			if err := d.Index.Link(pctx.Ctx, videoRef, domain.RelHasTopic, topicRef, nil); err != nil {
				return pipeline.Fail(err)
			}
		}

		log.Info("graph updated", "video_id", pctx.VideoID, "channel_id", channelID, "topics", len(tags.Topics))
		return pipeline.OK(summaryText)
	}
}

func latestTags(rec *domain.VideoRecord) tagPayload {
	var out tagPayload
	latest := rec.LatestLLMOutput("tags")
	if latest == nil {
		return out
	}
	b, err := json.Marshal(latest.OutputValue)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

func buildSummaryText(videoID, channel, title string, tags tagPayload) string {
	return fmt.Sprintf("Video ID: %s Channel: %s Title: %s Summary: %s Topics: %s",
		videoID, channel, title, tags.Summary, strings.Join(tags.Topics, ", "))
}

// topicID slugs a topic label into a stable node id.
func topicID(topic string) string {
	s := strings.ToLower(strings.TrimSpace(topic))
	s = strings.Join(strings.Fields(s), "-")
	return s
}
