package steps

import (
	"fmt"
	"time"

	"github.com/tubevault/backend/internal/blob"
	"github.com/tubevault/backend/internal/clients/llm"
	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

const srcGenerateTags = `generate_tags@v1
ask the LLM for summary, tags and topics from title/description/transcript;
append the result to llm_outputs as type "tags" and mirror it to the blob store`

func (d *Deps) generateTags(log *logger.Logger) pipeline.StepFunc {
	return func(pctx *pipeline.Context) pipeline.StepResult {
		if d.Tags == nil {
			return pipeline.Fail(fmt.Errorf("generate_tags: llm client not configured: %w", errkind.ErrInvalidInput))
		}

		transcriptRes, ok := pctx.Results[StepFetchTranscript]
		if !ok || !transcriptRes.Success {
			return pipeline.FailMsg("dependency fetch_transcript failed or missing")
		}
		text, _ := transcriptRes.Value.(string)

		req := llm.TagRequest{VideoID: pctx.VideoID, Transcript: text}
		if md, ok := pctx.Metadata[metaYouTubeMetadata].(map[string]any); ok {
			fillTagRequest(&req, md)
		} else if rec, err := d.Archive.Get(pctx.VideoID); err == nil {
			// Backfill path: the run fetched only the transcript; title and
			// channel come from the archived metadata.
			fillTagRequest(&req, rec.YouTubeMetadata)
		}

		result, err := d.Tags.GenerateTags(pctx.Ctx, req)
		if err != nil {
			return pipeline.Fail(err)
		}

		out := domain.LLMOutput{
			OutputType:       "tags",
			OutputValue:      result,
			GeneratedAt:      time.Now().UTC(),
			Model:            result.Model,
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
		}
		if err := d.Archive.AppendLLMOutput(pctx.VideoID, out); err != nil {
			return pipeline.Fail(err)
		}
		if err := d.Blob.PutJSON(pctx.Ctx, blob.LLMOutputKey(pctx.VideoID, "tags"), out); err != nil {
			log.Warn("llm output mirror failed", "video_id", pctx.VideoID, "error", err)
		}

		log.Info("tags generated", "video_id", pctx.VideoID, "tags", len(result.Tags), "topics", len(result.Topics))
		return pipeline.OK(result)
	}
}

func fillTagRequest(req *llm.TagRequest, md map[string]any) {
	if md == nil {
		return
	}
	if v, ok := md["title"].(string); ok {
		req.Title = v
	}
	if v, ok := md["description"].(string); ok {
		req.Description = v
	}
	if v, ok := md["channel_title"].(string); ok {
		req.ChannelTitle = v
	}
}
