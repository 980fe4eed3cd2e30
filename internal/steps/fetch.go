package steps

import (
	"fmt"

	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

const srcFetchTranscript = `fetch_transcript@v1
fetch the caption track from the transcript service, join non-empty segments
into plain text, stash timed segments and language in the run context`

func (d *Deps) fetchTranscript(log *logger.Logger) pipeline.StepFunc {
	return func(pctx *pipeline.Context) pipeline.StepResult {
		if d.Transcripts == nil {
			return pipeline.Fail(fmt.Errorf("fetch_transcript: transcript client not configured: %w", errkind.ErrInvalidInput))
		}
		tr, err := d.Transcripts.FetchTranscript(pctx.Ctx, pctx.VideoID)
		if err != nil {
			return pipeline.Fail(err)
		}
		pctx.Metadata[metaTimedTranscript] = tr.Segments
		if tr.Language != "" {
			pctx.Metadata[metaTranscriptLang] = tr.Language
		}
		log.Debug("transcript fetched", "video_id", pctx.VideoID, "segments", len(tr.Segments))
		return pipeline.OK(tr.Text)
	}
}

const srcFetchMetadata = `fetch_metadata@v1
fetch snippet, contentDetails and statistics from the Data API and normalize
into the youtube_metadata document`

func (d *Deps) fetchMetadata(log *logger.Logger) pipeline.StepFunc {
	return func(pctx *pipeline.Context) pipeline.StepResult {
		if d.Metadata == nil {
			return pipeline.Fail(fmt.Errorf("fetch_metadata: metadata client not configured: %w", errkind.ErrInvalidInput))
		}
		md, err := d.Metadata.FetchMetadata(pctx.Ctx, pctx.VideoID)
		if err != nil {
			return pipeline.Fail(err)
		}
		m := md.ToMap()
		pctx.Metadata[metaYouTubeMetadata] = m
		log.Debug("metadata fetched", "video_id", pctx.VideoID, "title", md.Title)
		return pipeline.OK(m)
	}
}
