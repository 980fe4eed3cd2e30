package steps

import (
	"fmt"
	"time"

	"github.com/tubevault/backend/internal/blob"
	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// MetaImport is the context-metadata key callers use to hand the step
// library a *domain.ImportMetadata describing provenance.
const MetaImport = "import_metadata"

const srcArchiveRaw = `archive_raw@v1
persist transcript then metadata into the archive record (order-independent
merge), mirror transcript text and the record JSON into the blob store`

func (d *Deps) archiveRaw(log *logger.Logger) pipeline.StepFunc {
	return func(pctx *pipeline.Context) pipeline.StepResult {
		transcriptRes, ok := pctx.Results[StepFetchTranscript]
		if !ok || !transcriptRes.Success {
			return pipeline.FailMsg("dependency fetch_transcript failed or missing")
		}
		text, _ := transcriptRes.Value.(string)
		if text == "" {
			return pipeline.Fail(fmt.Errorf("archive_raw: empty transcript: %w", errkind.ErrInvalidInput))
		}

		var timed []domain.TimedSegment
		if segs, ok := pctx.Metadata[metaTimedTranscript].([]domain.TimedSegment); ok {
			timed = segs
		}
		im := importMetadataFrom(pctx)

		if _, err := d.Archive.UpdateTranscript(pctx.VideoID, pctx.URL, text, timed, im); err != nil {
			return pipeline.Fail(err)
		}

		rec := (*domain.VideoRecord)(nil)
		if md, ok := pctx.Metadata[metaYouTubeMetadata].(map[string]any); ok {
			updated, err := d.Archive.UpdateMetadata(pctx.VideoID, pctx.URL, md)
			if err != nil {
				return pipeline.Fail(err)
			}
			rec = updated
		} else {
			got, err := d.Archive.Get(pctx.VideoID)
			if err != nil {
				return pipeline.Fail(err)
			}
			rec = got
		}

		// Blob mirrors are best-effort; the durable write above is the
		// contract.
		if err := d.Blob.PutBytes(pctx.Ctx, blob.TranscriptKey(pctx.VideoID), []byte(text)); err != nil {
			log.Warn("transcript mirror failed", "video_id", pctx.VideoID, "error", err)
		}
		month := rec.FetchedAt.UTC().Format("2006-01")
		if err := d.Blob.PutJSON(pctx.Ctx, blob.ArchiveMirrorKey(month, pctx.VideoID), rec); err != nil {
			log.Warn("archive mirror failed", "video_id", pctx.VideoID, "error", err)
		}

		log.Info("archived", "video_id", pctx.VideoID, "path", rec.ArchivePath)
		return pipeline.OK(rec.ArchivePath)
	}
}

// importMetadataFrom reads caller-provided provenance out of the context,
// defaulting to a single CLI import.
func importMetadataFrom(pctx *pipeline.Context) *domain.ImportMetadata {
	if im, ok := pctx.Metadata[MetaImport].(*domain.ImportMetadata); ok && im != nil {
		return im
	}
	source := domain.SourceSingleImport
	if s, ok := pctx.Metadata["source_type"].(string); ok && s != "" {
		source = domain.SourceType(s)
	}
	method := domain.ImportMethodCLI
	if m, ok := pctx.Metadata["import_method"].(string); ok && m != "" {
		method = domain.ImportMethod(m)
	}
	weight := source.DefaultWeight()
	if w, ok := pctx.Metadata["recommendation_weight"].(float64); ok && w > 0 {
		weight = w
	}
	return &domain.ImportMetadata{
		SourceType:           source,
		ImportedAt:           time.Now().UTC(),
		ImportMethod:         method,
		RecommendationWeight: weight,
	}
}
