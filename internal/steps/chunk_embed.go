package steps

import (
	"fmt"

	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/index"
	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

const srcChunkTranscript = `chunk_transcript@v1
read the archived timed transcript, partition on >=8s pauses around a token
target, delete prior chunks for the video and upsert the new chunk rows`

func (d *Deps) chunkTranscript(log *logger.Logger) pipeline.StepFunc {
	return func(pctx *pipeline.Context) pipeline.StepResult {
		rec, err := d.Archive.Get(pctx.VideoID)
		if err != nil {
			return pipeline.Fail(err)
		}

		segments := rec.TimedTranscript
		if len(segments) == 0 {
			if rec.RawTranscript == "" {
				return pipeline.Fail(fmt.Errorf("chunk_transcript: no transcript archived: %w", errkind.ErrNotFound))
			}
			// Untimed transcript: treat the whole text as one segment so
			// chunking still bounds token counts.
			segments = []domain.TimedSegment{{Text: rec.RawTranscript}}
		}

		chunks := chunkTimedTranscript(pctx.VideoID, segments, d.ChunkTargetTokens)

		seen := map[string]bool{}
		for _, c := range chunks {
			if seen[c.ChunkID] {
				return pipeline.Fail(fmt.Errorf("chunk_transcript: chunk id collision %s: %w", c.ChunkID, errkind.ErrIntegrity))
			}
			seen[c.ChunkID] = true
		}

		// Idempotent re-chunking: drop whatever a previous version produced.
		existing, err := d.Index.Query(pctx.Ctx, domain.TableVideoChunk, index.Record{"video_id": pctx.VideoID})
		if err != nil {
			return pipeline.Fail(err)
		}
		for _, row := range existing {
			id, _ := row["id"].(string)
			if id == "" {
				continue
			}
			if err := d.Index.Delete(pctx.Ctx, domain.TableVideoChunk, id); err != nil {
				return pipeline.Fail(err)
			}
		}

		// The video row may not exist yet on a fresh ingest; a minimal
		// upsert lets the chunk edges attach.
		if err := d.Index.Upsert(pctx.Ctx, domain.TableVideo, pctx.VideoID, index.Record{"video_id": pctx.VideoID}); err != nil {
			return pipeline.Fail(err)
		}

		videoRef := index.Ref{Table: domain.TableVideo, ID: pctx.VideoID}
		for _, c := range chunks {
			fields := index.Record{
				"chunk_id":    c.ChunkID,
				"video_id":    c.VideoID,
				"index":       int64(c.Index),
				"text":        c.Text,
				"start_time":  c.StartTime,
				"end_time":    c.EndTime,
				"token_count": int64(c.TokenCount),
			}
			if err := d.Index.Upsert(pctx.Ctx, domain.TableVideoChunk, c.ChunkID, fields); err != nil {
				return pipeline.Fail(err)
			}
			chunkRef := index.Ref{Table: domain.TableVideoChunk, ID: c.ChunkID}
			if err := d.Index.Link(pctx.Ctx, videoRef, domain.RelHasChunk, chunkRef, nil); err != nil {
				return pipeline.Fail(err)
			}
		}

		log.Info("transcript chunked", "video_id", pctx.VideoID, "chunks", len(chunks))
		return pipeline.OK(len(chunks))
	}
}

const srcEmbedChunks = `embed_chunks@v1
embed every chunk of the video that lacks a vector, batching requests, and
write the vectors back onto the chunk rows`

func (d *Deps) embedChunks(log *logger.Logger) pipeline.StepFunc {
	return func(pctx *pipeline.Context) pipeline.StepResult {
		rows, err := d.Index.Query(pctx.Ctx, domain.TableVideoChunk, index.Record{"video_id": pctx.VideoID})
		if err != nil {
			return pipeline.Fail(err)
		}

		type pending struct {
			id   string
			text string
		}
		var missing []pending
		for _, row := range rows {
			if hasEmbedding(row["embedding"]) {
				continue
			}
			id, _ := row["id"].(string)
			text, _ := row["text"].(string)
			if id == "" || text == "" {
				continue
			}
			missing = append(missing, pending{id: id, text: text})
		}
		if len(missing) == 0 {
			return pipeline.OKCached(0)
		}
		if d.Embedder == nil {
			return pipeline.Fail(fmt.Errorf("embed_chunks: embedding client not configured: %w", errkind.ErrInvalidInput))
		}

		embedded := 0
		for start := 0; start < len(missing); start += d.EmbedBatchSize {
			end := start + d.EmbedBatchSize
			if end > len(missing) {
				end = len(missing)
			}
			batch := missing[start:end]

			texts := make([]string, len(batch))
			for i, p := range batch {
				texts[i] = p.text
			}
			vecs, err := d.Embedder.EmbedBatch(pctx.Ctx, texts)
			if err != nil {
				return pipeline.Fail(err)
			}
			if len(vecs) != len(texts) {
				return pipeline.Fail(fmt.Errorf("embed_chunks: got %d vectors for %d texts: %w",
					len(vecs), len(texts), errkind.ErrUpstreamUnavailable))
			}
			for i, p := range batch {
				if err := d.Index.Upsert(pctx.Ctx, domain.TableVideoChunk, p.id, index.Record{"embedding": vecs[i]}); err != nil {
					return pipeline.Fail(err)
				}
				embedded++
			}
		}

		log.Info("chunks embedded", "video_id", pctx.VideoID, "count", embedded)
		return pipeline.OK(embedded)
	}
}

func hasEmbedding(v any) bool {
	switch t := v.(type) {
	case []float32:
		return len(t) > 0
	case []float64:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return false
	}
}
