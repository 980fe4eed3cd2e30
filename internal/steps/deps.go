// Package steps is the step library: the concrete, registered units of work
// the pipeline runner executes for one video. Step names are canonical and
// referenced by backfill state, so they never change casually.
package steps

import (
	"fmt"

	"github.com/tubevault/backend/internal/archive"
	"github.com/tubevault/backend/internal/blob"
	"github.com/tubevault/backend/internal/clients/embedding"
	"github.com/tubevault/backend/internal/clients/llm"
	"github.com/tubevault/backend/internal/clients/youtube"
	"github.com/tubevault/backend/internal/index"
	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// Canonical step names.
const (
	StepFetchTranscript = "fetch_transcript"
	StepFetchMetadata   = "fetch_metadata"
	StepArchiveRaw      = "archive_raw"
	StepGenerateTags    = "generate_tags"
	StepChunkTranscript = "chunk_transcript"
	StepEmbedChunks     = "embed_chunks"
	StepCacheToBlob     = "cache_to_blob"
	StepUpdateGraph     = "update_graph"
)

// FullChain is the default step list for ingestion; the runner pulls in the
// rest of the dependency closure.
var FullChain = []string{StepGenerateTags, StepEmbedChunks, StepUpdateGraph}

// Context metadata keys the steps use to pass secondary values.
const (
	metaTimedTranscript = "timed_transcript"
	metaYouTubeMetadata = "youtube_metadata"
	metaTranscriptLang  = "transcript_language"
)

// Deps carries every collaborator the step library needs. The stores are
// required; the outbound clients (Embedder, Tags, Transcripts, Metadata) may
// be nil, in which case the steps that need them fail at run time.
type Deps struct {
	Log         *logger.Logger
	Archive     *archive.Store
	Blob        blob.Store
	Index       index.Store
	Embedder    embedding.Embedder
	Tags        llm.TagGenerator
	Transcripts youtube.TranscriptClient
	Metadata    youtube.MetadataClient

	// EmbedBatchSize bounds one embeddings call; defaults to 64.
	EmbedBatchSize int
	// ChunkTargetTokens is the per-chunk token target; defaults to 2500.
	ChunkTargetTokens int
}

func (d *Deps) validate() error {
	switch {
	case d.Log == nil:
		return fmt.Errorf("steps: logger required")
	case d.Archive == nil:
		return fmt.Errorf("steps: archive store required")
	case d.Blob == nil:
		return fmt.Errorf("steps: blob store required")
	case d.Index == nil:
		return fmt.Errorf("steps: index store required")
	}
	return nil
}

// Register wires the full step library into reg.
func Register(reg *pipeline.Registry, d Deps) error {
	if err := d.validate(); err != nil {
		return err
	}
	if d.EmbedBatchSize <= 0 {
		d.EmbedBatchSize = 64
	}
	if d.ChunkTargetTokens <= 0 {
		d.ChunkTargetTokens = 2500
	}
	log := d.Log.With("service", "StepLibrary")

	regs := []pipeline.Step{
		{
			Name:        StepFetchTranscript,
			Fn:          d.fetchTranscript(log),
			Source:      srcFetchTranscript,
			Description: "fetch the caption track for the video",
		},
		{
			Name:        StepFetchMetadata,
			Fn:          d.fetchMetadata(log),
			Source:      srcFetchMetadata,
			Description: "fetch title, channel and statistics from the Data API",
		},
		{
			Name:        StepArchiveRaw,
			Deps:        []string{StepFetchTranscript, StepFetchMetadata},
			Fn:          d.archiveRaw(log),
			Source:      srcArchiveRaw,
			Description: "persist transcript and metadata to the archive, mirror to blob",
		},
		{
			Name:        StepGenerateTags,
			Deps:        []string{StepFetchTranscript},
			Fn:          d.generateTags(log),
			Source:      srcGenerateTags,
			Description: "produce summary/tags/topics via the LLM and append to the archive",
		},
		{
			Name:        StepChunkTranscript,
			Deps:        []string{StepArchiveRaw},
			Fn:          d.chunkTranscript(log),
			Source:      srcChunkTranscript,
			Description: "partition the timed transcript into token-bounded chunks",
		},
		{
			Name:        StepEmbedChunks,
			Deps:        []string{StepChunkTranscript},
			Fn:          d.embedChunks(log),
			Source:      srcEmbedChunks,
			Description: "embed chunks lacking vectors",
		},
		{
			Name:        StepCacheToBlob,
			Deps:        []string{StepArchiveRaw},
			Fn:          d.cacheToBlob(log),
			Source:      srcCacheToBlob,
			Description: "write the canonical cache record to the blob store",
		},
		{
			Name:        StepUpdateGraph,
			Deps:        []string{StepCacheToBlob},
			Fn:          d.updateGraph(log),
			Source:      srcUpdateGraph,
			Description: "upsert the video row, edges and document embedding into the index",
		},
	}
	for _, s := range regs {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}
