// Package domain holds the persistent types shared by the archive, index
// and pipeline layers. VideoRecord is the canonical per-video document;
// everything else hangs off its video_id.
package domain

import (
	"encoding/json"
	"time"
)

type SourceType string

const (
	SourceSingleImport     SourceType = "single_import"
	SourceREPLImport       SourceType = "repl_import"
	SourceBulkChannel      SourceType = "bulk_channel"
	SourceBulkMultiChannel SourceType = "bulk_multi_channel"
	SourceQueueImport      SourceType = "queue_import"
)

// DefaultWeight returns the recommendation weight assigned when the importer
// does not override it.
func (s SourceType) DefaultWeight() float64 {
	switch s {
	case SourceSingleImport, SourceREPLImport:
		return 1.0
	case SourceQueueImport:
		return 0.8
	case SourceBulkChannel:
		return 0.5
	case SourceBulkMultiChannel:
		return 0.2
	default:
		return 1.0
	}
}

type ImportMethod string

const (
	ImportMethodCLI       ImportMethod = "cli"
	ImportMethodREPL      ImportMethod = "repl"
	ImportMethodScheduled ImportMethod = "scheduled"
	ImportMethodAPI       ImportMethod = "api"
)

// TimedSegment is one caption line of a timed transcript.
type TimedSegment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// LLMOutput is an append-only record of one model call result.
type LLMOutput struct {
	OutputType       string    `json:"output_type"`
	OutputValue      any       `json:"output_value"`
	GeneratedAt      time.Time `json:"generated_at"`
	Model            string    `json:"model"`
	CostUSD          *float64  `json:"cost_usd,omitempty"`
	PromptTokens     *int      `json:"prompt_tokens,omitempty"`
	CompletionTokens *int      `json:"completion_tokens,omitempty"`
}

// DerivedOutput is an output computed deterministically from prior outputs.
// TransformManifest snapshots every version key the transformer depended on
// at generation time; staleness is detected by comparing manifests.
type DerivedOutput struct {
	OutputType         string            `json:"output_type"`
	OutputValue        any               `json:"output_value"`
	GeneratedAt        time.Time         `json:"generated_at"`
	TransformerVersion string            `json:"transformer_version"`
	TransformManifest  map[string]string `json:"transform_manifest"`
	SourceOutputs      []string          `json:"source_outputs,omitempty"`
}

// ProcessingRecord is one processing_history entry. Version digests the full
// step-version set of the run; StepVersions carries the per-step breakdown.
type ProcessingRecord struct {
	Version      string            `json:"version"`
	ProcessedAt  time.Time         `json:"processed_at"`
	TargetIndex  string            `json:"target_index,omitempty"`
	StepVersions map[string]string `json:"step_versions,omitempty"`
	Notes        string            `json:"notes,omitempty"`
}

type ChannelContext struct {
	ChannelID    string `json:"channel_id,omitempty"`
	ChannelName  string `json:"channel_name,omitempty"`
	IsBulkImport bool   `json:"is_bulk_import"`
}

type ImportMetadata struct {
	SourceType           SourceType     `json:"source_type"`
	ImportedAt           time.Time      `json:"imported_at"`
	ImportMethod         ImportMethod   `json:"import_method"`
	ChannelContext       ChannelContext `json:"channel_context"`
	RecommendationWeight float64        `json:"recommendation_weight"`
}

// VideoRecord is the canonical per-video archive document. The output lists
// are append-only; nothing in them is ever mutated or reordered.
type VideoRecord struct {
	VideoID           string             `json:"video_id"`
	URL               string             `json:"url"`
	FetchedAt         time.Time          `json:"fetched_at"`
	YouTubeMetadata   map[string]any     `json:"youtube_metadata,omitempty"`
	RawTranscript     string             `json:"raw_transcript,omitempty"`
	TimedTranscript   []TimedSegment     `json:"timed_transcript,omitempty"`
	LLMOutputs        []LLMOutput        `json:"llm_outputs,omitempty"`
	DerivedOutputs    []DerivedOutput    `json:"derived_outputs,omitempty"`
	ProcessingHistory []ProcessingRecord `json:"processing_history,omitempty"`
	ImportMetadata    *ImportMetadata    `json:"import_metadata,omitempty"`
	PipelineState     map[string]string  `json:"pipeline_state,omitempty"`
	Embedding         []float32          `json:"embedding,omitempty"`
	ArchivePath       string             `json:"archive_path,omitempty"`

	// Extra preserves unknown document fields across read/write cycles.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownVideoFields = []string{
	"video_id", "url", "fetched_at", "youtube_metadata", "raw_transcript",
	"timed_transcript", "llm_outputs", "derived_outputs", "processing_history",
	"import_metadata", "pipeline_state", "embedding", "archive_path",
}

func (r *VideoRecord) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	type alias VideoRecord
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*r = VideoRecord(a)
	for _, k := range knownVideoFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

func (r VideoRecord) MarshalJSON() ([]byte, error) {
	type alias VideoRecord
	b, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return b, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// LatestLLMOutput returns the most recent output of the given type, defined
// as max by generated_at, or nil.
func (r *VideoRecord) LatestLLMOutput(outputType string) *LLMOutput {
	var latest *LLMOutput
	for i := range r.LLMOutputs {
		o := &r.LLMOutputs[i]
		if o.OutputType != outputType {
			continue
		}
		if latest == nil || o.GeneratedAt.After(latest.GeneratedAt) {
			latest = o
		}
	}
	return latest
}

// LatestDerivedOutput returns the most recent derived output of the given
// type, or nil.
func (r *VideoRecord) LatestDerivedOutput(outputType string) *DerivedOutput {
	var latest *DerivedOutput
	for i := range r.DerivedOutputs {
		o := &r.DerivedOutputs[i]
		if o.OutputType != outputType {
			continue
		}
		if latest == nil || o.GeneratedAt.After(latest.GeneratedAt) {
			latest = o
		}
	}
	return latest
}
