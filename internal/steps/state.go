package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tubevault/backend/internal/archive"
	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/index"
	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// StateStore persists processing state on both sides: per-step version
// markers on the index's video row during the run, and the archive's
// pipeline_state plus one processing_history entry at the end of it.
type StateStore struct {
	log     *logger.Logger
	archive *archive.Store
	index   index.Store
}

var _ pipeline.StateStore = (*StateStore)(nil)

func NewStateStore(log *logger.Logger, arch *archive.Store, idx index.Store) (*StateStore, error) {
	if log == nil {
		return nil, fmt.Errorf("steps: logger required")
	}
	if arch == nil {
		return nil, fmt.Errorf("steps: archive store required")
	}
	if idx == nil {
		return nil, fmt.Errorf("steps: index store required")
	}
	return &StateStore{
		log:     log.With("service", "StateStore"),
		archive: arch,
		index:   idx,
	}, nil
}

// RecordStepSuccess merges one step version into the video row's
// pipeline_state field. The row might not exist yet early in a run; the
// upsert creates it.
func (s *StateStore) RecordStepSuccess(ctx context.Context, videoID, step, version string) error {
	state := map[string]string{}
	if row, err := s.index.Get(ctx, domain.TableVideo, videoID); err == nil {
		index.DecodeJSONField(row["pipeline_state"], &state)
	}
	state[step] = version
	return s.index.Upsert(ctx, domain.TableVideo, videoID, index.Record{
		"video_id":       videoID,
		"pipeline_state": index.JSONField(state),
	})
}

// FinishRun writes the run into the archive: every successful step version
// merged into pipeline_state and one history entry whose version identifies
// the step-version set, with the per-step breakdown as a structured field.
func (s *StateStore) FinishRun(ctx context.Context, run pipeline.RunSummary) error {
	if len(run.StepVersions) == 0 {
		return nil
	}

	pr := domain.ProcessingRecord{
		Version:      runVersion(run.StepVersions),
		ProcessedAt:  time.Now().UTC(),
		StepVersions: run.StepVersions,
		Notes:        run.Notes,
	}
	if err := s.archive.RecordRun(run.VideoID, run.StepVersions, pr); err != nil {
		return err
	}

	// Converge the index-side pipeline_state with everything that
	// succeeded, in case a per-step update was lost.
	state := map[string]string{}
	if row, err := s.index.Get(ctx, domain.TableVideo, run.VideoID); err == nil {
		index.DecodeJSONField(row["pipeline_state"], &state)
	}
	for step, version := range run.StepVersions {
		state[step] = version
	}
	return s.index.Upsert(ctx, domain.TableVideo, run.VideoID, index.Record{
		"video_id":       run.VideoID,
		"pipeline_state": index.JSONField(state),
	})
}

// runVersion derives a stable digest of the step-version set so identical
// re-runs produce identical history versions.
func runVersion(stepVersions map[string]string) string {
	keys := make([]string, 0, len(stepVersions))
	for k := range stepVersions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + stepVersions[k]
	}
	return pipeline.VersionHash(strings.Join(parts, ";"))
}
