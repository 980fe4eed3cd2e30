// Package backfill re-runs steps for archived videos whose recorded step
// version differs from the registry's current version.
package backfill

import (
	"context"
	"fmt"

	"github.com/tubevault/backend/internal/archive"
	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/index"
	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// quarantineThreshold is the consecutive-failure count after which an item
// is marked soft-quarantined. The marker is advisory: the item stays stale
// and the next success clears it.
const quarantineThreshold = 5

// QueueItem is one stale (video, step) pair.
type QueueItem struct {
	VideoID         string `json:"video_id"`
	URL             string `json:"url"`
	CurrentVersion  string `json:"current_version"`
	RequiredVersion string `json:"required_version"`
}

type ItemError struct {
	VideoID string `json:"video_id"`
	Error   string `json:"error"`
}

// Summary aggregates one backfill batch.
type Summary struct {
	Step      string      `json:"step"`
	Queued    int         `json:"queued"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

type Engine struct {
	log       *logger.Logger
	archive   *archive.Store
	registry  *pipeline.Registry
	runner    *pipeline.Runner
	index     index.Store
	batchSize int
}

func New(log *logger.Logger, arch *archive.Store, reg *pipeline.Registry, runner *pipeline.Runner, idx index.Store, batchSize int) (*Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("backfill: logger required")
	}
	if arch == nil {
		return nil, fmt.Errorf("backfill: archive store required")
	}
	if reg == nil {
		return nil, fmt.Errorf("backfill: registry required")
	}
	if runner == nil {
		return nil, fmt.Errorf("backfill: runner required")
	}
	if idx == nil {
		return nil, fmt.Errorf("backfill: index store required")
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Engine{
		log:       log.With("service", "BackfillEngine"),
		archive:   arch,
		registry:  reg,
		runner:    runner,
		index:     idx,
		batchSize: batchSize,
	}, nil
}

// stale reports whether rec needs step at version required.
func stale(rec *domain.VideoRecord, step, required string) bool {
	return rec.PipelineState[step] != required
}

// Queue lists up to limit stale items for step, in stable (month, video_id)
// archive order so consecutive runs do not bias toward the same item once it
// succeeds. limit <= 0 lists everything.
func (e *Engine) Queue(step string, limit int) ([]QueueItem, error) {
	required, err := e.registry.Version(step)
	if err != nil {
		return nil, err
	}

	var items []QueueItem
	err = e.archive.ForEach("", "", func(rec *domain.VideoRecord) error {
		if !stale(rec, step, required) {
			return nil
		}
		items = append(items, QueueItem{
			VideoID:         rec.VideoID,
			URL:             rec.URL,
			CurrentVersion:  rec.PipelineState[step],
			RequiredVersion: required,
		})
		if limit > 0 && len(items) >= limit {
			return archive.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backfill: queue %s: %w", step, err)
	}
	return items, nil
}

// Counts returns the stale-item count per registered step in one archive
// pass.
func (e *Engine) Counts() (map[string]int, error) {
	versions := e.registry.Versions()
	counts := make(map[string]int, len(versions))

	err := e.archive.ForEach("", "", func(rec *domain.VideoRecord) error {
		for step, required := range versions {
			if stale(rec, step, required) {
				counts[step]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backfill: counts: %w", err)
	}
	return counts, nil
}

// Run re-executes step for up to batchSize stale items. Item failures are
// aggregated, never raised; the returned error covers only resolution
// problems (unknown step) and archive iteration failures.
func (e *Engine) Run(ctx context.Context, step string, batchSize int) (*Summary, error) {
	if batchSize <= 0 {
		batchSize = e.batchSize
	}
	items, err := e.Queue(step, batchSize)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Step: step, Queued: len(items)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, ItemError{
				VideoID: item.VideoID,
				Error:   errkind.Label(fmt.Errorf("backfill aborted: %w", errkind.ErrCancelled)),
			})
			break
		}

		pctx := pipeline.NewContext(ctx, item.VideoID, item.URL, nil)
		runErr := e.runner.Run(pctx, pipeline.Config{
			Steps:       []string{step},
			UpdateGraph: true,
		})
		if runErr != nil {
			return nil, runErr
		}

		if pctx.Succeeded(step) {
			summary.Succeeded++
			e.clearFailures(ctx, item.VideoID, step)
			continue
		}
		summary.Failed++
		msg := pctx.Results[step].Err
		if msg == "" {
			msg = "step did not run"
		}
		summary.Errors = append(summary.Errors, ItemError{VideoID: item.VideoID, Error: msg})
		e.recordFailure(ctx, item.VideoID, step)
	}

	e.log.Info("backfill batch finished",
		"step", step, "queued", summary.Queued,
		"succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}

// RunAll backfills every registered step with stale items.
func (e *Engine) RunAll(ctx context.Context, batchSize int) ([]*Summary, error) {
	counts, err := e.Counts()
	if err != nil {
		return nil, err
	}

	var out []*Summary
	for _, step := range e.registry.Names() {
		if counts[step] == 0 {
			continue
		}
		summary, err := e.Run(ctx, step, batchSize)
		if err != nil {
			return out, err
		}
		out = append(out, summary)
		if ctx.Err() != nil {
			break
		}
	}
	return out, nil
}

// Consecutive-failure bookkeeping lives on the index video row as a JSON
// counter map; losing it is harmless.

func (e *Engine) failureCounts(ctx context.Context, videoID string) map[string]int {
	counts := map[string]int{}
	if row, err := e.index.Get(ctx, domain.TableVideo, videoID); err == nil {
		index.DecodeJSONField(row["backfill_failures"], &counts)
	}
	return counts
}

func (e *Engine) recordFailure(ctx context.Context, videoID, step string) {
	counts := e.failureCounts(ctx, videoID)
	counts[step]++
	if counts[step] == quarantineThreshold {
		e.log.Warn("item soft-quarantined", "video_id", videoID, "step", step, "failures", counts[step])
	}
	err := e.index.Upsert(ctx, domain.TableVideo, videoID, index.Record{
		"video_id":          videoID,
		"backfill_failures": index.JSONField(counts),
	})
	if err != nil {
		e.log.Warn("failure counter update failed", "video_id", videoID, "error", err)
	}
}

func (e *Engine) clearFailures(ctx context.Context, videoID, step string) {
	counts := e.failureCounts(ctx, videoID)
	if _, ok := counts[step]; !ok {
		return
	}
	delete(counts, step)
	err := e.index.Upsert(ctx, domain.TableVideo, videoID, index.Record{
		"video_id":          videoID,
		"backfill_failures": index.JSONField(counts),
	})
	if err != nil {
		e.log.Warn("failure counter update failed", "video_id", videoID, "error", err)
	}
}

// Quarantined reports whether (video, step) has reached the soft-quarantine
// threshold.
func (e *Engine) Quarantined(ctx context.Context, videoID, step string) bool {
	return e.failureCounts(ctx, videoID)[step] >= quarantineThreshold
}
