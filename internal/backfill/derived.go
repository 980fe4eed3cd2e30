package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/tubevault/backend/internal/archive"
	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/pkg/errkind"
)

// Transformer computes a derived output deterministically from a video's
// archived outputs. VersionKeys is the current manifest: every version the
// transform depends on (its own version, the versions of source steps or
// models). A stored derived output is stale when any manifest value differs.
type Transformer interface {
	Name() string
	OutputType() string
	Version() string
	VersionKeys() map[string]string
	Transform(ctx context.Context, rec *domain.VideoRecord) (any, []string, error)
}

// DerivedStale reports whether rec's latest derived output of the
// transformer's type is missing or was generated under a different manifest.
func DerivedStale(rec *domain.VideoRecord, t Transformer) bool {
	latest := rec.LatestDerivedOutput(t.OutputType())
	if latest == nil {
		return true
	}
	current := t.VersionKeys()
	for k, v := range current {
		if latest.TransformManifest[k] != v {
			return true
		}
	}
	return false
}

// TransformerQueue lists up to limit videos whose derived output is stale
// for t, in stable archive order.
func (e *Engine) TransformerQueue(t Transformer, limit int) ([]QueueItem, error) {
	var items []QueueItem
	err := e.archive.ForEach("", "", func(rec *domain.VideoRecord) error {
		if !DerivedStale(rec, t) {
			return nil
		}
		current := ""
		if latest := rec.LatestDerivedOutput(t.OutputType()); latest != nil {
			current = latest.TransformerVersion
		}
		items = append(items, QueueItem{
			VideoID:         rec.VideoID,
			URL:             rec.URL,
			CurrentVersion:  current,
			RequiredVersion: t.Version(),
		})
		if limit > 0 && len(items) >= limit {
			return archive.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backfill: transformer queue %s: %w", t.Name(), err)
	}
	return items, nil
}

// RunTransformer applies t to up to batchSize stale videos, appending a
// derived output with the full manifest snapshot to each archive record.
func (e *Engine) RunTransformer(ctx context.Context, t Transformer, batchSize int) (*Summary, error) {
	if batchSize <= 0 {
		batchSize = e.batchSize
	}
	items, err := e.TransformerQueue(t, batchSize)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Step: t.Name(), Queued: len(items)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, ItemError{
				VideoID: item.VideoID,
				Error:   errkind.Label(fmt.Errorf("transform aborted: %w", errkind.ErrCancelled)),
			})
			break
		}

		rec, err := e.archive.Get(item.VideoID)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, ItemError{VideoID: item.VideoID, Error: errkind.Label(err)})
			continue
		}

		value, sources, err := t.Transform(ctx, rec)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, ItemError{VideoID: item.VideoID, Error: errkind.Label(err)})
			continue
		}

		out := domain.DerivedOutput{
			OutputType:         t.OutputType(),
			OutputValue:        value,
			GeneratedAt:        time.Now().UTC(),
			TransformerVersion: t.Version(),
			TransformManifest:  t.VersionKeys(),
			SourceOutputs:      sources,
		}
		if err := e.archive.AppendDerivedOutput(item.VideoID, out); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, ItemError{VideoID: item.VideoID, Error: errkind.Label(err)})
			continue
		}
		summary.Succeeded++
	}

	e.log.Info("transformer batch finished",
		"transformer", t.Name(), "queued", summary.Queued,
		"succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}
