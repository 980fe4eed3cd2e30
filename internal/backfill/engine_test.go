package backfill

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tubevault/backend/internal/archive"
	"github.com/tubevault/backend/internal/domain"
	"github.com/tubevault/backend/internal/index"
	"github.com/tubevault/backend/internal/pipeline"
	"github.com/tubevault/backend/internal/pkg/logger"
	"github.com/tubevault/backend/internal/steps"
)

type fixture struct {
	arch   *archive.Store
	idx    index.Store
	reg    *pipeline.Registry
	runner *pipeline.Runner
	engine *Engine
}

// newFixture builds an engine around a registry containing a single "tagger"
// step that appends an llm_output, versioned by source.
func newFixture(t *testing.T, arch *archive.Store, idx index.Store, taggerSource string, fail bool) *fixture {
	t.Helper()
	log := logger.NewNop()

	reg := pipeline.NewRegistry()
	reg.MustRegister(pipeline.Step{
		Name:   "tagger",
		Source: taggerSource,
		Fn: func(pctx *pipeline.Context) pipeline.StepResult {
			if fail {
				return pipeline.FailMsg("UpstreamUnavailable: model down")
			}
			err := arch.AppendLLMOutput(pctx.VideoID, domain.LLMOutput{
				OutputType:  "tags",
				OutputValue: map[string]any{"tags": []string{"go"}},
				GeneratedAt: time.Now().UTC(),
				Model:       "m",
			})
			if err != nil {
				return pipeline.Fail(err)
			}
			return pipeline.OK(nil)
		},
	})

	state, err := steps.NewStateStore(log, arch, idx)
	if err != nil {
		t.Fatalf("state store: %v", err)
	}
	runner, err := pipeline.NewRunner(log, reg, state)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	engine, err := New(log, arch, reg, runner, idx, 10)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return &fixture{arch: arch, idx: idx, reg: reg, runner: runner, engine: engine}
}

func seedVideo(t *testing.T, arch *archive.Store, videoID string) {
	t.Helper()
	_, err := arch.UpdateTranscript(videoID, "https://example.tld/watch?v="+videoID, "hello", nil, nil)
	if err != nil {
		t.Fatalf("seed %s: %v", videoID, err)
	}
}

func TestBackfillAfterVersionBump(t *testing.T) {
	log := logger.NewNop()
	arch, err := archive.New(log, t.TempDir(), true)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	idx := index.NewMemory()
	ctx := context.Background()

	// First ingest at v1.
	f1 := newFixture(t, arch, idx, "tagger v1", false)
	seedVideo(t, arch, "abc123xyz01")
	pctx := pipeline.NewContext(ctx, "abc123xyz01", "https://example.tld/watch?v=abc123xyz01", nil)
	if err := f1.runner.Run(pctx, pipeline.Config{Steps: []string{"tagger"}, UpdateGraph: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !pctx.Succeeded("tagger") {
		t.Fatalf("tagger failed: %+v", pctx.Results)
	}

	counts, err := f1.engine.Counts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["tagger"] != 0 {
		t.Fatalf("nothing should be stale at v1, got %v", counts)
	}

	// Bump the source; the same archive is now stale for tagger.
	f2 := newFixture(t, arch, idx, "tagger v2", false)
	counts, err = f2.engine.Counts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["tagger"] != 1 {
		t.Fatalf("expected 1 stale item after bump, got %v", counts)
	}

	summary, err := f2.engine.Run(ctx, "tagger", 10)
	if err != nil {
		t.Fatalf("run backfill: %v", err)
	}
	if summary.Queued != 1 || summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	rec, err := arch.Get("abc123xyz01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var tagOutputs int
	for _, o := range rec.LLMOutputs {
		if o.OutputType == "tags" {
			tagOutputs++
		}
	}
	if tagOutputs != 2 {
		t.Errorf("expected a second tags output, got %d", tagOutputs)
	}

	counts, err = f2.engine.Counts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["tagger"] != 0 {
		t.Errorf("item should no longer be stale, got %v", counts)
	}
}

func TestBackfillUnknownStep(t *testing.T) {
	log := logger.NewNop()
	arch, err := archive.New(log, t.TempDir(), true)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	f := newFixture(t, arch, index.NewMemory(), "v1", false)
	if _, err := f.engine.Queue("nope", 10); err == nil {
		t.Fatal("expected unknown-step error")
	}
}

func TestBackfillQueueRespectsLimitAndOrder(t *testing.T) {
	log := logger.NewNop()
	arch, err := archive.New(log, t.TempDir(), true)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	f := newFixture(t, arch, index.NewMemory(), "v1", false)
	for _, id := range []string{"vidc000000c", "vida000000a", "vidb000000b"} {
		seedVideo(t, arch, id)
	}

	items, err := f.engine.Queue("tagger", 2)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].VideoID != "vida000000a" || items[1].VideoID != "vidb000000b" {
		t.Errorf("queue not in stable video_id order: %+v", items)
	}
	if items[0].RequiredVersion == "" || items[0].CurrentVersion != "" {
		t.Errorf("version fields wrong: %+v", items[0])
	}
}

func TestBackfillFailureKeepsItemAndQuarantines(t *testing.T) {
	log := logger.NewNop()
	arch, err := archive.New(log, t.TempDir(), true)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	idx := index.NewMemory()
	ctx := context.Background()

	f := newFixture(t, arch, idx, "v1", true)
	seedVideo(t, arch, "abc123xyz01")

	for i := 0; i < quarantineThreshold; i++ {
		summary, err := f.engine.Run(ctx, "tagger", 10)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if summary.Failed != 1 || summary.Succeeded != 0 {
			t.Fatalf("run %d summary = %+v", i, summary)
		}
	}
	if !f.engine.Quarantined(ctx, "abc123xyz01", "tagger") {
		t.Error("expected soft-quarantine after repeated failures")
	}

	// Quarantine is advisory: the item is still stale.
	counts, err := f.engine.Counts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["tagger"] != 1 {
		t.Errorf("quarantined item left the stale set: %v", counts)
	}

	// A success clears the marker.
	ok := newFixture(t, arch, idx, "v1", false)
	if _, err := ok.engine.Run(ctx, "tagger", 10); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ok.engine.Quarantined(ctx, "abc123xyz01", "tagger") {
		t.Error("quarantine marker should clear on success")
	}
}

// ---- transformer staleness ----

type upperTransformer struct {
	version string
}

func (u *upperTransformer) Name() string       { return "upper_summary" }
func (u *upperTransformer) OutputType() string { return "upper_summary" }
func (u *upperTransformer) Version() string    { return u.version }
func (u *upperTransformer) VersionKeys() map[string]string {
	return map[string]string{"upper_summary": u.version}
}
func (u *upperTransformer) Transform(_ context.Context, rec *domain.VideoRecord) (any, []string, error) {
	if rec.RawTranscript == "" {
		return nil, nil, fmt.Errorf("no transcript")
	}
	return map[string]any{"text": rec.RawTranscript}, []string{"raw_transcript"}, nil
}

func TestTransformerStaleness(t *testing.T) {
	log := logger.NewNop()
	arch, err := archive.New(log, t.TempDir(), true)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	f := newFixture(t, arch, index.NewMemory(), "v1", false)
	seedVideo(t, arch, "abc123xyz01")
	ctx := context.Background()

	tr := &upperTransformer{version: "t1"}
	summary, err := f.engine.RunTransformer(ctx, tr, 10)
	if err != nil {
		t.Fatalf("run transformer: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	rec, _ := arch.Get("abc123xyz01")
	if DerivedStale(rec, tr) {
		t.Error("fresh derived output reported stale")
	}

	bumped := &upperTransformer{version: "t2"}
	if !DerivedStale(rec, bumped) {
		t.Error("manifest change must mark output stale")
	}

	items, err := f.engine.TransformerQueue(bumped, 0)
	if err != nil {
		t.Fatalf("transformer queue: %v", err)
	}
	if len(items) != 1 || items[0].CurrentVersion != "t1" || items[0].RequiredVersion != "t2" {
		t.Fatalf("unexpected queue %+v", items)
	}
}
