package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/tubevault/backend/internal/pkg/logger"
)

type fakeState struct {
	mu      sync.Mutex
	steps   map[string]string
	runs    []RunSummary
	stepErr error
}

func (f *fakeState) RecordStepSuccess(_ context.Context, _, step, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stepErr != nil {
		return f.stepErr
	}
	if f.steps == nil {
		f.steps = map[string]string{}
	}
	f.steps[step] = version
	return nil
}

func (f *fakeState) FinishRun(_ context.Context, run RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func newTestRunner(t *testing.T, reg *Registry, state StateStore) *Runner {
	t.Helper()
	r, err := NewRunner(logger.NewNop(), reg, state)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func TestRunHappyPath(t *testing.T) {
	reg := NewRegistry()
	var calls []string
	record := func(name string) StepFunc {
		return func(*Context) StepResult {
			calls = append(calls, name)
			return OK(name)
		}
	}
	_ = reg.Register(Step{Name: "fetch", Fn: record("fetch"), Source: "1"})
	_ = reg.Register(Step{Name: "archive", Deps: []string{"fetch"}, Fn: record("archive"), Source: "2"})

	state := &fakeState{}
	runner := newTestRunner(t, reg, state)
	pctx := NewContext(context.Background(), "vid01", "http://u", nil)

	if err := runner.Run(pctx, Config{Steps: []string{"archive"}, UpdateGraph: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(calls) != 2 || calls[0] != "fetch" || calls[1] != "archive" {
		t.Fatalf("unexpected call order %v", calls)
	}
	if !pctx.Succeeded("fetch") || !pctx.Succeeded("archive") {
		t.Fatalf("results missing: %+v", pctx.Results)
	}
	if len(state.steps) != 2 {
		t.Errorf("expected 2 pipeline_state updates, got %v", state.steps)
	}
	if len(state.runs) != 1 || len(state.runs[0].StepVersions) != 2 {
		t.Errorf("expected one finished run with 2 versions, got %+v", state.runs)
	}
}

func TestRunStopsOnFailure(t *testing.T) {
	reg := NewRegistry()
	ran := map[string]bool{}
	_ = reg.Register(Step{Name: "fetch", Fn: func(*Context) StepResult {
		ran["fetch"] = true
		return FailMsg("upstream_unavailable: boom")
	}, Source: "1"})
	_ = reg.Register(Step{Name: "archive", Deps: []string{"fetch"}, Fn: func(*Context) StepResult {
		ran["archive"] = true
		return OK(nil)
	}, Source: "2"})

	runner := newTestRunner(t, reg, nil)
	pctx := NewContext(context.Background(), "vid01", "http://u", nil)

	if err := runner.Run(pctx, Config{Steps: []string{"archive"}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ran["archive"] {
		t.Error("dependent step ran after its dependency failed")
	}
	if pctx.Succeeded("archive") {
		t.Error("dependent step recorded as success")
	}
}

func TestRunContinueOnErrorRecordsDependencyFailure(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Step{Name: "fetch", Fn: func(*Context) StepResult {
		return FailMsg("upstream_unavailable: boom")
	}, Source: "1"})
	_ = reg.Register(Step{Name: "archive", Deps: []string{"fetch"}, Fn: noop, Source: "2"})
	_ = reg.Register(Step{Name: "meta", Fn: noop, Source: "3"})

	runner := newTestRunner(t, reg, nil)
	pctx := NewContext(context.Background(), "vid01", "http://u", nil)

	if err := runner.Run(pctx, Config{Steps: []string{"archive", "meta"}, ContinueOnError: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	res, ok := pctx.Results["archive"]
	if !ok || res.Success {
		t.Fatalf("expected recorded dependency failure, got %+v", res)
	}
	if !strings.Contains(res.Err, "fetch") {
		t.Errorf("failure should name the dependency: %q", res.Err)
	}
	if !pctx.Succeeded("meta") {
		t.Error("independent step should still run under continue_on_error")
	}
}

func TestRunRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Step{Name: "boom", Fn: func(*Context) StepResult {
		panic("kaboom")
	}, Source: "1"})

	runner := newTestRunner(t, reg, nil)
	pctx := NewContext(context.Background(), "vid01", "http://u", nil)

	if err := runner.Run(pctx, Config{Steps: []string{"boom"}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	res := pctx.Results["boom"]
	if res.Success {
		t.Fatal("panicking step recorded as success")
	}
	if !strings.Contains(res.Err, "kaboom") {
		t.Errorf("panic message lost: %q", res.Err)
	}
}

func TestRunCancelledBetweenSteps(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	_ = reg.Register(Step{Name: "first", Fn: func(*Context) StepResult {
		cancel()
		return OK(nil)
	}, Source: "1"})
	_ = reg.Register(Step{Name: "second", Deps: []string{"first"}, Fn: noop, Source: "2"})

	runner := newTestRunner(t, reg, nil)
	pctx := NewContext(ctx, "vid01", "http://u", nil)

	if err := runner.Run(pctx, Config{Steps: []string{"second"}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !pctx.Succeeded("first") {
		t.Error("first step should have completed")
	}
	res := pctx.Results["second"]
	if res.Success {
		t.Fatal("step after cancellation recorded as success")
	}
	if !strings.Contains(res.Err, "cancelled") {
		t.Errorf("expected cancelled kind, got %q", res.Err)
	}
}

func TestRunUnknownStepFailsBeforeExecution(t *testing.T) {
	reg := NewRegistry()
	ran := false
	_ = reg.Register(Step{Name: "a", Fn: func(*Context) StepResult {
		ran = true
		return OK(nil)
	}, Source: "1"})

	runner := newTestRunner(t, reg, nil)
	pctx := NewContext(context.Background(), "vid01", "http://u", nil)

	if err := runner.Run(pctx, Config{Steps: []string{"a", "missing"}}); err == nil {
		t.Fatal("expected resolution error")
	}
	if ran {
		t.Error("no step should run when resolution fails")
	}
}

func TestRunSkipCached(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	_ = reg.Register(Step{Name: "a", Fn: func(*Context) StepResult {
		calls++
		return OK(nil)
	}, Source: "1"})

	runner := newTestRunner(t, reg, nil)
	pctx := NewContext(context.Background(), "vid01", "http://u", nil)

	if err := runner.Run(pctx, Config{Steps: []string{"a"}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := runner.Run(pctx, Config{Steps: []string{"a"}, SkipCached: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 invocation with skip_cached, got %d", calls)
	}
}
