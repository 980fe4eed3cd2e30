package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/tubevault/backend/internal/pkg/errkind"
	"github.com/tubevault/backend/internal/pkg/logger"
)

// Config controls one run. Steps are the targets; their transitive
// dependencies run too. UpdateGraph enables the per-step pipeline_state
// side-channel plus the end-of-run archive sync.
type Config struct {
	Steps           []string
	SkipCached      bool
	ContinueOnError bool
	UpdateGraph     bool
}

// RunSummary is handed to the StateStore after a run: the versions of every
// step that succeeded, keyed by step name.
type RunSummary struct {
	VideoID      string
	StartedAt    time.Time
	StepVersions map[string]string
	Notes        string
}

// StateStore receives processing-state side effects. RecordStepSuccess is
// best-effort per step (its failure never fails the step); FinishRun
// persists the run into the archive's pipeline_state and history.
type StateStore interface {
	RecordStepSuccess(ctx context.Context, videoID, step, version string) error
	FinishRun(ctx context.Context, run RunSummary) error
}

type Runner struct {
	log   *logger.Logger
	reg   *Registry
	state StateStore
}

// NewRunner builds a runner. state may be nil when no processing-state
// persistence is wanted (tests, dry runs).
func NewRunner(log *logger.Logger, reg *Registry, state StateStore) (*Runner, error) {
	if log == nil {
		return nil, fmt.Errorf("pipeline: logger required")
	}
	if reg == nil {
		return nil, fmt.Errorf("pipeline: registry required")
	}
	return &Runner{
		log:   log.With("service", "PipelineRunner"),
		reg:   reg,
		state: state,
	}, nil
}

// Run executes cfg.Steps (plus dependencies) against pctx, populating
// pctx.Results. It returns an error only for resolution problems before any
// step executes; step failures are recorded in Results, never raised.
func (r *Runner) Run(pctx *Context, cfg Config) error {
	order, err := r.reg.ExecutionOrder(cfg.Steps)
	if err != nil {
		return err
	}

	log := r.log.With("video_id", pctx.VideoID)
	log.Info("pipeline run starting", "steps", order)

	succeeded := map[string]string{}
	stopped := false

	for _, name := range order {
		if stopped {
			break
		}

		if cfg.SkipCached {
			if prev, ok := pctx.Results[name]; ok && prev.Success {
				log.Debug("step already satisfied, skipping", "step", name)
				if v, err := r.reg.Version(name); err == nil {
					succeeded[name] = v
				}
				continue
			}
		}

		// The runner is cancellable between steps.
		if err := pctx.Ctx.Err(); err != nil {
			pctx.Results[name] = Fail(fmt.Errorf("run aborted: %w", errkind.ErrCancelled))
			stopped = !cfg.ContinueOnError
			continue
		}

		if failedDep := r.firstUnsatisfiedDep(pctx, name); failedDep != "" {
			pctx.Results[name] = FailMsg(fmt.Sprintf("dependency %s failed or missing", failedDep))
			log.Warn("step skipped", "step", name, "dependency", failedDep)
			if !cfg.ContinueOnError {
				stopped = true
			}
			continue
		}

		result := r.invoke(pctx, name)
		pctx.Results[name] = result

		if result.Success {
			log.Info("step succeeded", "step", name, "duration_ms", result.DurationMS, "cached", result.Cached)
			version, verr := r.reg.Version(name)
			if verr == nil {
				succeeded[name] = version
				if cfg.UpdateGraph && r.state != nil {
					if serr := r.state.RecordStepSuccess(pctx.Ctx, pctx.VideoID, name, version); serr != nil {
						log.Warn("pipeline_state update failed", "step", name, "error", serr)
					}
				}
			}
			continue
		}

		log.Warn("step failed", "step", name, "error", result.Err, "duration_ms", result.DurationMS)
		if !cfg.ContinueOnError {
			stopped = true
		}
	}

	if cfg.UpdateGraph && r.state != nil && len(succeeded) > 0 {
		run := RunSummary{
			VideoID:      pctx.VideoID,
			StartedAt:    pctx.StartedAt,
			StepVersions: succeeded,
		}
		if err := r.state.FinishRun(pctx.Ctx, run); err != nil {
			log.Warn("run state persistence failed", "error", err)
		}
	}

	log.Info("pipeline run finished", "succeeded", len(succeeded), "total", len(order))
	return nil
}

func (r *Runner) firstUnsatisfiedDep(pctx *Context, name string) string {
	deps, _ := r.reg.deps(name)
	for _, d := range deps {
		res, ok := pctx.Results[d]
		if !ok || !res.Success {
			return d
		}
	}
	return ""
}

// invoke runs one step with timing and panic containment. A panicking step
// is recorded as a failure, never propagated.
func (r *Runner) invoke(pctx *Context, name string) (result StepResult) {
	fn, ok := r.reg.fn(name)
	if !ok {
		return Fail(fmt.Errorf("step %q: %w", name, errkind.ErrUnknownStep))
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = FailMsg(fmt.Sprintf("panic: %v", rec))
			result.DurationMS = time.Since(start).Milliseconds()
		}
	}()

	result = fn(pctx)
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}
