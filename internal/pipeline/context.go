// Package pipeline holds the step registry and the runner that executes
// registered steps in dependency order for a single video.
package pipeline

import (
	"context"
	"time"

	"github.com/tubevault/backend/internal/pkg/errkind"
)

// Context is the per-video, single-run scratch space threaded through the
// steps. VideoID, URL, StartedAt and Metadata are set by the caller and not
// touched by the runner; Results accumulates one StepResult per executed
// step.
type Context struct {
	Ctx       context.Context
	VideoID   string
	URL       string
	StartedAt time.Time
	Metadata  map[string]any
	Results   map[string]StepResult
}

func NewContext(ctx context.Context, videoID, url string, metadata map[string]any) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Context{
		Ctx:       ctx,
		VideoID:   videoID,
		URL:       url,
		StartedAt: time.Now().UTC(),
		Metadata:  metadata,
		Results:   map[string]StepResult{},
	}
}

// StepResult is the tagged outcome of one step invocation. Err carries the
// "<kind>: <message>" rendering of the failure; Value is step-specific.
type StepResult struct {
	Value      any    `json:"value,omitempty"`
	Success    bool   `json:"success"`
	Err        string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Cached     bool   `json:"cached,omitempty"`
}

func OK(value any) StepResult {
	return StepResult{Value: value, Success: true}
}

// OKCached marks a successful result that was satisfied without redoing the
// work (e.g. a blob key that already existed).
func OKCached(value any) StepResult {
	return StepResult{Value: value, Success: true, Cached: true}
}

func Fail(err error) StepResult {
	return StepResult{Success: false, Err: errkind.Label(err)}
}

func FailMsg(msg string) StepResult {
	return StepResult{Success: false, Err: msg}
}

// Succeeded reports whether the named step ran and succeeded in this run.
func (c *Context) Succeeded(step string) bool {
	res, ok := c.Results[step]
	return ok && res.Success
}
