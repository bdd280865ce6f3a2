package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/tokensweep/tokensweep/progress"
	"github.com/tokensweep/tokensweep/scheduler"
)

// Pipeline orchestrates the execution of stages for one search job
type Pipeline struct {
	stages  []Stage
	timeout time.Duration
}

// NewPipeline creates a new pipeline with the given stages. A zero timeout
// leaves the job bounded only by the caller's context.
func NewPipeline(stages []Stage, timeout time.Duration) *Pipeline {
	return &Pipeline{
		stages:  stages,
		timeout: timeout,
	}
}

// Execute runs all stages in order, stopping on first error. The returned
// context is never nil so callers can still read partial records.
func (p *Pipeline) Execute(ctx context.Context, jobID string, job *Job, events scheduler.Reporter) (*Context, error) {
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}

	pctx := NewContext(runCtx, jobID, job)
	pctx.Cancel = cancel
	if events != nil {
		pctx.Events = events
	}

	for _, stage := range p.stages {
		if err := runStage(stage, pctx); err != nil {
			pctx.State.Transition(StateFailed, map[string]interface{}{
				"stage": stage.Name(),
				"error": err.Error(),
			})

			return pctx, &PipelineError{
				Stage: stage.Name(),
				Err:   err,
			}
		}
	}

	return pctx, nil
}

// runStage turns a stage panic into an error
func runStage(stage Stage, pctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return stage.Execute(pctx)
}

// Stages returns the pipeline's stages (for testing)
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Timeout returns the pipeline's timeout (for testing)
func (p *Pipeline) Timeout() time.Duration {
	return p.timeout
}

type nopReporter struct{}

func (nopReporter) Publish(progress.Event) {}
func (nopReporter) SetProgress(float64)    {}
