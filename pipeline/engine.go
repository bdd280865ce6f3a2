package pipeline

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tokensweep/tokensweep/aggregate"
	"github.com/tokensweep/tokensweep/credential"
	"github.com/tokensweep/tokensweep/metrics"
	"github.com/tokensweep/tokensweep/progress"
	"github.com/tokensweep/tokensweep/scheduler"
	"github.com/tokensweep/tokensweep/search"
)

// Outcome is the terminal artifact of a job. Err is set alongside, not
// instead of, whatever results were collected.
type Outcome struct {
	JobID    string            `json:"id"`
	State    State             `json:"state"`
	Summary  aggregate.Result  `json:"summary"`
	Matches  []search.Match    `json:"matches"`
	Report   *scheduler.Report `json:"-"`
	Err      error             `json:"-"`
	Duration time.Duration     `json:"duration"`
}

// Engine is the coordinating flow of a job
type Engine struct {
	pipeline *Pipeline
	metrics  *metrics.Metrics
}

// NewEngine wires the default stages around pool and runner
func NewEngine(pool *credential.Pool, runner scheduler.Runner, cfg scheduler.Config, m *metrics.Metrics) *Engine {
	stages := []Stage{
		&ValidateStage{},
		&PlanStage{},
		&SearchStage{Pool: pool, Runner: runner, Scheduler: cfg, Metrics: m},
		&AggregateStage{},
	}
	return NewEngineWithPipeline(NewPipeline(stages, 0), m)
}

// NewEngineWithPipeline wraps a custom pipeline
func NewEngineWithPipeline(p *Pipeline, m *metrics.Metrics) *Engine {
	return &Engine{pipeline: p, metrics: m}
}

// Run executes job and reports through ch. Whatever records were collected
// are aggregated and stored on ch even when the job fails.
func (e *Engine) Run(ctx context.Context, jobID string, job *Job, ch *progress.Channel) *Outcome {
	started := time.Now()
	ch.SetRunning(true)
	ch.SetError(nil)
	ch.SetResults(nil)
	defer ch.SetRunning(false)

	pctx, err := e.pipeline.Execute(ctx, jobID, job, ch)
	defer pctx.Cancel()

	if pctx.Result == nil {
		result := aggregate.Merge(pctx.Records, pctx.SubQueries())
		pctx.Result = &result
	}

	out := &Outcome{
		JobID:    jobID,
		State:    pctx.State.Current(),
		Summary:  *pctx.Result,
		Matches:  pctx.Result.Matches(),
		Report:   pctx.Report,
		Err:      err,
		Duration: time.Since(started),
	}
	ch.SetResults(out.Matches)

	logger := log.WithField("job", jobID)
	if err != nil {
		ch.SetError(err)
		ch.Publish(progress.Event{
			Kind:        progress.KindFailed,
			Error:       err.Error(),
			RawCount:    out.Summary.RawCount,
			UniqueCount: out.Summary.UniqueCount,
		})
		e.metrics.Job(string(StateFailed))
		logger.Errorf("Job failed after %s with %d partial results: %v", out.Duration.Round(time.Millisecond), out.Summary.UniqueCount, err)
		return out
	}

	ch.SetProgress(1)
	ch.Publish(progress.Event{
		Kind:        progress.KindCompleted,
		RawCount:    out.Summary.RawCount,
		UniqueCount: out.Summary.UniqueCount,
	})
	e.metrics.Job(string(StateCompleted))
	logger.Infof("Job completed in %s: %d results, %d unique", out.Duration.Round(time.Millisecond), out.Summary.RawCount, out.Summary.UniqueCount)
	return out
}

// RunnerFactory builds the sub-query runner for one job, publishing to that
// job's events
type RunnerFactory func(events progress.Publisher) scheduler.Runner

// Service runs jobs against a shared pool. Each job gets its own engine so
// worker events land on the job's channel.
type Service struct {
	pool    *credential.Pool
	factory RunnerFactory
	cfg     scheduler.Config
	metrics *metrics.Metrics
}

func NewService(pool *credential.Pool, factory RunnerFactory, cfg scheduler.Config, m *metrics.Metrics) *Service {
	return &Service{pool: pool, factory: factory, cfg: cfg, metrics: m}
}

func (s *Service) Run(ctx context.Context, jobID string, job *Job, ch *progress.Channel) *Outcome {
	return NewEngine(s.pool, s.factory(ch), s.cfg, s.metrics).Run(ctx, jobID, job, ch)
}
