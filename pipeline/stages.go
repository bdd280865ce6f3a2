package pipeline

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/tokensweep/tokensweep/aggregate"
	"github.com/tokensweep/tokensweep/credential"
	"github.com/tokensweep/tokensweep/metrics"
	"github.com/tokensweep/tokensweep/partition"
	"github.com/tokensweep/tokensweep/progress"
	"github.com/tokensweep/tokensweep/scheduler"
	"github.com/tokensweep/tokensweep/worker"
)

// Stage represents a single processing step in the pipeline
type Stage interface {
	Name() string
	Execute(ctx *Context) error
}

// ValidateStage validates the incoming job
type ValidateStage struct{}

func (s *ValidateStage) Name() string { return "validate" }

func (s *ValidateStage) Execute(ctx *Context) error {
	if ctx.Job == nil {
		return &ValidationError{Message: "job is nil"}
	}

	if strings.TrimSpace(ctx.Job.Query) == "" {
		return &ValidationError{Field: "query", Message: "query parameter is required"}
	}

	if ctx.Job.Limit < 0 {
		return &ValidationError{Field: "limit", Message: "limit must be a positive integer or \"all\""}
	}

	if ctx.Job.Extended && ctx.Job.Cooldown < MinCooldown {
		return &ValidationError{
			Field:   "cooldown_seconds",
			Message: fmt.Sprintf("cooldown must be at least %d seconds", int(MinCooldown.Seconds())),
		}
	}

	return nil
}

// PlanStage decides between a single query and one sub-query per partition
type PlanStage struct {
	// Partitions overrides the default alphabet when set
	Partitions []string
}

func (s *PlanStage) Name() string { return "plan" }

func (s *PlanStage) Execute(ctx *Context) error {
	ctx.State.Transition(StatePlanning, map[string]any{"extended": ctx.Job.Extended})

	if ctx.Job.Extended {
		ctx.Partitions = s.Partitions
		if len(ctx.Partitions) == 0 {
			ctx.Partitions = partition.Alphabet()
		}
		log.Infof("Extended search over %d partitions: %s", len(ctx.Partitions), ctx.Job.Query)
	}

	ctx.Events.Publish(progress.Event{Kind: progress.KindJobStarted, Query: ctx.Job.Query})
	return nil
}

// SearchStage runs the plan against the code-search API
type SearchStage struct {
	Pool      *credential.Pool
	Runner    scheduler.Runner
	Scheduler scheduler.Config
	Metrics   *metrics.Metrics
}

func (s *SearchStage) Name() string { return "search" }

func (s *SearchStage) Execute(ctx *Context) error {
	ctx.State.Transition(StateSearching, map[string]any{"sub_queries": ctx.SubQueries()})

	if ctx.IsExtended() {
		return s.extended(ctx)
	}
	return s.single(ctx)
}

func (s *SearchStage) extended(ctx *Context) error {
	cfg := s.Scheduler
	cfg.Cooldown = ctx.Job.Cooldown

	sched := scheduler.New(s.Pool, s.Runner, cfg, ctx.Events, s.Metrics)
	rep := sched.Run(ctx, ctx.Job.Query, ctx.Partitions, ctx.Job.Limit)
	ctx.Records = rep.Records
	ctx.Report = &rep

	if len(rep.Failed) > 0 {
		log.Warnf("%d partitions failed: %s", len(rep.Failed), strings.Join(rep.Failed, " "))
	}
	if len(rep.Skipped) > 0 {
		log.Warnf("%d partitions skipped: %s", len(rep.Skipped), strings.Join(rep.Skipped, " "))
	}
	if rep.Err != nil {
		return &SearchError{Err: rep.Err}
	}
	return nil
}

// single runs the query as is. The single worker may take any free
// credential; rotation draws from whatever is left.
func (s *SearchStage) single(ctx *Context) error {
	lease := s.Pool.Allocate(1, 0)
	if lease.Empty() {
		return &SearchError{Err: credential.ErrExhausted}
	}
	defer s.Pool.Release(lease.ID)

	res := s.Runner.Run(ctx, worker.Task{
		Query:      ctx.Job.Query,
		Limit:      ctx.Job.Limit,
		Credential: lease.Credentials[0],
	})
	ctx.Records = aggregate.Tag(0, res.Items)
	ctx.Events.SetProgress(1)

	if res.Err != nil {
		return &SearchError{Err: res.Err}
	}
	return nil
}

// AggregateStage merges and deduplicates the collected records
type AggregateStage struct{}

func (s *AggregateStage) Name() string { return "aggregate" }

func (s *AggregateStage) Execute(ctx *Context) error {
	ctx.State.Transition(StateAggregating, map[string]any{"records": len(ctx.Records)})

	result := aggregate.Merge(ctx.Records, ctx.SubQueries())
	ctx.Result = &result
	log.Infof("Aggregated %d results into %d unique (%.1f per sub-query)", result.RawCount, result.UniqueCount, result.AveragePerPartition)

	ctx.State.Transition(StateCompleted, nil)
	return nil
}
