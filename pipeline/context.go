package pipeline

import (
	"context"
	"time"

	"github.com/tokensweep/tokensweep/aggregate"
	"github.com/tokensweep/tokensweep/scheduler"
	"github.com/tokensweep/tokensweep/search"
)

// MinCooldown is the shortest pause allowed between batches
const MinCooldown = 5 * time.Second

// Job is one search request. It is not modified once dispatched.
type Job struct {
	Query    string
	Limit    search.Limit
	Extended bool
	Cooldown time.Duration
}

// Context carries all job data through the pipeline
type Context struct {
	context.Context

	// Identification
	JobID string

	// Input
	Job *Job

	// Plan: partition qualifiers, nil for a single query
	Partitions []string

	// Intermediate results
	Records []aggregate.Record
	Report  *scheduler.Report

	// Output
	Result *aggregate.Result

	// State tracking
	State StateTracker

	// Progress sink, never nil
	Events scheduler.Reporter

	// Cancel function for timeout
	Cancel context.CancelFunc
}

// NewContext creates a new pipeline context
func NewContext(ctx context.Context, jobID string, job *Job) *Context {
	return &Context{
		Context: ctx,
		JobID:   jobID,
		Job:     job,
		State:   NewStateTracker(),
		Events:  nopReporter{},
	}
}

// IsExtended returns true if the job runs one sub-query per partition
func (c *Context) IsExtended() bool {
	return c.Job != nil && c.Job.Extended
}

// SubQueries is the number of sub-queries the plan runs
func (c *Context) SubQueries() int {
	if c.IsExtended() {
		return len(c.Partitions)
	}
	return 1
}
