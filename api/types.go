package api

import (
	"context"
	"time"

	"github.com/tokensweep/tokensweep/aggregate"
	"github.com/tokensweep/tokensweep/pipeline"
	"github.com/tokensweep/tokensweep/progress"
	"github.com/tokensweep/tokensweep/search"
)

const (
	MaxRequestBodySize = 1 << 20 // 1 MB
	ShutdownTimeout    = 10 * time.Second
)

// JobRunner executes one search job to completion
type JobRunner interface {
	Run(ctx context.Context, jobID string, job *pipeline.Job, ch *progress.Channel) *pipeline.Outcome
}

// JobRequest is the inbound job body. Limit is required and accepts a
// positive integer or "all"; a missing cooldown uses the server default.
// Without a query, one is derived from Pattern and PatternType.
type JobRequest struct {
	Query           string        `json:"query"`
	Pattern         string        `json:"pattern,omitempty"`
	PatternType     string        `json:"pattern_type,omitempty"`
	Limit           *search.Limit `json:"limit"`
	Extended        bool          `json:"extended"`
	CooldownSeconds *int          `json:"cooldown_seconds,omitempty"`
}

// JobCreated is returned when a job is accepted
type JobCreated struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Events string `json:"events"`
}

// JobStatus is the polling view of a job
type JobStatus struct {
	ID              string       `json:"id"`
	Query           string       `json:"query"`
	Limit           search.Limit `json:"limit"`
	Extended        bool         `json:"extended"`
	CooldownSeconds int          `json:"cooldown_seconds"`
	State           string       `json:"state"`
	progress.Snapshot
	Summary    *aggregate.Result `json:"summary,omitempty"`
	Results    []search.Match    `json:"results,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`

	// partitions that ended with an error or were never searched
	FailedPartitions  []string `json:"failed_partitions,omitempty"`
	SkippedPartitions []string `json:"skipped_partitions,omitempty"`
}

// HealthStatus reports liveness and credential headroom
type HealthStatus struct {
	Status      string `json:"status"`
	Credentials int    `json:"credentials"`
	Available   int    `json:"available"`
	RunningJob  string `json:"running_job,omitempty"`
}
