package api

import (
	"sync"
	"time"

	"github.com/tokensweep/tokensweep/pipeline"
	"github.com/tokensweep/tokensweep/progress"
)

// jobEntry is one submitted job. outcome and finished are written once
// before done is closed.
type jobEntry struct {
	id      string
	spec    pipeline.Job
	channel *progress.Channel
	created time.Time
	done    chan struct{}

	mu       sync.Mutex
	outcome  *pipeline.Outcome
	finished time.Time
}

func newJobEntry(id string, spec pipeline.Job) *jobEntry {
	return &jobEntry{
		id:      id,
		spec:    spec,
		channel: progress.NewChannel(),
		created: time.Now(),
		done:    make(chan struct{}),
	}
}

func (j *jobEntry) finish(out *pipeline.Outcome) {
	j.mu.Lock()
	j.outcome = out
	j.finished = time.Now()
	j.mu.Unlock()
	close(j.done)
}

func (j *jobEntry) status() JobStatus {
	st := JobStatus{
		ID:              j.id,
		Query:           j.spec.Query,
		Limit:           j.spec.Limit,
		Extended:        j.spec.Extended,
		CooldownSeconds: int(j.spec.Cooldown.Seconds()),
		State:           "running",
		Snapshot:        j.channel.Snapshot(),
		CreatedAt:       j.created,
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.outcome != nil {
		finished := j.finished
		summary := j.outcome.Summary
		st.State = string(j.outcome.State)
		st.Summary = &summary
		st.Results = j.outcome.Matches
		st.FinishedAt = &finished
		if rep := j.outcome.Report; rep != nil {
			st.FailedPartitions = rep.Failed
			st.SkippedPartitions = rep.Skipped
		}
	}
	return st
}
