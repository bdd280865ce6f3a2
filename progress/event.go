package progress

import (
	"fmt"
	"time"
)

// Kind tags an Event
type Kind string

const (
	KindJobStarted     Kind = "job_started"
	KindBatchStarted   Kind = "batch_started"
	KindPageFetched    Kind = "page_fetched"
	KindRateLimited    Kind = "rate_limited"
	KindTokenSwitched  Kind = "token_switched"
	KindCoolingDown    Kind = "cooling_down"
	KindBatchCompleted Kind = "batch_completed"
	KindWorkerFailed   Kind = "worker_failed"
	KindCompleted      Kind = "completed"
	KindFailed         Kind = "failed"
)

// Event is a typed progress notification. Only the fields relevant to the
// Kind are populated.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	Query     string `json:"query,omitempty"`
	Partition string `json:"partition,omitempty"`

	Batch        int `json:"batch,omitempty"`
	TotalBatches int `json:"total_batches,omitempty"`
	BatchSize    int `json:"batch_size,omitempty"`

	Page         int `json:"page,omitempty"`
	PageItems    int `json:"page_items,omitempty"`
	TotalFetched int `json:"total_fetched,omitempty"`

	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Credential  string `json:"credential,omitempty"`

	Remaining time.Duration `json:"remaining,omitempty"`

	RawCount    int `json:"raw_count,omitempty"`
	UniqueCount int `json:"unique_count,omitempty"`

	Error string `json:"error,omitempty"`
}

// Terminal reports whether no further events follow for the job
func (e Event) Terminal() bool {
	return e.Kind == KindCompleted || e.Kind == KindFailed
}

// String renders the event as a human status line
func (e Event) String() string {
	switch e.Kind {
	case KindJobStarted:
		return fmt.Sprintf("Search started: %s", e.Query)
	case KindBatchStarted:
		return fmt.Sprintf("Processing batch %d/%d (%d partitions)", e.Batch, e.TotalBatches, e.BatchSize)
	case KindPageFetched:
		return fmt.Sprintf("Progress: %d results (page %d, +%d items) [%s]", e.TotalFetched, e.Page, e.PageItems, e.Partition)
	case KindRateLimited:
		return fmt.Sprintf("Rate limit hit with credential %s, attempt (%d/%d) [%s]", e.Credential, e.Attempt, e.MaxAttempts, e.Partition)
	case KindTokenSwitched:
		return fmt.Sprintf("Switching to credential %s [%s]", e.Credential, e.Partition)
	case KindCoolingDown:
		return fmt.Sprintf("Batch complete. Cooling down for %s before next batch", e.Remaining)
	case KindBatchCompleted:
		return fmt.Sprintf("Batch %d/%d complete, %d results so far", e.Batch, e.TotalBatches, e.TotalFetched)
	case KindWorkerFailed:
		return fmt.Sprintf("Partition %s failed: %s", e.Partition, e.Error)
	case KindCompleted:
		return fmt.Sprintf("Search completed: %d results, %d unique", e.RawCount, e.UniqueCount)
	case KindFailed:
		return fmt.Sprintf("Search failed: %s", e.Error)
	default:
		return string(e.Kind)
	}
}

// Publisher accepts events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops every event
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
