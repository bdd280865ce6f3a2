// Package progress carries job progress from the search workers and the
// batch scheduler to a single presentation consumer.
package progress

import (
	"math"
	"sync"
	"time"
)

// Phase is the coarse job phase derived from events
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseStarting    Phase = "starting"
	PhaseBatching    Phase = "batch_processing"
	PhaseFetching    Phase = "fetching_results"
	PhaseCoolingDown Phase = "cooling_down"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// Stats are counters folded from published events
type Stats struct {
	Phase          Phase     `json:"phase"`
	TotalFetched   int       `json:"total_fetched"`
	PagesFetched   int       `json:"pages_fetched"`
	RateLimitHits  int       `json:"rate_limit_hits"`
	TokenSwitches  int       `json:"token_switches"`
	FailedWorkers  int       `json:"failed_workers"`
	CurrentBatch   int       `json:"current_batch"`
	TotalBatches   int       `json:"total_batches"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	LastUpdateTime time.Time `json:"last_update_time,omitempty"`
}

// Snapshot is a consistent view of the channel state
type Snapshot struct {
	Progress float64 `json:"progress"`
	Status   string  `json:"status"`
	Running  bool    `json:"running"`
	Error    string  `json:"error,omitempty"`
	Stats    Stats   `json:"stats"`
}

// Channel is the thread-safe progress holder. Producers never block: the
// event queue is unbounded and the notify signal is a non-blocking send.
type Channel struct {
	mu       sync.Mutex
	progress float64
	status   string
	err      error
	results  any
	running  bool
	stats    Stats
	queue    []Event
	claimed  bool
	notify   chan struct{}
	now      func() time.Time
}

// NewChannel creates an idle channel
func NewChannel() *Channel {
	return &Channel{
		notify: make(chan struct{}, 1),
		stats:  Stats{Phase: PhaseIdle},
		now:    time.Now,
	}
}

// SetProgress stores v clamped to [0, 1]. NaN counts as 0.
func (c *Channel) SetProgress(v float64) {
	if math.IsNaN(v) {
		v = 0
	}
	c.mu.Lock()
	c.progress = min(max(v, 0), 1)
	c.mu.Unlock()
}

// Progress returns the current progress fraction
func (c *Channel) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// SetStatus replaces the status text
func (c *Channel) SetStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.stats.LastUpdateTime = c.now()
	c.mu.Unlock()
}

// Status returns the status text
func (c *Channel) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetError records a terminal error; nil clears it
func (c *Channel) SetError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Err returns the recorded error, if any
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetResults stores the final results
func (c *Channel) SetResults(v any) {
	c.mu.Lock()
	c.results = v
	c.mu.Unlock()
}

// Results returns the final results, or nil while none are set
func (c *Channel) Results() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results
}

// SetRunning flips the running flag. Starting a run resets the counters.
func (c *Channel) SetRunning(running bool) {
	c.mu.Lock()
	if running && !c.running {
		c.stats = Stats{Phase: PhaseStarting, StartedAt: c.now()}
		c.progress = 0
	}
	c.running = running
	c.mu.Unlock()
}

// Running reports whether a job is in flight
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Publish enqueues e, updates the status text and counters, and wakes the
// consumer if it is waiting.
func (c *Channel) Publish(e Event) {
	c.mu.Lock()
	if e.Time.IsZero() {
		e.Time = c.now()
	}
	c.queue = append(c.queue, e)
	c.status = e.String()
	c.fold(e)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// fold updates stats from e; caller holds mu
func (c *Channel) fold(e Event) {
	s := &c.stats
	s.LastUpdateTime = e.Time
	switch e.Kind {
	case KindJobStarted:
		s.Phase = PhaseStarting
	case KindBatchStarted:
		s.Phase = PhaseBatching
		s.CurrentBatch = e.Batch
		s.TotalBatches = e.TotalBatches
	case KindPageFetched:
		s.Phase = PhaseFetching
		s.PagesFetched++
		s.TotalFetched += e.PageItems
	case KindRateLimited:
		s.RateLimitHits++
	case KindTokenSwitched:
		s.TokenSwitches++
	case KindCoolingDown:
		s.Phase = PhaseCoolingDown
	case KindBatchCompleted:
		s.TotalBatches = e.TotalBatches
	case KindWorkerFailed:
		s.FailedWorkers++
	case KindCompleted:
		s.Phase = PhaseCompleted
	case KindFailed:
		s.Phase = PhaseFailed
	}
}

// Next pops the oldest queued event without blocking
func (c *Channel) Next() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Event{}, false
	}
	e := c.queue[0]
	c.queue[0] = Event{}
	c.queue = c.queue[1:]
	return e, true
}

// Drain pops every queued event in FIFO order
func (c *Channel) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

// Notify returns a channel that receives a value after new events arrive.
// Consumers wait on it and then Drain.
func (c *Channel) Notify() <-chan struct{} {
	return c.notify
}

// Claim registers the single event consumer. It returns false when another
// consumer already holds the stream.
func (c *Channel) Claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed {
		return false
	}
	c.claimed = true
	return true
}

// Unclaim releases the consumer slot
func (c *Channel) Unclaim() {
	c.mu.Lock()
	c.claimed = false
	c.mu.Unlock()
}

// Snapshot returns the current state
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Progress: c.progress,
		Status:   c.status,
		Running:  c.running,
		Stats:    c.stats,
	}
	if c.err != nil {
		snap.Error = c.err.Error()
	}
	return snap
}

var _ Publisher = (*Channel)(nil)
