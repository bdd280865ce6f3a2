// Package scheduler runs partitioned sub-queries in sequential batches.
// Each batch is sized to the credentials the pool can spare above its
// reserve, runs its workers concurrently, releases its lease, and cools
// down before the next batch starts.
package scheduler

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tokensweep/tokensweep/aggregate"
	"github.com/tokensweep/tokensweep/credential"
	"github.com/tokensweep/tokensweep/metrics"
	"github.com/tokensweep/tokensweep/partition"
	"github.com/tokensweep/tokensweep/progress"
	"github.com/tokensweep/tokensweep/search"
	"github.com/tokensweep/tokensweep/worker"
)

// Runner executes one sub-query
type Runner interface {
	Run(ctx context.Context, task worker.Task) worker.Result
}

// Reporter receives batch events and the progress fraction
type Reporter interface {
	progress.Publisher
	SetProgress(float64)
}

// Config bounds batch sizing and pacing
type Config struct {
	MaxParallel          int
	Reserve              int
	Cooldown             time.Duration
	AllocationRetries    int
	AllocationRetryDelay time.Duration
}

// Report is the outcome of one scheduler run. Records holds every item
// collected, including partial output of failed partitions.
type Report struct {
	Records   []aggregate.Record
	Batches   int
	Aborted   int
	Cooldowns int
	Completed []string
	Failed    []string
	Skipped   []string
	Err       error
}

// Scheduler is not safe for concurrent Run calls on the same pool
type Scheduler struct {
	pool     *credential.Pool
	runner   Runner
	cfg      Config
	reporter Reporter
	metrics  *metrics.Metrics
}

// New creates a scheduler. reporter and m may be nil.
func New(pool *credential.Pool, runner Runner, cfg Config, reporter Reporter, m *metrics.Metrics) *Scheduler {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.Reserve < 0 {
		cfg.Reserve = 0
	}
	if reporter == nil {
		reporter = discardReporter{}
	}
	return &Scheduler{
		pool:     pool,
		runner:   runner,
		cfg:      cfg,
		reporter: reporter,
		metrics:  m,
	}
}

// Run searches base once per partition qualifier. It never fails the job
// for a lack of credentials; partitions that could not be scheduled are
// reported as skipped. Report.Err is set only when ctx ends early.
func (s *Scheduler) Run(ctx context.Context, base string, partitions []string, limit search.Limit) Report {
	var rep Report
	queue := make([]int, len(partitions))
	for i := range queue {
		queue[i] = i
	}

	serial := false
	aborts := 0

	for len(queue) > 0 {
		if ctx.Err() != nil {
			rep.Err = context.Cause(ctx)
			rep.Skipped = append(rep.Skipped, names(partitions, queue)...)
			log.Warnf("Search cancelled with %d partitions left: %v", len(queue), rep.Err)
			break
		}

		maxPar, reserve := s.cfg.MaxParallel, s.cfg.Reserve
		if serial {
			maxPar, reserve = 1, 0
		}

		lease := s.allocate(ctx, min(maxPar, s.pool.Available()-reserve, len(queue)), reserve)
		if lease.Empty() {
			rep.Aborted++
			aborts++
			s.metrics.Batch(metrics.OutcomeAborted)
			log.Warnf("No credentials available above reserve %d, batch skipped (%d/%d)", reserve, aborts, max(s.cfg.AllocationRetries, 1))

			if aborts >= s.cfg.AllocationRetries {
				if serial {
					rep.Skipped = append(rep.Skipped, names(partitions, queue)...)
					log.Errorf("Unable to allocate any credential, %d partitions skipped", len(queue))
					break
				}
				log.Warn("Falling back to serial processing")
				serial = true
				aborts = 0
				continue
			}
			sleep(ctx, s.cfg.AllocationRetryDelay)
			continue
		}
		aborts = 0

		size := lease.Len()
		batch := queue[:size]
		queue = queue[size:]
		rep.Batches++
		total := rep.Batches + estimate(len(queue), size)

		s.reporter.Publish(progress.Event{
			Kind:         progress.KindBatchStarted,
			Batch:        rep.Batches,
			TotalBatches: total,
			BatchSize:    size,
		})
		log.WithFields(log.Fields{"batch": rep.Batches, "size": size}).Infof("Processing batch %d/%d", rep.Batches, total)

		results := s.runBatch(ctx, base, partitions, batch, lease, limit)
		for i, res := range results {
			idx := batch[i]
			rep.Records = append(rep.Records, aggregate.Tag(idx, res.Items)...)
			if res.Err != nil {
				rep.Failed = append(rep.Failed, partitions[idx])
				s.reporter.Publish(progress.Event{
					Kind:      progress.KindWorkerFailed,
					Partition: partitions[idx],
					Error:     res.Err.Error(),
				})
				continue
			}
			rep.Completed = append(rep.Completed, partitions[idx])
		}

		outcome := metrics.OutcomeCompleted
		if serial {
			outcome = metrics.OutcomeSerial
		}
		s.metrics.Batch(outcome)
		s.reporter.Publish(progress.Event{
			Kind:         progress.KindBatchCompleted,
			Batch:        rep.Batches,
			TotalBatches: total,
			TotalFetched: len(rep.Records),
		})
		s.reporter.SetProgress(float64(rep.Batches) / float64(total))

		if len(queue) > 0 && s.cfg.Cooldown > 0 {
			rep.Cooldowns++
			s.metrics.Cooldown()
			s.reporter.Publish(progress.Event{
				Kind:      progress.KindCoolingDown,
				Batch:     rep.Batches,
				Remaining: s.cfg.Cooldown,
			})
			log.Infof("Cooling down for %s before next batch", s.cfg.Cooldown)
			sleep(ctx, s.cfg.Cooldown)
		}
	}

	if len(queue) == 0 && rep.Err == nil {
		s.reporter.SetProgress(1)
	}
	log.Infof("Scheduler finished: %d batches, %d completed, %d failed, %d skipped",
		rep.Batches, len(rep.Completed), len(rep.Failed), len(rep.Skipped))
	return rep
}

// allocate leases size credentials, retrying a short grant a bounded
// number of times before settling for it.
func (s *Scheduler) allocate(ctx context.Context, size, reserve int) credential.Lease {
	if size <= 0 {
		return credential.Lease{}
	}
	lease := s.pool.Allocate(size, reserve)
	for try := 1; lease.Len() < size && try <= s.cfg.AllocationRetries; try++ {
		log.Debugf("Allocated %d of %d credentials, retrying (%d/%d)", lease.Len(), size, try, s.cfg.AllocationRetries)
		s.pool.Release(lease.ID)
		if err := sleep(ctx, s.cfg.AllocationRetryDelay); err != nil {
			return credential.Lease{}
		}
		lease = s.pool.Allocate(size, reserve)
	}
	if !lease.Empty() && lease.Len() < size {
		log.Infof("Shrinking batch from %d to %d partitions", size, lease.Len())
	}
	return lease
}

// runBatch runs one worker per (partition, credential) pair and waits for
// all of them. Results are in batch order.
func (s *Scheduler) runBatch(ctx context.Context, base string, partitions []string, batch []int, lease credential.Lease, limit search.Limit) []worker.Result {
	defer s.pool.Release(lease.ID)

	results := make([]worker.Result, len(batch))
	var g errgroup.Group
	g.SetLimit(len(batch))

	for i, idx := range batch {
		task := worker.Task{
			Partition:  partitions[idx],
			Query:      partition.SubQuery(base, partitions[idx]),
			Limit:      limit,
			Credential: lease.Credentials[i],
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("partition", task.Partition).Errorf("Worker panic: %v", r)
					results[i] = worker.Result{Partition: task.Partition, Err: fmt.Errorf("worker panic: %v", r)}
				}
			}()
			results[i] = s.runner.Run(ctx, task)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func estimate(remaining, size int) int {
	if remaining <= 0 || size <= 0 {
		return 0
	}
	return (remaining + size - 1) / size
}

func names(partitions []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, p := range idx {
		out[i] = partitions[p]
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

type discardReporter struct{}

func (discardReporter) Publish(progress.Event) {}
func (discardReporter) SetProgress(float64)    {}
