// Package worker runs one sub-query to completion: every page up to the
// limit, each page under the shared retry policy with credential rotation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tokensweep/tokensweep/credential"
	"github.com/tokensweep/tokensweep/metrics"
	"github.com/tokensweep/tokensweep/progress"
	"github.com/tokensweep/tokensweep/retry"
	"github.com/tokensweep/tokensweep/search"
)

// Fetcher retrieves one page of code-search results
type Fetcher interface {
	FetchPage(ctx context.Context, cred credential.Credential, pr search.PageRequest) (*search.Page, error)
}

// Config tunes a Worker
type Config struct {
	Policy retry.Policy
	// Pacing is the minimum gap between two requests of one sub-query
	Pacing time.Duration
}

// Task is one sub-query bound to the credential leased for it
type Task struct {
	Partition  string
	Query      string
	Limit      search.Limit
	Credential credential.Credential
}

// Result is what a sub-query produced. Err is set when the worker stopped
// early; Items still holds every page collected before that.
type Result struct {
	Partition     string
	Items         []search.RawItem
	Pages         int
	RateLimitHits int
	Rotations     int
	Err           error
}

// Worker is safe for concurrent Run calls
type Worker struct {
	fetcher Fetcher
	pool    *credential.Pool
	policy  retry.Policy
	pacing  time.Duration
	events  progress.Publisher
	metrics *metrics.Metrics
}

// New creates a worker. events and m may be nil.
func New(fetcher Fetcher, pool *credential.Pool, cfg Config, events progress.Publisher, m *metrics.Metrics) *Worker {
	if events == nil {
		events = progress.Discard
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	return &Worker{
		fetcher: fetcher,
		pool:    pool,
		policy:  cfg.Policy,
		pacing:  cfg.Pacing,
		events:  events,
		metrics: m,
	}
}

func (w *Worker) newLimiter() *rate.Limiter {
	if w.pacing <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(w.pacing), 1)
}

// Run paginates task.Query until the limit is reached, the upstream reports
// no further page, or a page fails for good.
func (w *Worker) Run(ctx context.Context, task Task) Result {
	query, sortField, order := search.ParseSortDirective(task.Query)
	limiter := w.newLimiter()
	res := Result{Partition: task.Partition}

	logger := log.WithFields(log.Fields{
		"partition":  task.Partition,
		"credential": task.Credential.String(),
	})
	if sortField != "" {
		logger.Debugf("Sorting by %s %s", sortField, order)
	}

	for page := 1; ; page++ {
		pr := search.PageRequest{
			Query:   query,
			Sort:    sortField,
			Order:   order,
			PerPage: task.Limit.PerPage(),
			Page:    page,
		}

		p, err := w.fetchPage(ctx, limiter, task, pr, &res)
		if err != nil {
			res.Err = fmt.Errorf("page %d: %w", page, err)
			logger.WithField("page", page).Warnf("Sub-query stopped with %d items: %v", len(res.Items), err)
			return res
		}

		res.Pages++
		res.Items = append(res.Items, p.Items...)
		reached := task.Limit.Reached(len(res.Items))
		if reached {
			res.Items = task.Limit.Truncate(res.Items)
		}
		w.metrics.ItemsFetched(len(p.Items))
		w.events.Publish(progress.Event{
			Kind:         progress.KindPageFetched,
			Partition:    task.Partition,
			Page:         page,
			PageItems:    len(p.Items),
			TotalFetched: len(res.Items),
		})
		logger.Debugf("Page %d: %d items (%d total)", page, len(p.Items), len(res.Items))

		if reached || !p.Next || len(p.Items) == 0 {
			return res
		}
	}
}

// fetchPage runs one page under the retry policy. A rotation lease lives
// only for this page; the task's own credential is used again afterwards.
func (w *Worker) fetchPage(ctx context.Context, limiter *rate.Limiter, task Task, pr search.PageRequest, res *Result) (*search.Page, error) {
	cred := task.Credential
	var rotation credential.Lease
	defer func() {
		if !rotation.Empty() {
			w.pool.Release(rotation.ID)
		}
	}()

	rotate := func(failures int) {
		lease := w.pool.Allocate(1, 0)
		if lease.Empty() {
			log.WithField("partition", task.Partition).Warnf("No spare credential after %d failures, keeping %s", failures, cred)
			return
		}
		if lease.Credentials[0] == cred {
			w.pool.Release(lease.ID)
			log.WithField("partition", task.Partition).Warnf("Only %s is free after %d failures, keeping it", cred, failures)
			return
		}
		if !rotation.Empty() {
			w.pool.Release(rotation.ID)
		}
		rotation = lease
		cred = lease.Credentials[0]
		res.Rotations++
		w.metrics.TokenSwitched()
		w.events.Publish(progress.Event{
			Kind:       progress.KindTokenSwitched,
			Partition:  task.Partition,
			Credential: cred.String(),
		})
	}

	op := func(ctx context.Context, attempt int) (*search.Page, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}

		start := time.Now()
		page, err := w.fetcher.FetchPage(ctx, cred, pr)
		w.metrics.ObserveRequest(statusOf(err), time.Since(start))
		if err == nil {
			return page, nil
		}

		var rl *search.RateLimitError
		var up *search.UpstreamError
		switch {
		case errors.As(err, &rl):
			res.RateLimitHits++
			w.metrics.RateLimited()
			w.events.Publish(progress.Event{
				Kind:        progress.KindRateLimited,
				Partition:   task.Partition,
				Page:        pr.Page,
				Attempt:     attempt,
				MaxAttempts: int(w.policy.MaxAttempts),
				Credential:  cred.String(),
			})
			return nil, err
		case errors.As(err, &up):
			return nil, retry.Permanent(err)
		default:
			return nil, err
		}
	}

	return retry.Do(ctx, w.policy, op,
		retry.OnRotate(rotate),
		retry.OnRetry(func(attempt int, err error, delay time.Duration) {
			log.WithFields(log.Fields{
				"partition": task.Partition,
				"page":      pr.Page,
				"attempt":   attempt,
			}).Debugf("Retrying in %s: %v", delay, err)
		}),
	)
}

func statusOf(err error) int {
	if err == nil {
		return 200
	}
	var rl *search.RateLimitError
	if errors.As(err, &rl) {
		return rl.Status
	}
	var up *search.UpstreamError
	if errors.As(err, &up) {
		return up.Status
	}
	return 0
}
