package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tokensweep/tokensweep/credential"
	"github.com/tokensweep/tokensweep/progress"
	"github.com/tokensweep/tokensweep/search"
	"github.com/tokensweep/tokensweep/worker"
)

// twentyEight is a reduced alphabet used to check batch arithmetic
var twentyEight = func() []string {
	out := make([]string, 0, 28)
	for c := 'a'; c <= 'z'; c++ {
		out = append(out, string(c))
	}
	return append(out, "0", "1")
}()

type fakeRunner struct {
	t *testing.T

	mu        sync.Mutex
	active    int
	maxActive int
	inUse     map[credential.Credential]bool
	tasks     []worker.Task

	fail    map[string]bool
	panicOn map[string]bool
	onRun   func(worker.Task)
}

func newFakeRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{t: t, inUse: make(map[credential.Credential]bool)}
}

func (f *fakeRunner) Run(ctx context.Context, task worker.Task) worker.Result {
	f.mu.Lock()
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	if f.inUse[task.Credential] {
		f.t.Errorf("credential %s used by two workers at once", task.Credential)
	}
	f.inUse[task.Credential] = true
	f.tasks = append(f.tasks, task)
	onRun := f.onRun
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		delete(f.inUse, task.Credential)
		f.mu.Unlock()
	}()

	if onRun != nil {
		onRun(task)
	}
	time.Sleep(2 * time.Millisecond)

	if f.panicOn[task.Partition] {
		panic("boom")
	}
	items := []search.RawItem{
		{Path: task.Partition + ".py", Repository: search.Repository{FullName: "org/repo"}},
	}
	if f.fail[task.Partition] {
		return worker.Result{Partition: task.Partition, Items: items, Err: errors.New("upstream failed")}
	}
	return worker.Result{Partition: task.Partition, Items: items, Pages: 1}
}

func newPool(t *testing.T, n int) *credential.Pool {
	t.Helper()
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("token-%02d-abcdefgh", i)
	}
	pool, err := credential.FromStrings(tokens)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return pool
}

func countKind(events []progress.Event, kind progress.Kind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestRun_BatchesAndCooldowns(t *testing.T) {
	pool := newPool(t, 20)
	runner := newFakeRunner(t)
	ch := progress.NewChannel()
	s := New(pool, runner, Config{MaxParallel: 5, Reserve: 0, Cooldown: time.Millisecond}, ch, nil)

	rep := s.Run(context.Background(), "AKIA", twentyEight, search.All)
	if rep.Err != nil {
		t.Fatalf("unexpected error: %v", rep.Err)
	}
	if rep.Batches != 6 {
		t.Errorf("expected 6 batches, got %d", rep.Batches)
	}
	if rep.Cooldowns != 5 {
		t.Errorf("expected 5 cooldowns, got %d", rep.Cooldowns)
	}

	events := ch.Drain()
	if got := countKind(events, progress.KindCoolingDown); got != 5 {
		t.Errorf("expected 5 cooling down events, got %d", got)
	}
	if got := countKind(events, progress.KindBatchStarted); got != 6 {
		t.Errorf("expected 6 batch started events, got %d", got)
	}
	if last := events[len(events)-1]; last.Kind != progress.KindBatchCompleted {
		t.Errorf("expected final event to be batch_completed, got %s", last.Kind)
	}
	if len(rep.Completed) != 28 {
		t.Errorf("expected 28 completed partitions, got %d", len(rep.Completed))
	}
	if len(rep.Records) != 28 {
		t.Errorf("expected 28 records, got %d", len(rep.Records))
	}
	if runner.maxActive > 5 {
		t.Errorf("expected at most 5 concurrent workers, got %d", runner.maxActive)
	}
	if ch.Progress() != 1 {
		t.Errorf("expected progress 1, got %v", ch.Progress())
	}
	if pool.Leased() != 0 {
		t.Errorf("expected every lease released, got %d leased", pool.Leased())
	}
}

func TestRun_SubQueries(t *testing.T) {
	runner := newFakeRunner(t)
	s := New(newPool(t, 3), runner, Config{MaxParallel: 3}, nil, nil)

	s.Run(context.Background(), "ghp_ language:go", []string{".", "_", "a"}, 50)

	var queries []string
	for _, task := range runner.tasks {
		queries = append(queries, task.Query)
		if task.Limit != 50 {
			t.Errorf("expected limit 50, got %v", task.Limit)
		}
	}
	sort.Strings(queries)
	want := []string{"ghp_ language:go filename:.", "ghp_ language:go filename:_", "ghp_ language:go filename:a"}
	if fmt.Sprint(queries) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, queries)
	}
}

func TestRun_ReserveShrinksBatch(t *testing.T) {
	pool := newPool(t, 10)
	runner := newFakeRunner(t)
	ch := progress.NewChannel()
	s := New(pool, runner, Config{MaxParallel: 5, Reserve: 7}, ch, nil)

	rep := s.Run(context.Background(), "AKIA", twentyEight, search.All)
	if len(rep.Completed) != 28 {
		t.Fatalf("expected all 28 partitions completed, got %d", len(rep.Completed))
	}
	if rep.Batches != 10 {
		t.Errorf("expected 10 batches of at most 3, got %d", rep.Batches)
	}
	for _, e := range ch.Drain() {
		if e.Kind == progress.KindBatchStarted && e.BatchSize > 3 {
			t.Errorf("batch %d: expected size at most 3, got %d", e.Batch, e.BatchSize)
		}
	}
	if runner.maxActive > 3 {
		t.Errorf("expected at most 3 concurrent workers, got %d", runner.maxActive)
	}
	if pool.Leased() != 0 {
		t.Errorf("expected every lease released, got %d leased", pool.Leased())
	}
}

func TestRun_WorkerFailuresIsolated(t *testing.T) {
	runner := newFakeRunner(t)
	runner.fail = map[string]bool{"c": true}
	runner.panicOn = map[string]bool{"d": true}
	ch := progress.NewChannel()
	pool := newPool(t, 5)
	s := New(pool, runner, Config{MaxParallel: 5}, ch, nil)

	rep := s.Run(context.Background(), "AKIA", []string{"a", "b", "c", "d", "e"}, search.All)
	if rep.Err != nil {
		t.Fatalf("expected no scheduler error, got %v", rep.Err)
	}
	sort.Strings(rep.Failed)
	if fmt.Sprint(rep.Failed) != "[c d]" {
		t.Errorf("expected failed [c d], got %v", rep.Failed)
	}
	if len(rep.Completed) != 3 {
		t.Errorf("expected 3 completed, got %d", len(rep.Completed))
	}
	// c kept its partial item, d produced none
	if len(rep.Records) != 4 {
		t.Errorf("expected 4 records, got %d", len(rep.Records))
	}
	for _, r := range rep.Records {
		if r.Item.Path == "c.py" && r.Partition != 2 {
			t.Errorf("expected c tagged with partition 2, got %d", r.Partition)
		}
	}
	if got := countKind(ch.Drain(), progress.KindWorkerFailed); got != 2 {
		t.Errorf("expected 2 worker failed events, got %d", got)
	}
	if pool.Leased() != 0 {
		t.Errorf("expected lease released after panic, got %d leased", pool.Leased())
	}
}

func TestRun_SerialFallback(t *testing.T) {
	pool := newPool(t, 3)
	runner := newFakeRunner(t)
	s := New(pool, runner, Config{
		MaxParallel:          5,
		Reserve:              7,
		AllocationRetries:    2,
		AllocationRetryDelay: time.Millisecond,
	}, nil, nil)

	rep := s.Run(context.Background(), "AKIA", []string{"a", "b", "c", "d"}, search.All)
	if rep.Aborted != 2 {
		t.Errorf("expected 2 aborted batches before serial mode, got %d", rep.Aborted)
	}
	if rep.Batches != 4 {
		t.Errorf("expected 4 serial batches, got %d", rep.Batches)
	}
	if len(rep.Completed) != 4 || len(rep.Skipped) != 0 {
		t.Errorf("expected all completed, got %d completed and %d skipped", len(rep.Completed), len(rep.Skipped))
	}
	if runner.maxActive != 1 {
		t.Errorf("expected serial execution, got %d concurrent", runner.maxActive)
	}
}

func TestRun_SkipsWhenNothingAllocatable(t *testing.T) {
	pool := newPool(t, 1)
	held := pool.Allocate(1, 0)
	defer pool.Release(held.ID)

	runner := newFakeRunner(t)
	s := New(pool, runner, Config{
		MaxParallel:          2,
		AllocationRetries:    1,
		AllocationRetryDelay: time.Millisecond,
	}, nil, nil)

	rep := s.Run(context.Background(), "AKIA", []string{"a", "b"}, search.All)
	if rep.Err != nil {
		t.Errorf("expected exhaustion to be non-fatal, got %v", rep.Err)
	}
	if len(rep.Skipped) != 2 {
		t.Errorf("expected 2 skipped partitions, got %v", rep.Skipped)
	}
	if len(runner.tasks) != 0 {
		t.Errorf("expected no worker to run, got %d", len(runner.tasks))
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	runner := newFakeRunner(t)
	s := New(newPool(t, 5), runner, Config{MaxParallel: 5}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := s.Run(ctx, "AKIA", twentyEight, search.All)
	if !errors.Is(rep.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", rep.Err)
	}
	if rep.Batches != 0 || len(rep.Skipped) != 28 {
		t.Errorf("expected 0 batches and 28 skipped, got %d and %d", rep.Batches, len(rep.Skipped))
	}
}

func TestRun_CancelStopsBeforeNextBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := newFakeRunner(t)
	runner.onRun = func(worker.Task) { cancel() }
	s := New(newPool(t, 5), runner, Config{MaxParallel: 5, Cooldown: time.Hour}, nil, nil)

	done := make(chan Report, 1)
	go func() { done <- s.Run(ctx, "AKIA", twentyEight, search.All) }()

	select {
	case rep := <-done:
		if rep.Batches != 1 {
			t.Errorf("expected 1 batch before cancellation, got %d", rep.Batches)
		}
		if len(rep.Records) != 5 {
			t.Errorf("expected first batch records kept, got %d", len(rep.Records))
		}
		if len(rep.Skipped) != 23 {
			t.Errorf("expected 23 skipped, got %d", len(rep.Skipped))
		}
		if !errors.Is(rep.Err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", rep.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop during cooldown")
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		remaining, size, want int
	}{
		{0, 5, 0},
		{23, 5, 5},
		{25, 5, 5},
		{1, 3, 1},
		{4, 0, 0},
	}
	for _, tt := range tests {
		if got := estimate(tt.remaining, tt.size); got != tt.want {
			t.Errorf("estimate(%d, %d): expected %d, got %d", tt.remaining, tt.size, tt.want, got)
		}
	}
}
