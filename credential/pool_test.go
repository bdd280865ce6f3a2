package credential

import (
	"fmt"
	"sync"
	"testing"
)

func newTestPool(t *testing.T, n int) *Pool {
	t.Helper()
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("ghp_test_token_%02d", i)
	}
	pool, err := FromStrings(tokens)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return pool
}

func TestNewPool_Empty(t *testing.T) {
	if _, err := NewPool(nil); err == nil {
		t.Error("expected error for empty credential list")
	}
	if _, err := FromStrings([]string{"", ""}); err == nil {
		t.Error("expected error when every credential is blank")
	}
}

func TestNewPool_Dedup(t *testing.T) {
	pool, err := FromStrings([]string{"a", "b", "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.Total() != 2 {
		t.Errorf("expected 2 credentials, got %d", pool.Total())
	}
}

func TestAllocate_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		held    int
		count   int
		reserve int
		want    int
	}{
		{"plenty", 20, 0, 5, 7, 5},
		{"shrinks to free minus reserve", 10, 0, 5, 7, 3},
		{"nothing above reserve", 7, 0, 3, 7, 0},
		{"below reserve", 5, 0, 1, 7, 0},
		{"no reserve", 3, 0, 5, 0, 3},
		{"partially leased", 12, 3, 5, 7, 2},
		{"zero count", 10, 0, 0, 0, 0},
		{"negative reserve treated as zero", 2, 0, 2, -1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newTestPool(t, tt.total)
			if tt.held > 0 {
				if got := pool.Allocate(tt.held, 0).Len(); got != tt.held {
					t.Fatalf("setup allocation: expected %d, got %d", tt.held, got)
				}
			}

			lease := pool.Allocate(tt.count, tt.reserve)
			if lease.Len() != tt.want {
				t.Errorf("expected %d credentials, got %d", tt.want, lease.Len())
			}
			if tt.want == 0 && !lease.Empty() {
				t.Error("expected empty lease")
			}
			if tt.want > 0 && lease.ID == "" {
				t.Error("expected lease id to be set")
			}
		})
	}
}

func TestAllocate_ReserveScenario(t *testing.T) {
	pool := newTestPool(t, 10)

	lease := pool.Allocate(5, 7)
	if lease.Len() != 3 {
		t.Fatalf("expected 3 credentials, got %d", lease.Len())
	}
	if pool.Available() != 7 {
		t.Errorf("expected 7 available, got %d", pool.Available())
	}
	if pool.Leased() != 3 {
		t.Errorf("expected 3 leased, got %d", pool.Leased())
	}
}

func TestRelease_ReturnsCredentials(t *testing.T) {
	pool := newTestPool(t, 4)

	first := pool.Allocate(4, 0)
	if pool.Available() != 0 {
		t.Fatalf("expected 0 available, got %d", pool.Available())
	}
	if again := pool.Allocate(1, 0); !again.Empty() {
		t.Fatal("expected empty lease from drained pool")
	}

	pool.Release(first.ID)
	if pool.Available() != 4 {
		t.Errorf("expected 4 available after release, got %d", pool.Available())
	}

	second := pool.Allocate(4, 0)
	got := make(map[Credential]bool)
	for _, c := range second.Credentials {
		got[c] = true
	}
	for _, c := range first.Credentials {
		if !got[c] {
			t.Errorf("expected released credential %s to be reusable", c)
		}
	}
}

func TestRelease_Idempotent(t *testing.T) {
	pool := newTestPool(t, 3)
	lease := pool.Allocate(2, 0)

	pool.Release(lease.ID)
	pool.Release(lease.ID)
	pool.Release("unknown-lease")

	if pool.Available() != 3 {
		t.Errorf("expected 3 available, got %d", pool.Available())
	}
	if pool.Total() != 3 {
		t.Errorf("expected total 3, got %d", pool.Total())
	}
}

func TestAllocate_ConcurrentLeasesAreDisjoint(t *testing.T) {
	pool := newTestPool(t, 40)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		leases []Lease
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease := pool.Allocate(3, 2)
			mu.Lock()
			leases = append(leases, lease)
			mu.Unlock()
		}()
	}
	wg.Wait()

	owner := make(map[Credential]string)
	granted := 0
	for _, l := range leases {
		for _, c := range l.Credentials {
			if other, ok := owner[c]; ok {
				t.Fatalf("credential %s in leases %s and %s", c, other, l.ID)
			}
			owner[c] = l.ID
			granted++
		}
	}
	if granted > 38 {
		t.Errorf("reserve breached: granted %d of 40 with reserve 2", granted)
	}
	if pool.Available() != 40-granted {
		t.Errorf("expected %d available, got %d", 40-granted, pool.Available())
	}
}

func TestOnLeasedChange(t *testing.T) {
	pool := newTestPool(t, 5)
	var seen []int
	pool.OnLeasedChange(func(n int) { seen = append(seen, n) })

	lease := pool.Allocate(2, 0)
	pool.Release(lease.ID)

	if len(seen) != 2 || seen[0] != 2 || seen[1] != 0 {
		t.Errorf("expected [2 0], got %v", seen)
	}
}

func TestOnLeasedChange_ConcurrentLastValueMatches(t *testing.T) {
	pool := newTestPool(t, 8)
	var mu sync.Mutex
	var last int
	calls := 0
	pool.OnLeasedChange(func(n int) {
		mu.Lock()
		last = n
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	held := make([]Lease, 4)
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				lease := pool.Allocate(1, 0)
				pool.Release(lease.ID)
			}
			held[i] = pool.Allocate(1, 0)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if last != pool.Leased() {
		t.Errorf("expected gauge value %d, got %d", pool.Leased(), last)
	}
	if last != 4 {
		t.Errorf("expected 4 held credentials, got %d", last)
	}
	if calls != 4*101 {
		t.Errorf("expected %d notifications, got %d", 4*101, calls)
	}
}

func TestCredential_String(t *testing.T) {
	c := Credential("ghp_abcdefghijklmnop")
	if c.String() != "...ijklmnop" {
		t.Errorf("expected masked credential, got %q", c.String())
	}
	if c.Bearer() != "Bearer ghp_abcdefghijklmnop" {
		t.Errorf("unexpected bearer value %q", c.Bearer())
	}
	if Credential("short").String() != "...short" {
		t.Errorf("unexpected mask for short credential: %q", Credential("short").String())
	}
}
