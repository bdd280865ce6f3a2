package credential

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrExhausted is returned when no credential can be granted above the reserve
var ErrExhausted = errors.New("no credentials available above reserve")

// Credential is an opaque bearer secret. String masks it so it is safe to log.
type Credential string

// String returns the masked form ("..." plus the last 8 characters)
func (c Credential) String() string {
	if len(c) <= 8 {
		return "..." + string(c)
	}
	return "..." + string(c[len(c)-8:])
}

// Bearer returns the Authorization header value for this credential
func (c Credential) Bearer() string {
	return "Bearer " + string(c)
}

// Lease is an exclusive checkout of credentials. The zero Lease is empty.
type Lease struct {
	ID          string
	Credentials []Credential
}

// Len returns the number of credentials held by the lease
func (l Lease) Len() int {
	return len(l.Credentials)
}

// Empty reports whether the lease holds no credentials
func (l Lease) Empty() bool {
	return len(l.Credentials) == 0
}

// Pool owns the credential set and hands out disjoint leases.
// All methods are safe for concurrent use; no I/O happens under the lock.
type Pool struct {
	mu             sync.Mutex
	all            []Credential
	free           []Credential
	leases         map[string][]Credential
	onLeasedChange func(leased int)
}

// NewPool creates a pool over a non-empty, de-duplicated list of credentials
func NewPool(creds []Credential) (*Pool, error) {
	seen := make(map[Credential]bool, len(creds))
	var uniq []Credential
	for _, c := range creds {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		uniq = append(uniq, c)
	}
	if len(uniq) == 0 {
		return nil, errors.New("credential pool requires at least one credential")
	}

	free := make([]Credential, len(uniq))
	copy(free, uniq)
	return &Pool{
		all:    uniq,
		free:   free,
		leases: make(map[string][]Credential),
	}, nil
}

// FromStrings is a convenience wrapper around NewPool
func FromStrings(tokens []string) (*Pool, error) {
	creds := make([]Credential, len(tokens))
	for i, t := range tokens {
		creds[i] = Credential(t)
	}
	return NewPool(creds)
}

// OnLeasedChange registers a callback invoked with the number of leased
// credentials after every allocate or release. It runs under the pool lock so
// calls arrive in order; fn must not call back into the pool.
func (p *Pool) OnLeasedChange(fn func(leased int)) {
	p.mu.Lock()
	p.onLeasedChange = fn
	p.mu.Unlock()
}

// Allocate grants up to count free credentials while keeping at least
// reserve credentials unleased. The grant is min(count, free-reserve); when
// that is not positive the returned lease is empty and the caller should
// treat it as ErrExhausted.
func (p *Pool) Allocate(count, reserve int) Lease {
	if count <= 0 {
		return Lease{}
	}
	if reserve < 0 {
		reserve = 0
	}

	p.mu.Lock()
	available := len(p.free)
	grant := count
	if available < count+reserve {
		grant = max(0, available-reserve)
	}
	if grant == 0 {
		p.mu.Unlock()
		log.WithFields(log.Fields{"requested": count, "available": available, "reserve": reserve}).
			Warn("Credential allocation denied")
		return Lease{}
	}

	granted := make([]Credential, grant)
	copy(granted, p.free[:grant])
	p.free = append(p.free[:0], p.free[grant:]...)
	id := uuid.NewString()
	p.leases[id] = granted
	p.notifyLocked()
	p.mu.Unlock()

	if grant < count {
		log.WithFields(log.Fields{"requested": count, "granted": grant, "reserve": reserve}).
			Warn("Credential allocation shrunk")
	}
	log.Debugf("Allocated %d credentials to lease %s", grant, id)

	out := make([]Credential, grant)
	copy(out, granted)
	return Lease{ID: id, Credentials: out}
}

// Release returns every credential of the lease to the free set.
// Unknown or already released ids are a no-op.
func (p *Pool) Release(leaseID string) {
	p.mu.Lock()
	creds, ok := p.leases[leaseID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.leases, leaseID)
	p.free = append(p.free, creds...)
	p.notifyLocked()
	p.mu.Unlock()

	log.Debugf("Released %d credentials from lease %s", len(creds), leaseID)
}

func (p *Pool) notifyLocked() {
	if p.onLeasedChange != nil {
		p.onLeasedChange(len(p.all) - len(p.free))
	}
}

// Available returns the number of unleased credentials
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Total returns the number of credentials owned by the pool
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Leased returns the number of credentials currently checked out
func (p *Pool) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all) - len(p.free)
}
