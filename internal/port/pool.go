// Package port implements the fixed-size TCP port lease pool that
// BrowserProcesses bind to, grounded on original_source/src/portmanager.rs
// and adapted to the teacher's mutex-guarded-map concurrency idiom
// (internal/session/manager.go's sync.RWMutex-protected maps).
package port

import (
	"errors"
	"sort"
	"sync"
)

// ErrExhausted is returned by Lease when no port is currently available.
var ErrExhausted = errors.New("port pool exhausted")

// ErrNotLeased is the assertion failure for releasing a port that was
// never leased or is already available.
var ErrNotLeased = errors.New("port is not currently leased")

// Pool is a mutex-guarded set of TCP ports, each either available or
// leased to exactly one caller at a time. It never blocks: exhaustion is
// reported synchronously so callers can translate it into a load error.
type Pool struct {
	mu        sync.Mutex
	available map[int]bool
	leased    map[int]bool
	ordered   []int // deterministic lowest-first lease order
}

// NewPool creates a Pool over the given universe of ports. Duplicate ports
// are collapsed.
func NewPool(ports []int) *Pool {
	p := &Pool{
		available: make(map[int]bool, len(ports)),
		leased:    make(map[int]bool, len(ports)),
	}
	seen := make(map[int]bool, len(ports))
	for _, port := range ports {
		if seen[port] {
			continue
		}
		seen[port] = true
		p.available[port] = true
		p.ordered = append(p.ordered, port)
	}
	sort.Ints(p.ordered)
	return p
}

// Lease hands out the lowest-numbered currently-available port.
func (p *Pool) Lease() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, port := range p.ordered {
		if p.available[port] {
			delete(p.available, port)
			p.leased[port] = true
			return port, nil
		}
	}
	return 0, ErrExhausted
}

// Release returns a leased port to the available set. Releasing a port
// that was never part of the pool, or that is already available, is a
// programming error.
func (p *Pool) Release(port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.leased[port] {
		return ErrNotLeased
	}
	delete(p.leased, port)
	p.available[port] = true
	return nil
}

// Size reports the current count of available and leased ports.
func (p *Pool) Size() (available, leased int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available), len(p.leased)
}
