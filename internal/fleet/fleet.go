// Package fleet implements the per-browser-kind pool of supervised driver
// processes, grounded on original_source/src/service.rs's ServiceGroup
// (packing policy, capacity checks) and adapted to the teacher's
// single-mutex serialization idiom (internal/session/manager.go).
package fleet

import (
	"context"
	"fmt"
	"sync"

	"github.com/xenonhq/xenon/internal/config"
	"github.com/xenonhq/xenon/internal/port"
	"github.com/xenonhq/xenon/internal/process"
	"github.com/xenonhq/xenon/internal/xerr"
	"github.com/xenonhq/xenon/internal/xlog"
)

// Lease is a handle to an acquired session slot on a process, returned by
// Acquire and required by Release so that accounting cannot be fooled by
// a caller passing an arbitrary *process.Process.
type Lease struct {
	proc *process.Process
}

// Fleet owns every supervised driver process for one configured browser
// kind and enforces its session and process-count caps. A single mutex
// serializes every capacity decision, per the design notes' "a single
// mutex (or owner task) per fleet" requirement.
type Fleet struct {
	cfg  config.BrowserConfig
	pool *port.Pool

	mu        sync.Mutex
	processes []*process.Process // creation order, for packing tie-breaks
	pending   int                // processes currently Starting, reserved against max_sessions
}

// New creates a Fleet for one browser kind, sharing the given port pool
// with every other fleet.
func New(cfg config.BrowserConfig, pool *port.Pool) *Fleet {
	return &Fleet{cfg: cfg, pool: pool}
}

// Name is the configured browser kind's name.
func (f *Fleet) Name() string { return f.cfg.Name }

// Config returns the browser configuration this fleet was built from.
func (f *Fleet) Config() config.BrowserConfig { return f.cfg }

// Errors returned by Acquire in addition to *xerr.Error cases.
var (
	// ErrFull indicates no capacity remains right now.
	ErrFull = xerr.New(xerr.KindSessionNotCreated, "capacity: browser session limit reached")
)

func (f *Fleet) processCountCap() int {
	n := f.cfg.MaxSessions / f.cfg.SessionsPerDriver
	if f.cfg.MaxSessions%f.cfg.SessionsPerDriver != 0 {
		n++
	}
	return n
}

// totalSessions sums sessions across all live processes. Caller must hold
// f.mu.
func (f *Fleet) totalSessionsLocked() int {
	total := 0
	for _, p := range f.processes {
		total += p.SessionCount()
	}
	return total
}

// pickLocked selects the best existing Ready process with spare capacity:
// highest current session count that still has room (packs sessions,
// frees empty processes sooner), ties broken by creation order. Caller
// must hold f.mu.
func (f *Fleet) pickLocked() *process.Process {
	var best *process.Process
	bestSessions := -1
	for _, p := range f.processes {
		if p.State() != process.Ready {
			continue
		}
		n := p.SessionCount()
		if n >= f.cfg.SessionsPerDriver {
			continue
		}
		if n > bestSessions {
			bestSessions = n
			best = p
		}
	}
	return best
}

// Acquire selects an existing process with spare capacity, or spawns a new
// one, and reserves one session slot on it.
func (f *Fleet) Acquire(ctx context.Context) (*Lease, error) {
	f.mu.Lock()

	total := f.totalSessionsLocked() + f.pending
	if total >= f.cfg.MaxSessions {
		f.mu.Unlock()
		return nil, ErrFull
	}

	// The per-process reuse fast-path must still respect the fleet-wide
	// cap: when max_sessions isn't an exact multiple of sessions_per_driver,
	// an existing process can have spare per-process room even though the
	// fleet as a whole is already at max_sessions (checked above), so this
	// must never be reordered ahead of that check.
	if p := f.pickLocked(); p != nil {
		if !p.AcceptSession() {
			// Raced with a concurrent release/terminate; fall through to
			// the spawn path below rather than returning a stale handle.
		} else {
			f.mu.Unlock()
			return &Lease{proc: p}, nil
		}
	}

	if len(f.processes)+f.pendingProcessCount() >= f.processCountCap() {
		f.mu.Unlock()
		return nil, ErrFull
	}

	leasedPort, err := f.pool.Lease()
	if err != nil {
		f.mu.Unlock()
		return nil, ErrFull
	}
	f.pending++
	f.mu.Unlock()

	newProc, spawnErr := process.Spawn(ctx, f.cfg, leasedPort, f.onProcessDead)

	f.mu.Lock()
	f.pending--
	if spawnErr != nil {
		f.mu.Unlock()
		// process.Spawn already terminated the half-started process on
		// failure; its onProcessDead callback (f.onProcessDead) reclaims
		// the leased port once that teardown completes, so we must not
		// release it again here.
		return nil, spawnErr
	}

	f.processes = append(f.processes, newProc)
	f.mu.Unlock()

	if !newProc.AcceptSession() {
		// Can't happen: the process was just created with zero sessions
		// and sessions_per_driver is always >= 1.
		return nil, xerr.New(xerr.KindInternal, "newly spawned process rejected its first session")
	}

	return &Lease{proc: newProc}, nil
}

// pendingProcessCount reserves room for in-flight spawns when checking the
// process-count cap. Caller must hold f.mu.
func (f *Fleet) pendingProcessCount() int {
	return f.pending
}

// Release returns a session slot. If the process is now idle it is
// recycled immediately: terminated and its port reclaimed once it
// actually exits. This keeps "leased ports == live processes" trivially
// true without warm-pool bookkeeping.
func (f *Fleet) Release(l *Lease) {
	idle := l.proc.ReleaseSession()
	if idle {
		go l.proc.Terminate(context.Background())
	}
}

// onProcessDead is called exactly once, from the process's own supervisor
// goroutine, the moment it exits for any reason (graceful shutdown, crash,
// or kill). It drops the process from the roster and reclaims its port.
func (f *Fleet) onProcessDead(p *process.Process) {
	f.mu.Lock()
	for i, candidate := range f.processes {
		if candidate == p {
			f.processes = append(f.processes[:i], f.processes[i+1:]...)
			break
		}
	}
	f.mu.Unlock()

	if err := f.pool.Release(p.Port); err != nil {
		xlog.Default.Warnf("fleet %s: releasing port %d for dead process %s: %v", f.cfg.Name, p.Port, p.ID, err)
	}
}

// HasCapacity reports whether this fleet could admit one more session
// right now (used to synthesize GET /status).
func (f *Fleet) HasCapacity() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.totalSessionsLocked()+f.pending < f.cfg.MaxSessions {
		return true
	}
	return false
}

// TotalSessions reports the current total session count across all live
// processes in this fleet (for introspection/tests).
func (f *Fleet) TotalSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalSessionsLocked()
}

// ProcessCount reports the current number of live processes (for
// introspection/tests).
func (f *Fleet) ProcessCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.processes)
}

// Process returns the underlying process a lease refers to, used by the
// router to obtain a forwarding base URL.
func (l *Lease) Process() *process.Process { return l.proc }

// Shutdown terminates every live process in this fleet and blocks until
// each has exited, releasing its port.
func (f *Fleet) Shutdown(ctx context.Context) {
	f.mu.Lock()
	procs := make([]*process.Process, len(f.processes))
	copy(procs, f.processes)
	f.mu.Unlock()

	for _, p := range procs {
		p.Terminate(ctx)
	}
}

func (f *Fleet) String() string {
	return fmt.Sprintf("fleet(%s, processes=%d, sessions=%d/%d)", f.cfg.Name, f.ProcessCount(), f.TotalSessions(), f.cfg.MaxSessions)
}
