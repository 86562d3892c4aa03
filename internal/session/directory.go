// Package session implements the SessionDirectory, the authoritative map
// from externally-visible session ID to the upstream currently serving it,
// grounded on original_source/src/state.rs's XenonState session index
// (HashMap<XenonSessionId, (ServiceGroupName, ServicePort)>) and adapted to
// the teacher's mutex-guarded-map concurrency idiom.
package session

import (
	"sync"
	"time"

	"github.com/xenonhq/xenon/internal/fleet"
	"github.com/xenonhq/xenon/internal/node"
)

// Upstream is whatever is currently serving one session: either a leased
// local BrowserProcess, or a remote node plus the session ID that node
// knows it by. Exactly one of Lease/Node is set.
type Upstream struct {
	Lease *fleet.Lease
	Node  *node.Node

	// UpstreamSessionID is the session ID as known to the upstream, minted
	// by whichever driver or node created the session. The router always
	// translates between this and the externally-visible ID, for local
	// and remote upstreams alike (see SPEC_FULL.md's session-id
	// translation policy).
	UpstreamSessionID string

	Browser string

	CreatedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
}

// IsRemote reports whether this upstream is a peer node rather than a
// local process.
func (u *Upstream) IsRemote() bool { return u.Node != nil }

// BaseURL is where requests for this session should be forwarded.
func (u *Upstream) BaseURL() string {
	if u.IsRemote() {
		return u.Node.Config().URL
	}
	return u.Lease.Process().BaseURL()
}

// Touch records that a request was just forwarded for this session.
func (u *Upstream) Touch() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastActivity = time.Now()
}

// LastActivity returns the time of the most recently forwarded request.
func (u *Upstream) LastActivity() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastActivity
}

// Directory maps external session IDs to their upstream. It is read far
// more often than written (every in-session request is a lookup, only
// NewSession/EndSession write), so it is guarded by a RWMutex rather than
// a plain Mutex.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*Upstream
}

// NewDirectory creates an empty SessionDirectory.
func NewDirectory() *Directory {
	return &Directory{sessions: make(map[string]*Upstream)}
}

// Insert records a new session. It overwrites any existing entry for the
// same ID, which should never happen given IDs are freshly minted UUIDs.
func (d *Directory) Insert(externalID string, u *Upstream) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.Touch()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[externalID] = u
}

// Get looks up a session's upstream by its external ID.
func (d *Directory) Get(externalID string) (*Upstream, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.sessions[externalID]
	return u, ok
}

// Remove deletes a session's entry, returning its upstream if it existed.
func (d *Directory) Remove(externalID string) (*Upstream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.sessions[externalID]
	if ok {
		delete(d.sessions, externalID)
	}
	return u, ok
}

// Count returns the number of sessions currently tracked.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}
