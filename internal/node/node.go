// Package node tracks remote peer proxy nodes and their polled browser
// catalogs, grounded on original_source/src/nodes.rs's RemoteNode (catalog
// = service_groups, "only accept a fresher update" discipline) adapted to
// a pull-based poller instead of the original's push-based registration.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/xenonhq/xenon/internal/capabilities"
	"github.com/xenonhq/xenon/internal/config"
	"github.com/xenonhq/xenon/internal/xlog"
)

// BrowserSummary is one entry of a node's advertised catalog, the body
// shape returned by GET /node/config.
type BrowserSummary struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	OS      string `json:"os,omitempty"`
}

// Node is a known remote peer and its last-known catalog. The catalog is
// empty until the first successful poll; Reachable reflects only the most
// recent poll attempt, so a peer that goes away is never forgotten, only
// marked unreachable.
type Node struct {
	cfg config.NodeConfig

	mu        sync.RWMutex
	catalog   []BrowserSummary
	reachable bool
	polled    bool
}

func newNode(cfg config.NodeConfig) *Node {
	return &Node{cfg: cfg}
}

// Config returns the static configuration (name, url) this node was
// registered with.
func (n *Node) Config() config.NodeConfig { return n.cfg }

// Catalog returns the last successfully polled set of browser kinds this
// node offers. It is empty until the first successful poll.
func (n *Node) Catalog() []BrowserSummary {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]BrowserSummary, len(n.catalog))
	copy(out, n.catalog)
	return out
}

// Reachable reports whether the most recent poll succeeded.
func (n *Node) Reachable() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.reachable
}

// Matches reports whether this node's current catalog advertises a browser
// satisfying the given capability candidate. An unreachable or never-polled
// node never matches.
func (n *Node) Matches(c capabilities.Candidate) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.reachable {
		return false
	}
	for _, b := range n.catalog {
		if capabilities.MatchesSummary(b.Name, b.Version, b.OS, c) {
			return true
		}
	}
	return false
}

func (n *Node) recordSuccess(catalog []BrowserSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.catalog = catalog
	n.reachable = true
	n.polled = true
}

func (n *Node) recordFailure() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reachable = false
}

// Registry holds every configured remote node. It is built once at startup
// from the static node list in the config file and never mutated apart from
// the per-node catalog/reachability fields the poller updates.
type Registry struct {
	nodes []*Node
}

// NewRegistry builds a Registry from the configured peer nodes.
func NewRegistry(cfgs []config.NodeConfig) *Registry {
	r := &Registry{nodes: make([]*Node, 0, len(cfgs))}
	for _, cfg := range cfgs {
		r.nodes = append(r.nodes, newNode(cfg))
	}
	return r
}

// Nodes returns every known node, in configuration order.
func (r *Registry) Nodes() []*Node { return r.nodes }

// Match returns the first reachable node whose catalog satisfies the given
// candidate, or nil if none does. Configuration order is the tie-break,
// mirroring the local fleet's first-match-wins capability negotiation.
func (r *Registry) Match(c capabilities.Candidate) *Node {
	for _, n := range r.nodes {
		if n.Matches(c) {
			return n
		}
	}
	return nil
}

// AnyReachable reports whether at least one configured node answered its
// most recent poll, used to synthesize GET /status.
func (r *Registry) AnyReachable() bool {
	for _, n := range r.nodes {
		if n.Reachable() {
			return true
		}
	}
	return false
}

// pollInterval is a var, not a const, so tests can shrink it.
var pollInterval = 60 * time.Second

// Poller periodically refreshes every node's catalog. Each node is polled
// on its own goroutine so one unreachable peer never delays another, per
// the "polling is independent per node" requirement.
type Poller struct {
	registry *Registry
	client   *http.Client

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewPoller builds a Poller for the given registry. The HTTP client's
// per-call timeout is the poller's own request budget, independent of the
// poll cadence.
func NewPoller(registry *Registry) *Poller {
	return &Poller{
		registry: registry,
		client:   &http.Client{Timeout: 5 * time.Second},
		stop:     make(chan struct{}),
	}
}

// Start launches one polling goroutine per configured node. The first poll
// fires immediately; subsequent polls follow the ticker.
func (p *Poller) Start(ctx context.Context) {
	for _, n := range p.registry.nodes {
		n := n
		p.wg.Add(1)
		go p.run(ctx, n)
	}
}

func (p *Poller) run(ctx context.Context, n *Node) {
	defer p.wg.Done()

	p.pollOnce(ctx, n)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.pollOnce(ctx, n)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, n *Node) {
	catalog, err := p.fetchCatalog(ctx, n.cfg.URL)
	if err != nil {
		xlog.Default.Warnf("node %s (%s) unreachable: %v", n.cfg.Name, n.cfg.URL, err)
		n.recordFailure()
		return
	}
	n.recordSuccess(catalog)
}

func (p *Poller) fetchCatalog(ctx context.Context, baseURL string) ([]BrowserSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/node/config", nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node/config returned status %d", resp.StatusCode)
	}

	var catalog []BrowserSummary
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Stop halts all polling goroutines and blocks until they exit.
func (p *Poller) Stop() {
	close(p.stop)
	p.wg.Wait()
}
