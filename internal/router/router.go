// Package router implements the RequestRouter: it classifies inbound W3C
// WebDriver HTTP requests, admits or looks up an upstream, forwards the
// request, rewrites session ids, and coerces router-originated failures
// into W3C error envelopes. Grounded on the teacher's internal/api package
// (mux.Router wiring in server.go, Handler-struct-with-deps and
// mux.Vars(r) idiom in handlers.go) and on
// original_source/src/server.rs for the routing table and session-id
// translation rules.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/xenonhq/xenon/internal/capabilities"
	"github.com/xenonhq/xenon/internal/fleet"
	"github.com/xenonhq/xenon/internal/node"
	"github.com/xenonhq/xenon/internal/ratelimit"
	"github.com/xenonhq/xenon/internal/session"
	"github.com/xenonhq/xenon/internal/wsforward"
	"github.com/xenonhq/xenon/internal/xerr"
	"github.com/xenonhq/xenon/internal/xlog"
)

// hopByHopHeaders must never be forwarded in either direction; they are
// meaningful only for a single transport hop.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func copyForwardableHeaders(dst, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// Router is the RequestRouter. One Router serves an entire process: every
// configured browser fleet, the registry of peer nodes, and the session
// directory they share.
type Router struct {
	fleets   []*fleet.Fleet
	nodes    *node.Registry
	sessions *session.Directory
	client   *http.Client
	limiter  *ratelimit.Limiter

	newSessionTimeout time.Duration
	inSessionTimeout  time.Duration
}

// New builds a Router over the given fleets (one per configured browser
// kind, in configuration order so capability negotiation is deterministic),
// node registry, and session directory.
func New(fleets []*fleet.Fleet, nodes *node.Registry, sessions *session.Directory) *Router {
	return &Router{
		fleets:            fleets,
		nodes:             nodes,
		sessions:          sessions,
		client:            &http.Client{},
		limiter:           ratelimit.NewLimiter(5, 20),
		newSessionTimeout: 60 * time.Second,
		inSessionTimeout:  30 * time.Second,
	}
}

// Handler builds the http.Handler that serves the full WebDriver surface
// under both "/" and "/wd/hub/", per the Selenium-hub-compatibility prefix
// rule: the prefix is stripped before classification.
func (rt *Router) Handler() http.Handler {
	m := mux.NewRouter()
	m.HandleFunc("/session", rt.rateLimited(rt.handleNewSession)).Methods(http.MethodPost)
	m.HandleFunc("/session/{id}", rt.handleEndSession).Methods(http.MethodDelete)
	m.PathPrefix("/session/{id}/").HandlerFunc(rt.handleInSession)
	m.HandleFunc("/status", rt.handleStatus).Methods(http.MethodGet)
	m.HandleFunc("/node/config", rt.handleNodeConfig).Methods(http.MethodGet)
	m.NotFoundHandler = http.HandlerFunc(rt.handleUnknown)

	return stripHubPrefix(m)
}

// stripHubPrefix removes a leading "/wd/hub" from the request path before
// the mux router ever sees it, so classification is identical under both
// prefixes.
func stripHubPrefix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/wd/hub":
			r.URL.Path = "/"
		case strings.HasPrefix(r.URL.Path, "/wd/hub/"):
			r.URL.Path = strings.TrimPrefix(r.URL.Path, "/wd/hub")
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := sourceIP(r)
		if key != "" && !rt.limiter.Allow(key) {
			xerr.New(xerr.KindSessionNotCreated, "too many session requests from this client").WriteTo(w)
			return
		}
		next(w, r)
	}
}

func sourceIP(r *http.Request) string {
	if i := strings.LastIndex(r.RemoteAddr, ":"); i != -1 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}

// handleNewSession implements the NewSession flow documented in
// SPEC_FULL.md's RequestRouter section: parse capabilities, try every
// local fleet, fall back to every matching remote node, and translate
// whichever upstream accepts into an externally-minted session id.
func (rt *Router) handleNewSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		xerr.New(xerr.KindBadRequest, "failed to read request body").WriteTo(w)
		return
	}

	candidates, err := capabilities.Parse(body)
	if err != nil {
		xerr.New(xerr.KindBadRequest, "invalid capabilities: "+err.Error()).WriteTo(w)
		return
	}
	if len(candidates) == 0 {
		xerr.New(xerr.KindBadRequest, "no capabilities supplied").WriteTo(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), rt.newSessionTimeout)
	defer cancel()

	var capacityErr error
	for _, c := range candidates {
		for _, f := range rt.fleets {
			if !capabilities.Matches(f.Config(), c) {
				continue
			}
			lease, err := f.Acquire(ctx)
			if err != nil {
				capacityErr = err
				continue
			}
			rt.completeLocalNewSession(ctx, w, r, f, lease, body)
			return
		}
	}

	for _, c := range candidates {
		for _, n := range rt.nodes.Nodes() {
			if !n.Matches(c) {
				continue
			}
			if rt.completeRemoteNewSession(ctx, w, r, n, body) {
				return
			}
		}
	}

	if capacityErr != nil {
		xerr.WriteError(w, capacityErr)
		return
	}
	xerr.New(xerr.KindSessionNotCreated, "no matching browser available").WriteTo(w)
}

func (rt *Router) completeLocalNewSession(ctx context.Context, w http.ResponseWriter, r *http.Request, f *fleet.Fleet, lease *fleet.Lease, body []byte) {
	baseURL := lease.Process().BaseURL()

	resp, err := rt.doForward(ctx, http.MethodPost, baseURL, "/session", r.Header, body)
	if err != nil {
		f.Release(lease)
		xerr.WriteError(w, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		f.Release(lease)
		xerr.Wrap(xerr.KindUpstreamUnreachable, err).WriteTo(w)
		return
	}

	if resp.StatusCode >= 300 {
		f.Release(lease)
		copyForwardableHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		w.Write(respBody)
		return
	}

	externalID := uuid.New().String()
	rewritten, upstreamID, err := extractAndReplaceSessionID(respBody, externalID)
	if err != nil {
		f.Release(lease)
		xerr.Wrap(xerr.KindUpstreamUnreachable, err).WriteTo(w)
		return
	}

	rt.sessions.Insert(externalID, &session.Upstream{
		Lease:             lease,
		UpstreamSessionID: upstreamID,
		Browser:           f.Name(),
	})

	copyForwardableHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(rewritten)
}

func (rt *Router) completeRemoteNewSession(ctx context.Context, w http.ResponseWriter, r *http.Request, n *node.Node, body []byte) bool {
	resp, err := rt.doForward(ctx, http.MethodPost, n.Config().URL, "/session", r.Header, body)
	if err != nil {
		xlog.Default.Warnf("new session forward to node %s failed: %v", n.Config().Name, err)
		return false
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}

	if resp.StatusCode >= 300 {
		return false
	}

	externalID := uuid.New().String()
	rewritten, upstreamID, err := extractAndReplaceSessionID(respBody, externalID)
	if err != nil {
		return false
	}

	rt.sessions.Insert(externalID, &session.Upstream{
		Node:              n,
		UpstreamSessionID: upstreamID,
	})

	copyForwardableHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(rewritten)
	return true
}

// handleEndSession implements the EndSession flow: forward the delete,
// then unconditionally remove the session and release its lease, since an
// ending session is torn down whether or not the upstream's response
// indicated success.
func (rt *Router) handleEndSession(w http.ResponseWriter, r *http.Request) {
	externalID := mux.Vars(r)["id"]

	u, ok := rt.sessions.Get(externalID)
	if !ok {
		xerr.New(xerr.KindInvalidSessionID, "unknown session id "+externalID).WriteTo(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), rt.inSessionTimeout)
	defer cancel()

	path := "/session/" + u.UpstreamSessionID
	resp, err := rt.doForward(ctx, http.MethodDelete, u.BaseURL(), path, r.Header, nil)

	rt.sessions.Remove(externalID)
	if !u.IsRemote() {
		rt.fleetFor(u.Browser).Release(u.Lease)
	}

	if err != nil {
		xerr.WriteError(w, err)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	respBody = rewriteSessionIDInBody(respBody, u.UpstreamSessionID, externalID)

	copyForwardableHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

// handleInSession implements the InSession flow: look up the session,
// rewrite the path segment to the upstream's own id, forward everything
// else verbatim, and rewrite any echoed session id in the response.
func (rt *Router) handleInSession(w http.ResponseWriter, r *http.Request) {
	externalID := mux.Vars(r)["id"]

	u, ok := rt.sessions.Get(externalID)
	if !ok {
		xerr.New(xerr.KindInvalidSessionID, "unknown session id "+externalID).WriteTo(w)
		return
	}
	u.Touch()

	suffix := strings.TrimPrefix(r.URL.Path, "/session/"+externalID)
	path := "/session/" + u.UpstreamSessionID + suffix
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	if wsforward.IsUpgradeRequest(r) {
		upstreamURL := wsforward.UpstreamURL(u.BaseURL(), path)
		if err := wsforward.Forward(w, r, upstreamURL); err != nil {
			xlog.Default.Warnf("websocket tunnel for session %s ended: %v", externalID, err)
		}
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		xerr.New(xerr.KindBadRequest, "failed to read request body").WriteTo(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), rt.inSessionTimeout)
	defer cancel()

	resp, err := rt.doForward(ctx, r.Method, u.BaseURL(), path, r.Header, body)
	if err != nil {
		xerr.WriteError(w, err)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	respBody = rewriteSessionIDInBody(respBody, u.UpstreamSessionID, externalID)

	if sessionIsGone(resp.StatusCode, respBody) {
		rt.sessions.Remove(externalID)
		if !u.IsRemote() {
			rt.fleetFor(u.Browser).Release(u.Lease)
		}
	}

	copyForwardableHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

func (rt *Router) fleetFor(name string) *fleet.Fleet {
	for _, f := range rt.fleets {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// handleStatus synthesizes GET /status: ready if any fleet has spare
// capacity or any peer node is currently reachable.
func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	ready := false
	for _, f := range rt.fleets {
		if f.HasCapacity() {
			ready = true
			break
		}
	}
	if !ready && rt.nodes.AnyReachable() {
		ready = true
	}

	body := struct {
		Ready   bool   `json:"ready"`
		Message string `json:"message"`
	}{Ready: ready}
	if ready {
		body.Message = "ok"
	} else {
		body.Message = "no capacity"
	}

	writeJSON(w, http.StatusOK, body)
}

// handleNodeConfig replies with this instance's own browser catalog, the
// same shape a peer's poller consumes from us.
func (rt *Router) handleNodeConfig(w http.ResponseWriter, r *http.Request) {
	catalog := make([]node.BrowserSummary, 0, len(rt.fleets))
	for _, f := range rt.fleets {
		cfg := f.Config()
		catalog = append(catalog, node.BrowserSummary{Name: cfg.Name, Version: cfg.Version, OS: cfg.OS})
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (rt *Router) handleUnknown(w http.ResponseWriter, r *http.Request) {
	xerr.New(xerr.KindNotFound, "no route for "+r.Method+" "+r.URL.Path).WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// doForward issues one proxied request to an upstream, translating
// transport failures into the router's own error taxonomy.
func (rt *Router) doForward(ctx context.Context, method, baseURL, path string, header http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, xerr.Wrap(xerr.KindBadRequest, err)
	}
	copyForwardableHeaders(req.Header, header)
	if req.Header.Get("Content-Type") == "" && len(body) > 0 {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := rt.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerr.New(xerr.KindTimeout, "upstream request timed out")
		}
		return nil, xerr.Wrap(xerr.KindUpstreamUnreachable, err)
	}
	return resp, nil
}

// sessionIsGone reports whether an upstream's response indicates the
// session no longer exists there, in which case the router tears down its
// own bookkeeping rather than waiting for an explicit EndSession.
func sessionIsGone(status int, body []byte) bool {
	if status != http.StatusNotFound {
		return false
	}
	var envelope struct {
		Value struct {
			Error string `json:"error"`
		} `json:"value"`
	}
	if json.Unmarshal(body, &envelope) != nil {
		return false
	}
	switch envelope.Value.Error {
	case "invalid session id", "no such session", "session not found":
		return true
	default:
		return false
	}
}
