// Package wsforward tunnels a websocket upgrade request through to an
// upstream endpoint byte-for-byte, adapted from the teacher's
// internal/proxy/websocket.go (HandleDebugConnection's client-then-upstream
// dial order, proxyMessages' bidirectional pump) and generalized from a
// single hardcoded Chrome CDP endpoint to any in-session upstream URL the
// RequestRouter resolves.
package wsforward

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/xenonhq/xenon/internal/xlog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// IsUpgradeRequest reports whether r asks to upgrade to a websocket
// connection, checked the way net/http's own Hijacker callers do: the
// Connection header must contain the "upgrade" token (it may be a
// comma-separated list alongside "keep-alive") and Upgrade must name
// "websocket".
func IsUpgradeRequest(r *http.Request) bool {
	return headerContainsToken(r.Header, "Connection", "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h[http.CanonicalHeaderKey(name)] {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// UpstreamURL rewrites an http(s) base URL and path into its ws(s)
// equivalent, the way a CDP client derives a driver's debugger endpoint
// from its HTTP control URL.
func UpstreamURL(baseURL, path string) string {
	full := baseURL + path
	switch {
	case strings.HasPrefix(full, "https://"):
		return "wss://" + strings.TrimPrefix(full, "https://")
	case strings.HasPrefix(full, "http://"):
		return "ws://" + strings.TrimPrefix(full, "http://")
	default:
		return full
	}
}

// Forward upgrades the client's HTTP connection to a websocket, dials
// upstreamURL, and pumps frames between the two until either side closes.
// It returns once the tunnel has ended; by then the response has already
// been written (the upgrade handshake, or the upgrader's own HTTP error
// reply), so errors are for logging only.
func Forward(w http.ResponseWriter, r *http.Request, upstreamURL string) error {
	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrading client connection: %w", err)
	}
	defer clientConn.Close()

	upstreamConn, _, err := websocket.DefaultDialer.DialContext(r.Context(), upstreamURL, nil)
	if err != nil {
		clientConn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("error connecting upstream: %v", err)))
		return fmt.Errorf("dialing upstream %q: %w", upstreamURL, err)
	}
	defer upstreamConn.Close()

	errc := make(chan error, 2)
	go func() { errc <- pump(clientConn, upstreamConn, "client->upstream") }()
	go func() { errc <- pump(upstreamConn, clientConn, "upstream->client") }()

	err = <-errc
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func pump(src, dst *websocket.Conn, direction string) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				xlog.Default.Warnf("websocket tunnel error (%s): %v", direction, err)
			}
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
