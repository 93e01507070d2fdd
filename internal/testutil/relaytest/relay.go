// Package relaytest runs an in-memory relay behind httptest for exchange and scenario tests.
package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
)

// Relay is a minimal relay: it stores published messages, answers REQ by filter
// matching, and can be told to misbehave.
type Relay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	opts     options

	mu       sync.Mutex
	events   []nostr.Event
	received [][]json.RawMessage
	conns    map[*websocket.Conn]struct{}
}

type options struct {
	dropOK     bool
	dropEOSE   bool
	reject     string
	inject     []string
	info       map[string]any
	skipStore  bool
	closeOnReq bool
	looseIDs   bool
}

type Option func(*options)

// WithoutOK never acknowledges published messages.
func WithoutOK() Option { return func(o *options) { o.dropOK = true } }

// WithoutEOSE never terminates stored-result delivery.
func WithoutEOSE() Option { return func(o *options) { o.dropEOSE = true } }

// WithRejection answers every publish with ["OK", id, false, reason] and does not store.
func WithRejection(reason string) Option { return func(o *options) { o.reject = reason } }

// WithInjectedFrames writes raw text frames between stored results and EOSE.
func WithInjectedFrames(frames ...string) Option {
	return func(o *options) { o.inject = append(o.inject, frames...) }
}

// WithInfo sets the capability document served to Accept: application/nostr+json.
func WithInfo(doc map[string]any) Option { return func(o *options) { o.info = doc } }

// WithoutIndexing acknowledges publishes but never makes them queryable.
func WithoutIndexing() Option { return func(o *options) { o.skipStore = true } }

// WithLooseIDs ignores the ids dimension of filters, so an id query also returns
// every other stored message that passes the remaining dimensions.
func WithLooseIDs() Option { return func(o *options) { o.looseIDs = true } }

// WithDisconnectOnReq drops the socket without a close frame when a REQ arrives.
func WithDisconnectOnReq() Option { return func(o *options) { o.closeOnReq = true } }

func New(t testing.TB, opts ...Option) *Relay {
	t.Helper()

	r := &Relay{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(map[*websocket.Conn]struct{}),
		opts: options{
			info: map[string]any{
				"name":           "relaytest",
				"supported_nips": []int{1, 11, 12},
			},
		},
	}
	for _, opt := range opts {
		opt(&r.opts)
	}

	router := chi.NewRouter()
	router.Get("/", r.serveRoot)

	r.server = httptest.NewServer(router)
	t.Cleanup(r.Close)

	return r
}

// URL is the ws:// endpoint.
func (r *Relay) URL() string { return "ws" + strings.TrimPrefix(r.server.URL, "http") }

// HTTPURL is the http:// endpoint used for capability discovery.
func (r *Relay) HTTPURL() string { return r.server.URL }

func (r *Relay) Close() {
	r.mu.Lock()
	for c := range r.conns {
		_ = c.Close()
	}
	r.mu.Unlock()
	r.server.Close()
}

// Store preloads a message as if it had been published earlier.
func (r *Relay) Store(ev nostr.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns stored messages.
func (r *Relay) Events() []nostr.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]nostr.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Received returns every inbound command with the given verb, in arrival order.
func (r *Relay) Received(verb string) [][]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out [][]json.RawMessage
	for _, parts := range r.received {
		var v string
		if err := json.Unmarshal(parts[0], &v); err == nil && v == verb {
			out = append(out, parts)
		}
	}
	return out
}

// ClosedSubscriptions lists the subscription ids of received CLOSE commands.
func (r *Relay) ClosedSubscriptions() []string {
	var ids []string
	for _, parts := range r.Received("CLOSE") {
		var id string
		if len(parts) > 1 && json.Unmarshal(parts[1], &id) == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Relay) serveRoot(w http.ResponseWriter, req *http.Request) {
	if websocket.IsWebSocketUpgrade(req) {
		r.serveWS(w, req)
		return
	}
	if req.Header.Get("Accept") == "application/nostr+json" {
		w.Header().Set("Content-Type", "application/nostr+json")
		_ = json.NewEncoder(w).Encode(r.opts.info)
		return
	}
	http.Error(w, "relaytest: websocket or nostr+json only", http.StatusBadRequest)
}

func (r *Relay) serveWS(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns[ws] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.conns, ws)
		r.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var parts []json.RawMessage
		if err := json.Unmarshal(data, &parts); err != nil || len(parts) == 0 {
			r.write(ws, "NOTICE", "invalid: not a json array")
			continue
		}

		r.mu.Lock()
		r.received = append(r.received, parts)
		r.mu.Unlock()

		var verb string
		_ = json.Unmarshal(parts[0], &verb)

		switch verb {
		case "EVENT":
			r.onEvent(ws, parts)
		case "REQ":
			if r.opts.closeOnReq {
				// Abrupt drop: no close frame, so the client sees a transport error.
				_ = ws.UnderlyingConn().Close()
				return
			}
			r.onReq(ws, parts)
		case "CLOSE":
		default:
			r.write(ws, "NOTICE", "unsupported verb: "+verb)
		}
	}
}

func (r *Relay) onEvent(ws *websocket.Conn, parts []json.RawMessage) {
	if len(parts) < 2 {
		r.write(ws, "NOTICE", "invalid: EVENT without message")
		return
	}
	var ev nostr.Event
	if err := json.Unmarshal(parts[1], &ev); err != nil {
		r.write(ws, "NOTICE", "invalid: "+err.Error())
		return
	}

	if r.opts.reject != "" {
		r.write(ws, "OK", ev.ID, false, r.opts.reject)
		return
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		r.write(ws, "OK", ev.ID, false, "invalid: bad signature")
		return
	}

	if !r.opts.skipStore {
		r.Store(ev)
	}
	if !r.opts.dropOK {
		r.write(ws, "OK", ev.ID, true, "")
	}
}

func (r *Relay) onReq(ws *websocket.Conn, parts []json.RawMessage) {
	if len(parts) < 3 {
		r.write(ws, "NOTICE", "invalid: REQ needs a subscription id and a filter")
		return
	}
	var subID string
	if err := json.Unmarshal(parts[1], &subID); err != nil {
		r.write(ws, "NOTICE", "invalid: subscription id")
		return
	}
	var filter nostr.Filter
	if err := json.Unmarshal(parts[2], &filter); err != nil {
		r.write(ws, "NOTICE", "invalid: filter")
		return
	}

	if r.opts.looseIDs {
		filter.IDs = nil
	}

	sent := 0
	for _, ev := range r.Events() {
		if filter.Limit > 0 && sent >= filter.Limit {
			break
		}
		if filter.Matches(&ev) {
			r.write(ws, "EVENT", subID, ev)
			sent++
		}
	}

	for _, raw := range r.opts.inject {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(raw))
	}

	if !r.opts.dropEOSE {
		r.write(ws, "EOSE", subID)
	}
}

func (r *Relay) write(ws *websocket.Conn, parts ...any) {
	data, err := json.Marshal(parts)
	if err != nil {
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, data)
}
