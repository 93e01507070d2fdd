/*
Package registry multiplexes many request/response exchanges over one relay connection.

Key Architectural Concepts:
  - Keyed Pending Table: every in-flight exchange is parked under its correlation key
    (message id for publish, subscription id for subscribe) until a terminal frame or
    its deadline releases it.
  - Single Ingress: the connection's read loop hands every inbound frame to Dispatch in
    transport order; dispatch never blocks on a caller.
  - At-Most-Once Release: registration, dispatch, timer expiry and connection failure all
    mutate pending state under one mutex, and Pending.finish only succeeds from Waiting.
  - Absorbed Anomalies: malformed, unmatched and late frames are logged and dropped here
    and never reach the exchanges.
*/
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/relay-probe/internal/domain/model"
	wsmarshaller "github.com/webitel/relay-probe/internal/handler/marshaller/ws"
)

// Registrar is the exchange-facing side of the correlator.
type Registrar interface {
	Register(req Request) (*Pending, error)
	// Cancel retires p with err, e.g. when its outbound frame never left.
	Cancel(p *Pending, err error) bool
}

// Observer receives correlator telemetry. Implementations must not block.
type Observer interface {
	FrameReceived(verb model.Verb)
	FrameDropped(reason string)
	ExchangeFinished(kind Kind, state State, elapsed time.Duration)
}

// Drop reasons reported to Observer.FrameDropped.
const (
	DropMalformed = "malformed"
	DropUnmatched = "unmatched"
	DropLate      = "late"
	DropIgnored   = "ignored"
)

// Correlator implements [REQUEST_CORRELATION] for one connection.
type Correlator struct {
	logger   *slog.Logger
	observer Observer
	settings settings

	mu      sync.Mutex
	pending map[string]*Pending
	// recent remembers keys that already left Waiting, so late frames can be told apart
	// from frames that never had an owner.
	recent *lru.Cache[string, State]
	// failure is set once the transport died; further registrations are refused.
	failure error
}

func NewCorrelator(logger *slog.Logger, opts ...Option) *Correlator {
	c := &Correlator{
		logger:   logger,
		pending:  make(map[string]*Pending),
		settings: defaultSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}

	recent, err := lru.New[string, State](c.settings.recentKeys)
	if err != nil {
		// Only a non-positive size fails; fall back to the default.
		recent, _ = lru.New[string, State](defaultRecentKeys)
	}
	c.recent = recent

	return c
}

// Register parks a new exchange under req.Key and arms its deadline.
func (c *Correlator) Register(req Request) (*Pending, error) {
	if req.Key == "" {
		return nil, fmt.Errorf("register: empty correlation key")
	}
	if req.Timeout <= 0 {
		req.Timeout = c.settings.defaultTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failure != nil {
		return nil, c.failure
	}
	if _, exists := c.pending[req.Key]; exists {
		return nil, fmt.Errorf("register %s %q: %w", req.Kind, req.Key, model.ErrDuplicateKey)
	}

	p := newPending(req)
	c.pending[req.Key] = p
	// The callback takes the same mutex, so it cannot observe p before this returns.
	p.timer = time.AfterFunc(req.Timeout, func() { c.expire(p) })

	c.logger.Debug("[CORRELATOR] registered",
		slog.String("key", req.Key),
		slog.String("kind", string(req.Kind)),
		slog.Duration("timeout", req.Timeout),
	)
	return p, nil
}

// Cancel finishes p as Failed with err and frees its key. It reports false when p
// had already been released.
func (c *Correlator) Cancel(p *Pending, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.state != Waiting {
		return false
	}
	c.finishLocked(p, Failed, model.Frame{}, err)
	return true
}

// HandleFrame is the connection ingress. Decode failures are absorbed.
func (c *Correlator) HandleFrame(data []byte) {
	f, err := wsmarshaller.Decode(data)
	if err != nil {
		c.observer.FrameDropped(DropMalformed)
		c.logger.Warn("MALFORMED_FRAME_DROPPED", "err", err, "bytes", len(data))
		return
	}
	c.Dispatch(f)
}

// Dispatch routes one decoded frame to the pending exchange owning its key.
func (c *Correlator) Dispatch(f model.Frame) {
	c.observer.FrameReceived(f.Verb())

	if f.Verb() == model.VerbNotice {
		c.logger.Info("[RELAY] notice", slog.String("text", wsmarshaller.ParseNotice(f)))
		return
	}

	key, ok := f.CorrelationKey()
	if !ok {
		c.observer.FrameDropped(DropMalformed)
		c.logger.Warn("MALFORMED_FRAME_DROPPED", "verb", f.Verb(), "err", "missing correlation key")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[key]
	if !ok {
		if state, seen := c.recent.Get(key); seen {
			c.observer.FrameDropped(DropLate)
			c.logger.Debug("LATE_FRAME_DROPPED", "key", key, "verb", f.Verb(), "finished_as", state.String())
		} else {
			c.observer.FrameDropped(DropUnmatched)
			c.logger.Debug("UNMATCHED_FRAME_DROPPED", "key", key, "verb", f.Verb())
		}
		return
	}

	switch {
	case p.isTerminal(f.Verb()):
		c.finishLocked(p, Completed, f, nil)
	case f.Verb() == model.VerbEvent:
		p.frames = append(p.frames, f)
	default:
		c.observer.FrameDropped(DropIgnored)
		c.logger.Debug("FRAME_IGNORED", "key", key, "verb", f.Verb(), "kind", p.kind)
	}
}

// HandleFailure releases every pending exchange with a terminal transport failure and
// refuses new registrations. A graceful close is passed through as ErrConnectionClosed.
func (c *Correlator) HandleFailure(err error) {
	if errors.Is(err, model.ErrConnectionClosed) || errors.Is(err, model.ErrConnectionFailed) {
		c.failAll(err)
		return
	}
	c.failAll(fmt.Errorf("%w: %v", model.ErrConnectionFailed, err))
}

// Shutdown releases whatever is still waiting because the connection is going away.
func (c *Correlator) Shutdown() {
	c.failAll(model.ErrConnectionClosed)
}

// Len returns the number of exchanges currently waiting.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failure == nil {
		c.failure = err
	}
	for _, p := range c.pending {
		c.finishLocked(p, Failed, model.Frame{}, err)
	}
}

// expire is the deadline callback. It loses silently if a terminal frame or failure
// already released p.
func (c *Correlator) expire(p *Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.state != Waiting {
		return
	}

	var err error
	if p.requireResults && len(p.frames) == 0 {
		err = fmt.Errorf("%s %q: %w", p.kind, p.key, model.ErrNoResponse)
	}
	c.finishLocked(p, TimedOut, model.Frame{}, err)
}

func (c *Correlator) finishLocked(p *Pending, state State, final model.Frame, err error) {
	if !p.finish(state, final, err) {
		return
	}
	if cur, ok := c.pending[p.key]; ok && cur == p {
		delete(c.pending, p.key)
	}
	c.recent.Add(p.key, state)
	c.observer.ExchangeFinished(p.kind, state, p.result.Elapsed)

	c.logger.Debug("[CORRELATOR] released",
		slog.String("key", p.key),
		slog.String("kind", string(p.kind)),
		slog.String("state", state.String()),
		slog.Int("accumulated", len(p.frames)),
	)
}

type nopObserver struct{}

func (nopObserver) FrameReceived(model.Verb)                    {}
func (nopObserver) FrameDropped(string)                         {}
func (nopObserver) ExchangeFinished(Kind, State, time.Duration) {}
