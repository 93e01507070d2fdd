package wsconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/relay-probe/internal/domain/model"
	wsmarshaller "github.com/webitel/relay-probe/internal/handler/marshaller/ws"
)

// State is the socket lifecycle.
type State int32

const (
	Connecting State = iota
	Open
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handler is the single consumer of inbound traffic. HandleFrame is called from one
// goroutine in transport order; HandleFailure at most once.
type Handler interface {
	HandleFrame(data []byte)
	HandleFailure(err error)
}

// Sender is what exchanges need from a connection.
type Sender interface {
	Send(f model.Frame) error
}

// Interface guard
var _ Sender = (*Conn)(nil)

// Conn owns one duplex websocket to a relay. It carries no protocol semantics.
type Conn struct {
	url     string
	ws      *websocket.Conn
	handler Handler
	logger  *slog.Logger
	config  config

	state atomic.Int32

	// gorilla allows a single concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	doneCh    chan struct{}
}

// Dial performs the handshake and starts the read loop. handler must be ready to
// receive frames before Dial returns.
func Dial(ctx context.Context, url string, handler Handler, logger *slog.Logger, opts ...Option) (*Conn, error) {
	c := &Conn{
		url:     url,
		handler: handler,
		logger:  logger.With(slog.String("relay", url)),
		config:  defaultConfig(),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&c.config)
	}
	c.state.Store(int32(Connecting))

	dialCtx, cancel := context.WithTimeout(ctx, c.config.dialTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.dialTimeout,
	}

	ws, resp, err := dialer.DialContext(dialCtx, url, c.config.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.state.Store(int32(Failed))
		close(c.doneCh)
		return nil, fmt.Errorf("%w: dial %s: %v", model.ErrConnectionFailed, url, err)
	}

	if c.config.maxFrameBytes > 0 {
		ws.SetReadLimit(c.config.maxFrameBytes)
	}

	c.ws = ws
	c.state.Store(int32(Open))
	c.logger.Info("[RELAY] connected")

	go c.readLoop()

	return c, nil
}

func (c *Conn) State() State { return State(c.state.Load()) }
func (c *Conn) URL() string  { return c.url }

// Done is closed once the read loop has exited.
func (c *Conn) Done() <-chan struct{} { return c.doneCh }

// Send encodes and writes one frame.
func (c *Conn) Send(f model.Frame) error {
	if c.State() != Open {
		return fmt.Errorf("send %s: %w", f.Verb(), model.ErrConnectionClosed)
	}

	data, err := wsmarshaller.Encode(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Re-check under the write lock: Close may have won the race.
	if c.State() != Open {
		return fmt.Errorf("send %s: %w", f.Verb(), model.ErrConnectionClosed)
	}

	if c.config.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.fail(err)
		return fmt.Errorf("%w: write %s: %v", model.ErrConnectionFailed, f.Verb(), err)
	}

	c.logger.Debug("[RELAY] frame sent", slog.String("verb", string(f.Verb())), slog.Int("bytes", len(data)))
	return nil
}

// Close performs a graceful close handshake and waits for the read loop to exit.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if !c.state.CompareAndSwap(int32(Open), int32(Closed)) {
			return
		}

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		select {
		case <-c.doneCh:
		case <-time.After(c.config.closeGrace):
		}
		err = c.ws.Close()
		c.logger.Info("[RELAY] connection closed")
	})
	<-c.doneCh
	return err
}

func (c *Conn) readLoop() {
	defer close(c.doneCh)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case c.State() == Closed:
				// Local Close: anything still waiting can never be answered now.
				c.handler.HandleFailure(model.ErrConnectionClosed)
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				if c.state.CompareAndSwap(int32(Open), int32(Closed)) {
					c.logger.Info("[RELAY] closed by relay")
					c.handler.HandleFailure(model.ErrConnectionClosed)
				}
			default:
				c.fail(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug("[RELAY] non-text frame ignored", slog.Int("type", msgType))
			continue
		}
		c.handler.HandleFrame(data)
	}
}

// fail moves an open or connecting socket to Failed and reports it exactly once.
func (c *Conn) fail(err error) {
	for {
		cur := State(c.state.Load())
		if cur == Closed || cur == Failed {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(Failed)) {
			break
		}
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		err = model.ErrConnectionClosed
	}
	c.logger.Error("[RELAY] transport failure", "err", err)
	_ = c.ws.Close()
	c.handler.HandleFailure(err)
}
