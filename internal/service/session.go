package service

import (
	"context"
	"log/slog"

	"github.com/webitel/relay-probe/config"
	"github.com/webitel/relay-probe/internal/adapter/wsconn"
	"github.com/webitel/relay-probe/internal/domain/registry"
)

// Connector opens relay sessions. Each session owns one connection and one correlator.
type Connector interface {
	Connect(ctx context.Context, url string) (*Session, error)
}

// Session bundles a live connection with the exchanges running over it.
type Session struct {
	Exchanger

	conn       *wsconn.Conn
	correlator *registry.Correlator
}

// Close shuts the socket and releases anything still waiting.
func (s *Session) Close() error {
	err := s.conn.Close()
	s.correlator.Shutdown()
	return err
}

// Done is closed when the underlying connection stops reading.
func (s *Session) Done() <-chan struct{} { return s.conn.Done() }

// Pending reports how many exchanges are still waiting on this session.
func (s *Session) Pending() int { return s.correlator.Len() }

// Interface guard
var _ Connector = (*SessionDialer)(nil)

type SessionDialer struct {
	cfg        *config.Config
	logger     *slog.Logger
	correlator registry.Factory
}

func NewSessionDialer(cfg *config.Config, logger *slog.Logger, correlator registry.Factory) *SessionDialer {
	return &SessionDialer{
		cfg:        cfg,
		logger:     logger,
		correlator: correlator,
	}
}

// [CONNECT] HANDSHAKE, THEN WIRE INGRESS TO A FRESH CORRELATOR
func (d *SessionDialer) Connect(ctx context.Context, url string) (*Session, error) {
	corr := d.correlator()

	conn, err := wsconn.Dial(ctx, url, corr, d.logger,
		wsconn.WithDialTimeout(d.cfg.Relay.DialTimeout),
		wsconn.WithWriteTimeout(d.cfg.Relay.WriteTimeout),
		wsconn.WithMaxFrameBytes(d.cfg.Relay.MaxFrameBytes),
	)
	if err != nil {
		return nil, err
	}

	l := d.logger.With(slog.String("relay", url))
	exchanger := NewExchangeService(conn, corr, l, d.cfg.Exchange.PublishTimeout, d.cfg.Exchange.SubscribeTimeout)

	return &Session{
		Exchanger:  NewExchangeMiddleware(exchanger, l),
		conn:       conn,
		correlator: corr,
	}, nil
}
