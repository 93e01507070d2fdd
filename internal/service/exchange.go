package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/relay-probe/internal/adapter/wsconn"
	"github.com/webitel/relay-probe/internal/domain/model"
	"github.com/webitel/relay-probe/internal/domain/registry"
	wsmarshaller "github.com/webitel/relay-probe/internal/handler/marshaller/ws"
)

// [EXCHANGE_SERVICE] PRIMARY INTERFACE FOR THE SCENARIO LAYER
type Exchanger interface {
	// Publish sends the message and waits for its acknowledgment. A missing
	// acknowledgment is a soft timeout, not an error.
	Publish(ctx context.Context, msg *model.Message) (PublishResult, error)
	// Subscribe runs one REQ/EOSE query and always closes the subscription.
	Subscribe(ctx context.Context, filter model.Filter, description string) (SubscribeResult, error)
}

type PublishResult struct {
	Message      *model.Message
	Acknowledged bool
	Accepted     bool
	Reason       string
	TimedOut     bool
	Elapsed      time.Duration
}

type SubscribeResult struct {
	SubscriptionID string
	Description    string
	// Messages are in relay delivery order.
	Messages []*model.Message
	// Complete is true when the relay sent EOSE.
	Complete   bool
	TimedOut   bool
	Unverified int
	Malformed  int
	Elapsed    time.Duration
}

const maxSubIDAttempts = 3

// Interface guard
var _ Exchanger = (*ExchangeService)(nil)

// ExchangeService drives publish and subscribe exchanges over one connection.
type ExchangeService struct {
	sender    wsconn.Sender
	registrar registry.Registrar
	logger    *slog.Logger

	publishTimeout   time.Duration
	subscribeTimeout time.Duration
	newSubID         func() string
}

func NewExchangeService(sender wsconn.Sender, registrar registry.Registrar, logger *slog.Logger, publishTimeout, subscribeTimeout time.Duration) *ExchangeService {
	return &ExchangeService{
		sender:           sender,
		registrar:        registrar,
		logger:           logger,
		publishTimeout:   publishTimeout,
		subscribeTimeout: subscribeTimeout,
		newSubID:         NewSubscriptionID,
	}
}

// NewSubscriptionID returns a short random token.
func NewSubscriptionID() string {
	return uuid.NewString()[:8]
}

// [PUBLISH] ["EVENT", msg] -> ["OK", id, accepted, reason]
func (s *ExchangeService) Publish(ctx context.Context, msg *model.Message) (PublishResult, error) {
	out := PublishResult{Message: msg}

	frame, err := wsmarshaller.NewEventFrame(msg)
	if err != nil {
		return out, err
	}

	// Register before sending so an immediate OK cannot slip past the table.
	p, err := s.registrar.Register(registry.Request{
		Key:      msg.ID,
		Kind:     registry.KindPublish,
		Terminal: []model.Verb{model.VerbOK},
		Timeout:  s.publishTimeout,
	})
	if err != nil {
		return out, fmt.Errorf("publish %s: %w", msg.ID, err)
	}

	if err := s.sender.Send(frame); err != nil {
		s.registrar.Cancel(p, err)
		return out, fmt.Errorf("publish %s: %w", msg.ID, err)
	}

	res, err := p.Wait(ctx)
	out.Elapsed = res.Elapsed
	if err != nil {
		return out, fmt.Errorf("publish %s: %w", msg.ID, err)
	}

	if res.TimedOut() {
		out.TimedOut = true
		return out, nil
	}

	out.Acknowledged = true
	ack, err := wsmarshaller.ParseOK(res.Terminal)
	if err != nil {
		s.logger.Warn("MALFORMED_ACK", "err", err, "msg_id", msg.ID)
		out.Reason = "malformed acknowledgment"
		return out, nil
	}
	out.Accepted = ack.Accepted
	out.Reason = ack.Reason

	return out, nil
}

// [SUBSCRIBE] ["REQ", subID, filter] -> ["EVENT", subID, msg]* ["EOSE", subID] ; ["CLOSE", subID]
func (s *ExchangeService) Subscribe(ctx context.Context, filter model.Filter, description string) (SubscribeResult, error) {
	out := SubscribeResult{Description: description}

	p, err := s.registerSubscription(filter)
	if err != nil {
		return out, err
	}
	out.SubscriptionID = p.Key()

	// [CLEANUP] Exactly one CLOSE per registered subscription, on every path.
	defer func() {
		if err := s.sender.Send(wsmarshaller.NewCloseFrame(out.SubscriptionID)); err != nil {
			s.logger.Debug("CLOSE_NOT_SENT", "sub_id", out.SubscriptionID, "err", err)
		}
	}()

	req, err := wsmarshaller.NewReqFrame(out.SubscriptionID, filter)
	if err != nil {
		s.registrar.Cancel(p, err)
		return out, err
	}
	if err := s.sender.Send(req); err != nil {
		s.registrar.Cancel(p, err)
		return out, fmt.Errorf("subscribe %s: %w", out.SubscriptionID, err)
	}

	res, err := p.Wait(ctx)
	out.Elapsed = res.Elapsed
	if err != nil {
		return out, fmt.Errorf("subscribe %s (%s): %w", out.SubscriptionID, description, err)
	}

	out.Complete = res.State == registry.Completed
	out.TimedOut = res.TimedOut()
	out.Messages = make([]*model.Message, 0, len(res.Frames))

	for _, f := range res.Frames {
		_, msg, err := wsmarshaller.ParseEvent(f)
		if err != nil {
			out.Malformed++
			s.logger.Warn("MALFORMED_EVENT_SKIPPED", "sub_id", out.SubscriptionID, "err", err)
			continue
		}
		if !msg.Verify() {
			out.Unverified++
			s.logger.Warn("UNVERIFIED_EVENT", "sub_id", out.SubscriptionID, "msg_id", msg.ID)
		}
		out.Messages = append(out.Messages, msg)
	}

	return out, nil
}

// registerSubscription draws fresh ids until one is free among the pending keys.
func (s *ExchangeService) registerSubscription(filter model.Filter) (*registry.Pending, error) {
	var lastErr error
	for range maxSubIDAttempts {
		p, err := s.registrar.Register(registry.Request{
			Key:            s.newSubID(),
			Kind:           registry.KindSubscribe,
			Terminal:       []model.Verb{model.VerbEOSE},
			Timeout:        s.subscribeTimeout,
			RequireResults: true,
		})
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, model.ErrDuplicateKey) {
			return nil, fmt.Errorf("subscribe: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("subscribe: no free subscription id: %w", lastErr)
}
