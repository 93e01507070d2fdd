package service

import (
	"context"
	"log/slog"

	"github.com/webitel/relay-probe/internal/domain/model"
)

// ExchangeMiddleware implements [DECORATOR_PATTERN] to add observability
// to exchanges without touching protocol logic.
type ExchangeMiddleware struct {
	Next   Exchanger
	Logger *slog.Logger
}

// NewExchangeMiddleware creates a new logging decorator for the Exchanger.
func NewExchangeMiddleware(next Exchanger, logger *slog.Logger) Exchanger {
	return &ExchangeMiddleware{
		Next:   next,
		Logger: logger,
	}
}

// Publish logs an explicit acknowledgment, a rejection and a soft timeout distinctly.
func (m *ExchangeMiddleware) Publish(ctx context.Context, msg *model.Message) (PublishResult, error) {
	res, err := m.Next.Publish(ctx, msg)

	attrs := []any{
		"msg_id", msg.ID,
		"duration_ms", res.Elapsed.Milliseconds(),
	}

	switch {
	case err != nil:
		m.Logger.Error("PUBLISH_FAILED", append(attrs, "err", err)...)
	case res.TimedOut:
		m.Logger.Warn("PUBLISH_SOFT_TIMEOUT", attrs...)
	case !res.Accepted:
		m.Logger.Warn("PUBLISH_REJECTED", append(attrs, "reason", res.Reason)...)
	default:
		m.Logger.Info("PUBLISH_ACKNOWLEDGED", append(attrs, "reason", res.Reason)...)
	}

	return res, err
}

// Subscribe logs the outcome of a query with its size and timing.
func (m *ExchangeMiddleware) Subscribe(ctx context.Context, filter model.Filter, description string) (SubscribeResult, error) {
	res, err := m.Next.Subscribe(ctx, filter, description)

	attrs := []any{
		"sub_id", res.SubscriptionID,
		"filter", description,
		"results", len(res.Messages),
		"duration_ms", res.Elapsed.Milliseconds(),
	}

	switch {
	case err != nil:
		m.Logger.Error("SUBSCRIBE_FAILED", append(attrs, "err", err)...)
	case res.TimedOut:
		m.Logger.Warn("SUBSCRIBE_PARTIAL_TIMEOUT", attrs...)
	default:
		m.Logger.Info("SUBSCRIBE_COMPLETED", attrs...)
	}

	return res, err
}
