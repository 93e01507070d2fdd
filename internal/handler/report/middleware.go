package report

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// [LOGGING_MIDDLEWARE]
// Structured logging with latency and the run the report belongs to.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			logger.Debug("REPORT_HANDLED",
				"msg_id", msg.UUID,
				"run_id", msg.Metadata.Get("run_id"),
				"outcome", msg.Metadata.Get("outcome"),
				"duration_ms", time.Since(start).Milliseconds(),
				"success", err == nil,
			)
			return msgs, err
		}
	}
}
