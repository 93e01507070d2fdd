package report

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/relay-probe/internal/adapter/pubsub"
	"github.com/webitel/relay-probe/internal/domain/model"
)

const HandlerPrintReport = "ON_REPORT_PRINT"

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{
		CloseTimeout: 5 * time.Second,
	}, logger)
}

// [REGISTRATION_PIPELINE]
func RegisterHandlers(router *message.Router, sub message.Subscriber, printer *Printer, logger *slog.Logger) error {
	if router == nil || sub == nil {
		return fmt.Errorf("report pipeline: router and subscriber are required")
	}

	router.AddConsumerHandler(
		HandlerPrintReport,
		pubsub.ReportTopic,
		sub,
		Bind[model.Report](logger, printer.OnReport),
	).AddMiddleware(
		LoggingMiddleware(logger),
		middleware.Timeout(10*time.Second),
	)

	logger.Debug("REPORT_PIPELINE_READY", "topic", pubsub.ReportTopic)
	return nil
}
