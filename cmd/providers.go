package cmd

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/relay-probe/config"
	"github.com/webitel/relay-probe/internal/adapter/pubsub"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// ProvideLogger builds the process logger on stderr; stdout carries the reports.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler).With(slog.String("service", ServiceName))
	slog.SetDefault(logger)
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With(slog.String("component", "watermill")))
}

// ProvideFxLogger keeps container chatter out of the output unless debugging.
func ProvideFxLogger(cfg *config.Config, logger *slog.Logger) fxevent.Logger {
	if parseLevel(cfg.Log.Level) > slog.LevelDebug {
		return fxevent.NopLogger
	}
	return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
}

// ProvidePubSub is the in-process report bus.
func ProvidePubSub(lc fx.Lifecycle, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	bus := pubsub.NewLocalBus(logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return bus.Close() },
	})
	return bus
}

// ProvideReportDispatcher publishes to the local bus and, when configured, to AMQP.
func ProvideReportDispatcher(lc fx.Lifecycle, cfg *config.Config, bus *gochannel.GoChannel, logger watermill.LoggerAdapter) (pubsub.ReportDispatcher, error) {
	pubs := []message.Publisher{bus}

	if cfg.Report.AMQPURL != "" {
		export, err := pubsub.NewAMQPPublisher(cfg.Report.AMQPURL, cfg.Report.Exchange, logger)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return export.Close() },
		})
		pubs = append(pubs, export)
	}

	return pubsub.NewReportDispatcher(pubs...), nil
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
