package report

import (
	"context"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/fx"
)

var Module = fx.Module("report-handler",
	fx.Provide(
		func() *Printer { return NewPrinter(os.Stdout) },
		NewWatermillRouter,
	),

	fx.Invoke(func(router *message.Router, bus *gochannel.GoChannel, printer *Printer, logger *slog.Logger) error {
		return RegisterHandlers(router, bus, printer, logger)
	}),

	// [LIFECYCLE] The router must be consuming before the first run publishes.
	fx.Invoke(func(lc fx.Lifecycle, router *message.Router) {
		runCtx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() { _ = router.Run(runCtx) }()
				select {
				case <-router.Running():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			OnStop: func(context.Context) error {
				cancel()
				return router.Close()
			},
		})
	}),
)
