package registry

import (
	"log/slog"

	"github.com/webitel/relay-probe/config"
	"go.uber.org/fx"
)

// Factory builds a fresh correlator for every relay connection.
type Factory func() *Correlator

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure correlators using Functional Options
		func(logger *slog.Logger, cfg *config.Config, observer Observer) Factory {
			return func() *Correlator {
				return NewCorrelator(
					logger.With(slog.String("component", "correlator")),
					WithDefaultTimeout(cfg.Exchange.SubscribeTimeout),
					WithRecentKeys(cfg.Exchange.RecentKeys),
					WithObserver(observer),
				)
			}
		},
	),
)
