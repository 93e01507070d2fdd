package observability

import (
	"context"
	"log/slog"

	"github.com/webitel/relay-probe/config"
	"github.com/webitel/relay-probe/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		NewMetrics,
		func(m *Metrics) registry.Observer { return m },
	),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, m *Metrics, logger *slog.Logger) {
		if cfg.Metrics.Addr == "" {
			return
		}
		srv := NewServer(cfg.Metrics.Addr, m, logger)
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return srv.Start() },
			OnStop:  srv.Stop,
		})
	}),
)
