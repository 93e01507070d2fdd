package clientdi

import (
	"context"
	"log/slog"

	"github.com/webitel/relay-probe/config"
	"github.com/webitel/relay-probe/infra/client/relayinfo"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"relay_clients",

	// [CONSTRUCTOR] Provides the breaker-guarded capability discovery client
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) *relayinfo.Client {
			return relayinfo.New(logger.With(slog.String("component", "relay_info")), cfg.Relay.DialTimeout)
		},
		func(c *relayinfo.Client) relayinfo.Fetcher { return c },
	),

	// [LIFECYCLE] Releases idle HTTP connections on app shutdown
	fx.Invoke(func(lc fx.Lifecycle, client *relayinfo.Client) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
	}),
)
