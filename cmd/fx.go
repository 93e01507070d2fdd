package cmd

import (
	"github.com/webitel/relay-probe/config"
	clientdi "github.com/webitel/relay-probe/infra/client/di"
	"github.com/webitel/relay-probe/internal/domain/registry"
	"github.com/webitel/relay-probe/internal/handler/report"
	"github.com/webitel/relay-probe/internal/observability"
	"github.com/webitel/relay-probe/internal/scenario"
	"github.com/webitel/relay-probe/internal/service"
	"go.uber.org/fx"
)

func NewApp(cfg *config.Config, opts ...fx.Option) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvidePubSub,
			ProvideReportDispatcher,
			func(m *observability.Metrics) scenario.RunRecorder { return m },
		),
		fx.WithLogger(ProvideFxLogger),
		observability.Module,
		clientdi.Module,
		registry.Module,
		service.Module,
		report.Module,
		scenario.Module,
		fx.Options(opts...),
	)
}
