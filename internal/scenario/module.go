package scenario

import (
	"go.uber.org/fx"
)

var Module = fx.Module(
	"scenario",

	fx.Provide(
		fx.Annotate(
			NewRunner,
			fx.As(new(Prober)),
		),
		NewWatcher,
	),
)
