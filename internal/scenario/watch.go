package scenario

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/webitel/relay-probe/config"
	"github.com/webitel/relay-probe/internal/domain/model"
)

var errRunFailed = errors.New("scenario: assertions failed")

// Watcher repeats the scenario on an interval. Consecutive failed runs open a
// breaker; while it is open ticks are skipped instead of dialing the relay.
type Watcher struct {
	prober   Prober
	recorder RunRecorder
	breaker  *gobreaker.CircuitBreaker
	interval time.Duration
	logger   *slog.Logger
}

func NewWatcher(cfg *config.Config, prober Prober, recorder RunRecorder, logger *slog.Logger) *Watcher {
	failures := cfg.Watch.BreakerFailures
	if failures == 0 {
		failures = 1
	}

	return &Watcher{
		prober:   prober,
		recorder: recorder,
		interval: cfg.Watch.Interval,
		logger:   logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "relay-watch",
			MaxRequests: 1,
			Timeout:     cfg.Watch.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("[BREAKER] state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Run blocks until ctx is cancelled. The first run starts immediately.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.Tick(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("[WATCH] stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one guarded run and returns its report, nil when skipped.
func (w *Watcher) Tick(ctx context.Context) *model.Report {
	res, err := w.breaker.Execute(func() (interface{}, error) {
		report, err := w.prober.Run(ctx)
		if err == nil && !report.Passed() {
			err = errRunFailed
		}
		return report, err
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		w.logger.Warn("RUN_SKIPPED", "reason", err, "breaker", w.breaker.State().String())
		if w.recorder != nil {
			w.recorder.RecordRun("skipped", 0)
		}
		return nil
	}

	report, _ := res.(*model.Report)
	if err != nil {
		w.logger.Warn("[WATCH] run failed", "err", err)
	}
	return report
}

// State exposes the breaker state for diagnostics.
func (w *Watcher) State() gobreaker.State { return w.breaker.State() }
