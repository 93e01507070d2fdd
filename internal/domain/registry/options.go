package registry

import "time"

const (
	defaultTimeout    = 10 * time.Second
	defaultRecentKeys = 1024
)

type settings struct {
	defaultTimeout time.Duration
	recentKeys     int
}

func defaultSettings() settings {
	return settings{
		defaultTimeout: defaultTimeout,
		recentKeys:     defaultRecentKeys,
	}
}

// Option defines a functional configuration type for the Correlator.
type Option func(*Correlator)

// WithDefaultTimeout sets the deadline used when a Request carries none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.settings.defaultTimeout = d
		}
	}
}

// WithRecentKeys bounds how many finished keys are remembered for late-frame logging.
func WithRecentKeys(size int) Option {
	return func(c *Correlator) {
		c.settings.recentKeys = size
	}
}

// WithObserver attaches a telemetry sink.
func WithObserver(o Observer) Option {
	return func(c *Correlator) {
		c.observer = o
	}
}
