package wsconn

import (
	"net/http"
	"time"
)

type config struct {
	dialTimeout   time.Duration
	writeTimeout  time.Duration
	closeGrace    time.Duration
	maxFrameBytes int64
	header        http.Header
}

func defaultConfig() config {
	return config{
		dialTimeout:   10 * time.Second,
		writeTimeout:  5 * time.Second,
		closeGrace:    2 * time.Second,
		maxFrameBytes: 1 << 20,
	}
}

// Option defines a functional configuration type for Dial.
type Option func(*config)

func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) { c.writeTimeout = d }
}

// WithCloseGrace bounds how long Close waits for the relay to echo the close frame.
func WithCloseGrace(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.closeGrace = d
		}
	}
}

// WithMaxFrameBytes caps inbound message size; zero disables the limit.
func WithMaxFrameBytes(n int64) Option {
	return func(c *config) { c.maxFrameBytes = n }
}

func WithHeader(h http.Header) Option {
	return func(c *config) { c.header = h }
}
