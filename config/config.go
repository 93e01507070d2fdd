package config

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix = "RELAYPROBE"

	DefaultRelayURL = "ws://localhost:7777"
	DefaultTagName  = "t"
)

type Config struct {
	Relay    RelayConfig    `mapstructure:"relay"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Scenario ScenarioConfig `mapstructure:"scenario"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Report   ReportConfig   `mapstructure:"report"`
	Log      LogConfig      `mapstructure:"log"`
}

type RelayConfig struct {
	URL           string        `mapstructure:"url"`
	InfoURL       string        `mapstructure:"info_url"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxFrameBytes int64         `mapstructure:"max_frame_bytes"`
}

type ExchangeConfig struct {
	PublishTimeout   time.Duration `mapstructure:"publish_timeout"`
	SubscribeTimeout time.Duration `mapstructure:"subscribe_timeout"`
	RecentKeys       int           `mapstructure:"recent_keys"`
}

type ScenarioConfig struct {
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	TagName     string        `mapstructure:"tag_name"`
	TagValue    string        `mapstructure:"tag_value"`
	Kind        int           `mapstructure:"kind"`
	TagLimit    int           `mapstructure:"tag_limit"`
}

type WatchConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type ReportConfig struct {
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"relay.url":                  DefaultRelayURL,
	"relay.info_url":             "",
	"relay.dial_timeout":         10 * time.Second,
	"relay.write_timeout":        5 * time.Second,
	"relay.max_frame_bytes":      int64(1 << 20),
	"exchange.publish_timeout":   10 * time.Second,
	"exchange.subscribe_timeout": 10 * time.Second,
	"exchange.recent_keys":       1024,
	"scenario.settle_delay":      3 * time.Second,
	"scenario.tag_name":          DefaultTagName,
	"scenario.tag_value":         "",
	"scenario.kind":              1,
	"scenario.tag_limit":         10,
	"watch.interval":             30 * time.Second,
	"watch.breaker_failures":     3,
	"watch.breaker_cooldown":     time.Minute,
	"metrics.addr":               "",
	"report.amqp_url":            "",
	"report.exchange":            "relayprobe.reports",
	"log.level":                  "info",
	"log.format":                 "text",
}

// Overrides are explicit values keyed like the file, e.g. "relay.url". Empty
// strings are ignored so unset CLI flags fall through to file and env.
type Overrides map[string]any

// LoadConfig reads defaults, then the optional file at path, then RELAYPROBE_* env,
// then overrides.
func LoadConfig(path string, overrides Overrides) (*Config, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	for key, value := range defaults {
		_ = v.BindEnv(key)
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
		}
	}

	for key, value := range overrides {
		if str, ok := value.(string); ok && str == "" {
			continue
		}
		v.Set(key, value)
	}

	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks)); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDerived fills values computed from other keys.
func (c *Config) applyDerived() {
	if c.Relay.InfoURL == "" {
		c.Relay.InfoURL = infoURL(c.Relay.URL)
	}
	if c.Scenario.TagValue == "" {
		c.Scenario.TagValue = fmt.Sprintf("tag-search-test-%d", rand.IntN(1000))
	}
}

func (c *Config) Validate() error {
	switch {
	case !strings.HasPrefix(c.Relay.URL, "ws://") && !strings.HasPrefix(c.Relay.URL, "wss://"):
		return fmt.Errorf("config: relay.url must be ws:// or wss://, got %q", c.Relay.URL)
	case c.Exchange.PublishTimeout <= 0 || c.Exchange.SubscribeTimeout <= 0:
		return fmt.Errorf("config: exchange timeouts must be positive")
	case c.Scenario.SettleDelay < 0:
		return fmt.Errorf("config: scenario.settle_delay must not be negative")
	case c.Scenario.TagName == "":
		return fmt.Errorf("config: scenario.tag_name is required")
	case c.Watch.Interval <= 0:
		return fmt.Errorf("config: watch.interval must be positive")
	}
	return nil
}

func infoURL(relayURL string) string {
	switch {
	case strings.HasPrefix(relayURL, "wss://"):
		return "https://" + strings.TrimPrefix(relayURL, "wss://")
	case strings.HasPrefix(relayURL, "ws://"):
		return "http://" + strings.TrimPrefix(relayURL, "ws://")
	}
	return relayURL
}
