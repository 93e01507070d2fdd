package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/relay-probe/config"
	"github.com/webitel/relay-probe/infra/client/relayinfo"
	"github.com/webitel/relay-probe/internal/scenario"
	"go.uber.org/fx"
)

const (
	ServiceName      = "relay-probe"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// ErrProbeFailed marks a run that completed but did not pass every assertion.
var ErrProbeFailed = errors.New("probe failed")

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Publish/query conformance probe for nostr relays",
		Version: fmt.Sprintf("%s (%s@%s, %s)", version, branch, commit, commitDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
			&cli.StringFlag{
				Name:    "relay",
				Aliases: []string{"r"},
				Usage:   "Relay websocket URL (ws:// or wss://)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			probeCmd(),
			watchCmd(),
			infoCmd(),
		},
	}

	return app.Run(os.Args)
}

func probeCmd() *cli.Command {
	return &cli.Command{
		Name:    "probe",
		Aliases: []string{"p"},
		Usage:   "Publish a tagged message once and query it back by id and by tag",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "tag",
				Usage: "Tag value to publish and search for",
			},
			&cli.DurationFlag{
				Name:  "settle",
				Usage: "Delay between publish and the first query",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			var prober scenario.Prober
			app := NewApp(cfg, fx.Populate(&prober))
			if err := app.Start(c.Context); err != nil {
				return err
			}
			defer stopApp(app)

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			report, err := prober.Run(ctx)
			if err != nil {
				return err
			}
			if !report.Passed() {
				return ErrProbeFailed
			}
			return nil
		},
	}
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:    "watch",
		Aliases: []string{"w"},
		Usage:   "Repeat the probe on an interval and expose metrics",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Time between runs",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Listen address for /metrics, e.g. :9100",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			var watcher *scenario.Watcher
			app := NewApp(cfg, fx.Populate(&watcher))
			if err := app.Start(c.Context); err != nil {
				return err
			}
			defer stopApp(app)

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return watcher.Run(ctx)
		},
	}
}

func infoCmd() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Fetch and print the relay information document",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := ProvideLogger(cfg)
			client := relayinfo.New(logger, cfg.Relay.DialTimeout)
			defer client.Close()

			doc, err := client.Fetch(c.Context, cfg.Relay.InfoURL)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(json.RawMessage(doc.Raw), "", "  ")
			if err != nil {
				out = doc.Raw
			}
			fmt.Fprintf(os.Stdout, "%s\n", out)
			fmt.Fprintf(os.Stdout, "supported nips: %v\ntag queries (NIP-12): %t\n", doc.SupportedNIPs, doc.Supports(12))
			return nil
		},
	}
}

// loadConfig merges the file, env and whichever flags were set explicitly.
func loadConfig(c *cli.Context) (*config.Config, error) {
	overrides := config.Overrides{}
	flagKeys := map[string]string{
		"relay":        "relay.url",
		"log-level":    "log.level",
		"tag":          "scenario.tag_value",
		"settle":       "scenario.settle_delay",
		"interval":     "watch.interval",
		"metrics-addr": "metrics.addr",
	}
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.Value(flag)
		}
	}
	return config.LoadConfig(c.String("config_file"), overrides)
}

func stopApp(app *fx.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		slog.Error("SHUTDOWN_FAILED", "err", err)
	}
}
