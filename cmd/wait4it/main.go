// Command wait4it is a readiness gate meant to run as a Kubernetes init
// container. It blocks until every configured dependency — PostgreSQL,
// Redis, a message broker, and the Consul config store itself — is
// reachable and every mandatory config key exists, then exits 0. If the
// maximum wait elapses first it exits 1 with a summary of what never
// became ready.
//
// All configuration comes from the environment; there are no flags beyond
// -version. See internal/config for the full variable list. The minimum
// viable environment is:
//
//	CONSUL_PREFIX=myapp/config
//	CONSUL_MANDATORY_KEYS=DATABASE,REDIS,RABBITMQ
//	CONSUL_CONNECTION_CHECK_KEY=consul_connection_check
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AliMehraji/wait4it/internal/config"
	"github.com/AliMehraji/wait4it/internal/probe"
	"github.com/AliMehraji/wait4it/internal/store"
	"github.com/AliMehraji/wait4it/internal/waiter"
)

// Version information — set at build time via -ldflags.
//
//	-X main.version=$(git describe --tags --always)
//	-X main.commit=$(git rev-parse --short HEAD)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("wait4it %s (%s)\n", version, commit)
		return
	}

	// Structured JSON logging to stdout — ready for any log aggregator.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.Consul.Host, cfg.Consul.Port, cfg.Consul.Scheme, store.KeySpec{
		Prefix:      cfg.Consul.Prefix,
		Mandatory:   cfg.Mandatory,
		Optional:    cfg.Optional,
		SentinelKey: cfg.Consul.ConnectionCheckKey,
	})
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// The store goes first in every sweep: its settings feed the other
	// probes, and its key verification is itself a mandatory check.
	entries := []waiter.Entry{{Prober: st}}
	for _, key := range cfg.Mandatory {
		if p := buildProbe(cfg, st, key); p != nil {
			entries = append(entries, waiter.Entry{Prober: p})
		}
	}
	for _, key := range cfg.Optional {
		if p := buildProbe(cfg, st, key); p != nil {
			entries = append(entries, waiter.Entry{Prober: p, Optional: true})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("waiting for dependencies",
		"version", version,
		"consul", cfg.Consul.Host+":"+cfg.Consul.Port,
		"prefix", cfg.Consul.Prefix,
		"mandatory", cfg.Mandatory,
		"optional", cfg.Optional,
		"poll_interval", cfg.ParsedPollInterval().String(),
		"max_wait", cfg.ParsedMaxWait().String(),
	)

	w := waiter.New(entries, waiter.Config{
		Interval:     cfg.ParsedPollInterval(),
		MaxWait:      cfg.ParsedMaxWait(),
		ProbeTimeout: cfg.ParsedProbeTimeout(),
	})
	outcome := w.Run(ctx)

	if outcome.State == waiter.AllReady {
		slog.Info("all dependencies ready",
			"iterations", outcome.Iterations,
			"elapsed", outcome.Elapsed.Round(time.Millisecond).String(),
		)
		return
	}

	for _, res := range outcome.Unmet {
		slog.Error("dependency never became ready",
			"dependency", res.Kind,
			"error", res.Err,
		)
	}
	slog.Error("timed out waiting for dependencies",
		"iterations", outcome.Iterations,
		"elapsed", outcome.Elapsed.Round(time.Millisecond).String(),
	)
	os.Exit(1)
}

// buildProbe returns the prober for a recognised dependency kind, or nil
// for keys that are presence-only (verified by the store, never dialled).
func buildProbe(cfg config.Config, src probe.SettingsSource, key string) probe.Prober {
	switch key {
	case probe.KindDatabase:
		return probe.NewPostgres(src, cfg.Fallbacks(key))
	case probe.KindRedis:
		return probe.NewRedis(src, cfg.Fallbacks(key))
	case probe.KindRabbitMQ:
		return probe.NewRabbitMQ(src, cfg.Fallbacks(key))
	case probe.KindKafka:
		return probe.NewKafka(src, cfg.Fallbacks(key))
	}
	return nil
}
