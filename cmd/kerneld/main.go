// Package main is the entry point for the cognitive kernel daemon.
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

	"github.com/wuweilabs/cogkernel/internal/action"
	"github.com/wuweilabs/cogkernel/internal/busapi"
	"github.com/wuweilabs/cogkernel/internal/config"
	"github.com/wuweilabs/cogkernel/internal/echoprovider"
	"github.com/wuweilabs/cogkernel/internal/events"
	"github.com/wuweilabs/cogkernel/internal/eventsink"
	"github.com/wuweilabs/cogkernel/internal/forge"
	"github.com/wuweilabs/cogkernel/internal/inference"
	"github.com/wuweilabs/cogkernel/internal/latency"
	"github.com/wuweilabs/cogkernel/internal/loop"
	"github.com/wuweilabs/cogkernel/internal/mqttobs"
	"github.com/wuweilabs/cogkernel/internal/orchestrator"
	"github.com/wuweilabs/cogkernel/internal/pairing"
	"github.com/wuweilabs/cogkernel/internal/provider"
	"github.com/wuweilabs/cogkernel/internal/racer"
	"github.com/wuweilabs/cogkernel/internal/report"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	demo := flag.Bool("demo", false, "race and orchestrate one demo turn before the loop starts")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	bus := events.New(cfg.Bus.ToBusOptions())

	if cfg.EventSink.Enabled {
		sink, err := eventsink.Open(cfg.EventSink.DBPath, logger)
		if err != nil {
			logger.Error("failed to open event sink", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		sink.Attach(bus)
		logger.Info("event sink archiving", "path", cfg.EventSink.DBPath)
	}

	if cfg.Pairing.Enabled {
		pairing.New(bus, pairing.Config{OutputDir: cfg.Pairing.OutputDir}, logger)
		logger.Info("pairing generator enabled", "output_dir", cfg.Pairing.OutputDir)
	}

	var gatherer loop.ObservationGatherer
	var mqttGatherer *mqttobs.Gatherer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MQTTObs.Configured() {
		mqttGatherer = mqttobs.New(mqttobs.Config{
			BrokerURL: cfg.MQTTObs.BrokerURL,
			ClientID:  cfg.MQTTObs.ClientID,
			Topic:     cfg.MQTTObs.Topic,
		}, logger)
		go func() {
			if err := mqttGatherer.Start(ctx); err != nil {
				logger.Error("mqtt observation gatherer stopped", "error", err)
			}
		}()
		gatherer = mqttGatherer
		logger.Info("mqtt observation gatherer enabled", "broker", cfg.MQTTObs.BrokerURL)
	} else {
		gatherer = staticGatherer{}
		logger.Warn("mqttobs not configured, using static observation gatherer")
	}

	var executor loop.ActionExecutor
	if cfg.Forge.Configured() {
		executor = forge.New(bus, nil, cfg.Forge.Token, forge.Config{
			Owner:             cfg.Forge.Owner,
			Repo:              cfg.Forge.Repo,
			SurpriseThreshold: cfg.Forge.SurpriseThreshold,
		}, logger)
		logger.Info("forge action executor enabled", "owner", cfg.Forge.Owner, "repo", cfg.Forge.Repo)
	} else {
		executor = noopExecutor{}
		logger.Warn("forge not configured, using no-op action executor")
	}

	engine := inference.New(bus, cfg.Engine.ToEngineConfig())
	kernel := loop.New(bus, engine, gatherer, executor, cfg.Loop.ToLoopConfig(), logger)
	defer kernel.Close()

	if cfg.BusAPI.Enabled {
		srv := busapi.NewServer(bus, fmt.Sprintf("%s:%d", cfg.BusAPI.Address, cfg.BusAPI.Port), logger)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				logger.Error("bus api server stopped", "error", err)
			}
		}()
		logger.Info("bus api streaming", "port", cfg.BusAPI.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		kernel.Stop("signal")
		cancel()
	}()

	if *demo {
		runDemo(logger)
	}

	logger.Info("cognitive kernel starting", "max_cycles", cfg.Loop.MaxCycles)
	if err := kernel.Run(cfg.Loop.MaxCycles); err != nil {
		logger.Error("loop run failed", "error", err)
		os.Exit(1)
	}
	logger.Info("cognitive kernel stopped")
}

// staticGatherer is the fallback ObservationGatherer used when no
// mqttobs broker is configured. It reports a fixed, mid-domain
// observation so the loop can still run end to end in a demo or
// smoke-test deployment.
type staticGatherer struct{}

func (staticGatherer) Gather() (inference.Observation, error) {
	return inference.Observation{Energy: 2, Phi: 2, Tool: 2, Coherence: 2, Task: 2}, nil
}

// noopExecutor is the fallback ActionExecutor used when forge is not
// configured. Every action succeeds without external effect.
type noopExecutor struct{}

func (noopExecutor) Execute(_ context.Context, a action.V1, _ loop.CycleContext) (loop.ActionResult, error) {
	return loop.ActionResult{Success: true, Action: a}, nil
}

// runDemo exercises the latency tracker, model racer, and stream
// orchestrator end to end against echoprovider, then renders a report,
// all without any network call — demonstrating the racing and
// orchestration path independent of the autonomous loop.
func runDemo(logger *slog.Logger) {
	tracker := latency.NewTracker(logger, 50, []latency.ProviderConfig{
		{Provider: "demo", Model: "echo-fast", CostPerToken: 0.000001, Available: true},
		{Provider: "demo", Model: "echo-slow", CostPerToken: 0.0000005, Available: true},
	})

	adapters := map[string]*echoprovider.Adapter{
		"echo-fast": echoprovider.New("echo-fast", "", 5*time.Millisecond),
		"echo-slow": echoprovider.New("echo-slow", "", 40*time.Millisecond),
	}

	resolve := func(c latency.RacingCandidate) (provider.ProviderAdapter, bool) {
		a, ok := adapters[c.Model]
		return a, ok
	}

	r := racer.New(tracker, resolve, racer.Config{Strategy: racer.StrategyTTFT, MaxRacers: 2, TTFTTimeout: 500 * time.Millisecond}, logger)
	result, err := r.Race(context.Background(), []provider.Message{{Role: "user", Content: "ping"}}, provider.StreamOptions{})
	if err != nil {
		logger.Error("demo race failed", "error", err)
		return
	}
	for range result.Events {
		// drain the race's own stream; the orchestrated turn below
		// re-executes against the winning adapter for its own metrics
	}
	logger.Info("demo race winner", "model", result.Winner.Model, "savings", result.Savings)

	orch := orchestrator.New(adapters[result.Winner.Model], orchestrator.Config{Logger: logger})
	out, err := orch.Execute(context.Background(), []provider.Message{{Role: "user", Content: "ping"}}, provider.StreamOptions{})
	if err != nil {
		logger.Error("demo orchestration failed", "error", err)
		return
	}
	for range out {
		// drain to completion; only the final metrics snapshot matters here
	}

	summary := report.CycleSummary{
		CycleIndex:  0,
		Action:      action.Exploit.String(),
		Metrics:     orch.Metrics(),
		GeneratedAt: time.Now(),
	}
	fmt.Println(report.Markdown(summary))
}
