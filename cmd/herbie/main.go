// Command herbie is the telemetry agent's CLI entrypoint: minimal flag
// surface (spec §6), config load, signal handling, and the exit-code
// contract (0 success, 1 initialisation failure, 2 runtime failure, 130
// interrupted). Grounded on the teacher's cmd/valkyrie/main.go shape: one
// struct holding every subsystem, built by Initialize, launched by Start,
// torn down by Shutdown on a signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/PossumXI/Asgard/Herbie/internal/agent"
	"github.com/PossumXI/Asgard/Herbie/internal/config"
	"github.com/PossumXI/Asgard/Herbie/internal/source"
	"github.com/PossumXI/Asgard/Herbie/internal/telemetry"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("herbie", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	logLevel := fs.String("log-level", "", "override the configured logging.level")
	replay := fs.Bool("replay", false, "use the deterministic in-memory Source Adapter for local smoke-testing")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if rest := fs.Args(); len(rest) > 0 && rest[0] != "run" {
		fmt.Fprintf(os.Stderr, "herbie: unknown command %q (only \"run\" is supported)\n", rest[0])
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "herbie: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log := telemetry.NewLogger(cfg.Logging.Level)
	runID := uuid.New().String()
	runLog := log.WithField("run_id", runID)

	snapshot := config.NewSnapshot(cfg)
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if *configPath != "" {
		if err := config.WatchFile(*configPath, snapshot, log, stopWatch); err != nil {
			runLog.WithError(err).Warn("config hot-reload disabled")
		}
	}

	var adapter source.Adapter
	if *replay {
		adapter = smokeTestAdapter()
	} else {
		// The shared-memory binding itself is out of scope (spec.md §1
		// Non-goals); SharedMemoryAdapter reports SourceUnavailable: Open
		// fails unless a deployment wires in its Bind func, and its reads
		// always fail.
		adapter = &source.SharedMemoryAdapter{}
	}

	reg := prometheus.NewRegistry()
	a := agent.New(snapshot.Get(), log, adapter, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	runLog.Info("herbie starting")
	if err := a.Initialize(ctx); err != nil {
		runLog.WithError(err).Error("initialization failed")
		return 1
	}
	if err := a.Start(ctx); err != nil {
		runLog.WithError(err).Error("start failed")
		return 1
	}
	runLog.Info("herbie running, press Ctrl+C to stop")

	sig := <-sigCh
	runLog.WithField("signal", sig).Info("shutdown signal received")

	if err := a.Shutdown(cfg.ShutdownGrace()); err != nil {
		runLog.WithError(err).Error("shutdown did not complete within grace")
		return 2
	}
	return 130
}

// smokeTestAdapter returns a fixed, looping physics/scoring sequence so
// --replay can be smoke-tested without a running simulator, the CLI
// analogue of the teacher's simulation.SimulatorMock.
func smokeTestAdapter() *source.ReplayAdapter {
	const samplesPerLap = 8000 // roughly one 90s lap at an 11ms physics period
	return &source.ReplayAdapter{
		NextPhysics: func(call int) (source.PhysicsView, bool) {
			lapNumber := call/samplesPerLap + 1
			within := call % samplesPerLap
			return source.PhysicsView{
				ElapsedTime: float64(within) * 0.011,
				SpeedKMH:    180,
				Throttle:    0.8,
				RPM:         9000,
				FuelKG:      80 - float64(within)*0.001,
				LapNumber:   lapNumber,
			}, true
		},
		NextScoring: func(call int) (source.ScoringView, bool) {
			lapNumber := call/200 + 1
			return source.ScoringView{
				ElapsedTime: float64(call),
				LapNumber:   lapNumber,
				SectorIndex: call % 3,
				Position:    1,
			}, true
		},
	}
}
