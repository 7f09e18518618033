package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/metrics"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/progress"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/runner"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/statusd"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/training"
	"github.com/GoSim-25-26J-441/agent-tuner/internal/versioner"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/config"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/logger"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

const readyAttempts = 10

func main() {
	var configPath string
	var logLevel string
	var runnerAddr string
	var statusAddr string
	var maxIterations int

	flag.StringVar(&configPath, "config", "config/tuner.yaml", "run configuration file")
	flag.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flag.StringVar(&runnerAddr, "runner-addr", "", "gRPC game runner address override")
	flag.StringVar(&statusAddr, "status-addr", "", "status HTTP listen address override")
	flag.IntVar(&maxIterations, "max-iterations", -1, "stop after this many iterations (0 runs until interrupted)")
	flag.Parse()

	cfg, err := config.LoadRunConfig(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if runnerAddr != "" {
		cfg.Runner.Address = runnerAddr
	}
	if statusAddr != "" {
		cfg.StatusAddr = statusAddr
	}
	if maxIterations >= 0 {
		cfg.MaxIterations = maxIterations
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid flags", "error", err)
		os.Exit(1)
	}

	logger.SetDefault(logger.NewFormat(cfg.LogFormat, cfg.LogLevel, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		logger.Error("training failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.RunConfig) error {
	gr, closeRunner, err := buildRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRunner()

	exporter, err := metrics.NewPrometheus()
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown error", "error", err)
		}
	}()
	recorder, err := metrics.NewRecorder(exporter.Meter())
	if err != nil {
		return err
	}

	orch, err := training.New(cfg, gr)
	if err != nil {
		return err
	}
	defer func() {
		if err := orch.Close(); err != nil {
			logger.Warn("failed to close experience store", "error", err)
		}
	}()
	runID := utils.GenerateRunID()
	orch.WithMetrics(recorder).
		WithLogger(logger.With("run_id", runID, "pool", cfg.PoolName, "mode", string(cfg.Mode)))
	if cfg.RecordVideosEachLoop || cfg.RecordVideosNewIteration {
		orch.WithVideoRecorder(runner.LogVideoRecorder{})
	}

	statusDone := make(chan struct{})
	statusCtx, stopStatus := context.WithCancel(ctx)
	defer func() {
		stopStatus()
		<-statusDone
	}()
	if cfg.StatusAddr == "" {
		close(statusDone)
	} else {
		srv := statusd.NewHTTPServer(orch).
			WithMetrics(exporter.Handler()).
			WithProgress(progress.New(cfg.ProgressPath())).
			WithVersions(versioner.New(cfg.PoolDir(), cfg.PoolName))
		go func() {
			defer close(statusDone)
			if err := srv.Serve(statusCtx, cfg.StatusAddr); err != nil {
				logger.Error("status server error", "addr", cfg.StatusAddr, "error", err)
			}
		}()
	}

	logger.Info("training started",
		"run_id", runID,
		"pool", cfg.PoolName,
		"mode", string(cfg.Mode),
		"runner", runnerLabel(cfg),
		"workers", cfg.WorkerCount())
	return orch.Run(ctx)
}

// buildRunner returns the configured game runner and a cleanup function
func buildRunner(ctx context.Context, cfg *config.RunConfig) (runner.GameRunner, func(), error) {
	timeout, err := cfg.Runner.GetTimeout()
	if err != nil {
		return nil, nil, err
	}

	workers := cfg.WorkerCount()
	runners := make([]runner.GameRunner, 0, workers)
	var conns []*grpc.ClientConn
	cleanup := func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}

	if cfg.Runner.Address == "" {
		synthetic := runner.NewSynthetic(cfg.Seed)
		for i := 0; i < workers; i++ {
			runners = append(runners, synthetic)
		}
	} else {
		backoff := utils.NewExponentialBackoff(200*time.Millisecond, 5*time.Second, 2,
			utils.NewRandSource(cfg.Seed).Derive("runner-backoff"))
		for i := 0; i < workers; i++ {
			// TODO: Configure transport security before pointing this at a remote host.
			conn, err := grpc.NewClient(cfg.Runner.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to create runner client for %s: %w", cfg.Runner.Address, err)
			}
			conns = append(conns, conn)
			if err := waitReady(ctx, conn, backoff); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("game runner %s not ready: %w", cfg.Runner.Address, err)
			}
			runners = append(runners, runner.NewGRPCClient(conn))
		}
	}

	var gr runner.GameRunner
	if len(runners) == 1 {
		gr = runners[0]
	} else {
		gr = runner.NewParallel(runners...)
	}
	return runner.WithTimeout(gr, timeout), cleanup, nil
}

func waitReady(ctx context.Context, conn *grpc.ClientConn, backoff utils.BackoffStrategy) error {
	return utils.WaitUntil(ctx, backoff, readyAttempts, func(ctx context.Context) error {
		conn.Connect()
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if conn.WaitForStateChange(waitCtx, state) && conn.GetState() == connectivity.Ready {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.New("connection state " + conn.GetState().String())
	})
}

func runnerLabel(cfg *config.RunConfig) string {
	if cfg.Runner.Address == "" {
		return "synthetic"
	}
	return cfg.Runner.Address
}
