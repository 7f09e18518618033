package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/runner"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/logger"
)

func main() {
	var grpcAddr string
	var logLevel string
	var seed int64
	var noise float64
	var fixedPool int

	flag.StringVar(&grpcAddr, "grpc-addr", ":50061", "gRPC listen address")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.Int64Var(&seed, "seed", 0, "seed of the synthetic engine's hidden optimum")
	flag.Float64Var(&noise, "noise", 0.05, "standard deviation of per-game performance noise")
	flag.IntVar(&fixedPool, "fixed-pool", 5, "number of fixed opponents")
	flag.Parse()

	logger.SetDefault(logger.NewText(logLevel, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	engine := runner.NewSynthetic(seed).WithNoise(noise).WithFixedPool(fixedPool)

	// TODO: Configure gRPC server security (e.g., TLS, authentication)
	// before exposing this service beyond localhost.
	grpcServer := grpc.NewServer()
	runner.RegisterServer(grpcServer, engine)

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", "addr", grpcAddr, "error", err)
		stop()
		os.Exit(1)
	}

	go func() {
		logger.Info("game runner listening", "addr", grpcAddr, "seed", seed, "noise", noise)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()
	grpcServer.GracefulStop()
}
