// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command r5-worker is the worker binary: it polls a broker for transit
// accessibility tasks, computes them with an injected routing engine, and
// reports results back over the same polling channel.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/conveyal/r5-worker/internal/broker"
	"github.com/conveyal/r5-worker/internal/handler"
	"github.com/conveyal/r5-worker/internal/httpapi"
	"github.com/conveyal/r5-worker/internal/network"
	"github.com/conveyal/r5-worker/internal/pointset"
	"github.com/conveyal/r5-worker/internal/poller"
	"github.com/conveyal/r5-worker/internal/resultbuffer"
	"github.com/conveyal/r5-worker/internal/routing"
	"github.com/conveyal/r5-worker/internal/storage"
	"github.com/conveyal/r5-worker/internal/taskqueue"
	"github.com/conveyal/r5-worker/internal/tracker"
	"github.com/conveyal/r5-worker/pkg/config"
	"github.com/conveyal/r5-worker/pkg/logging"
	"github.com/conveyal/r5-worker/pkg/metrics"
	"github.com/conveyal/r5-worker/pkg/middleware"
	"github.com/conveyal/r5-worker/pkg/pool"
)

var (
	// Version is set at build time via -ldflags.
	Version = "dev"

	flagBrokerAddress string
	flagBrokerPort    int
	flagGraphID       string
	flagListenSingle  bool
	flagListenAddr    string
	flagDebug         bool
)

var rootCmd = &cobra.Command{
	Use:     "r5-worker",
	Short:   "Transit accessibility compute worker",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBrokerAddress, "broker-address", "", "broker host (env: R5_BROKER_ADDRESS)")
	rootCmd.PersistentFlags().IntVar(&flagBrokerPort, "broker-port", 0, "broker port (env: R5_BROKER_PORT)")
	rootCmd.PersistentFlags().StringVar(&flagGraphID, "graph-id", "", "initial network/graph id to load (env: R5_INITIAL_GRAPH_ID)")
	rootCmd.PersistentFlags().BoolVar(&flagListenSingle, "listen-for-single-point", false, "expose POST /single over HTTP (env: R5_LISTEN_FOR_SINGLE_POINT)")
	rootCmd.PersistentFlags().StringVar(&flagListenAddr, "listen-address", "", "address the single-point/health/metrics server binds to (env: R5_LISTEN_ADDRESS)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig builds the effective configuration from defaults, environment,
// then command-line flags, in that order of precedence.
func loadConfig() *config.Config {
	cfg := config.NewDefault()
	cfg.Load()

	if flagBrokerAddress != "" {
		cfg.BrokerAddress = flagBrokerAddress
	}
	if flagBrokerPort != 0 {
		cfg.BrokerPort = flagBrokerPort
	}
	if flagGraphID != "" {
		cfg.InitialGraphID = flagGraphID
	}
	if flagListenSingle {
		cfg.ListenForSinglePoint = true
	}
	if flagListenAddr != "" {
		cfg.ListenAddress = flagListenAddr
	}
	if flagDebug {
		cfg.Debug = true
	}
	return cfg
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Load, validate, and print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Printf("brokerAddress:        %s\n", cfg.BrokerAddress)
		fmt.Printf("brokerPort:           %d\n", cfg.BrokerPort)
		fmt.Printf("brokerURL:            %s\n", cfg.BrokerURL())
		fmt.Printf("initialGraphId:       %s\n", cfg.InitialGraphID)
		fmt.Printf("listenForSinglePoint: %t\n", cfg.ListenForSinglePoint)
		fmt.Printf("listenAddress:        %s\n", cfg.ListenAddress)
		fmt.Printf("testTaskRedelivery:   %t\n", cfg.TestTaskRedelivery)
		fmt.Printf("timeout:              %s\n", cfg.Timeout)
		fmt.Printf("debug:                %t\n", cfg.Debug)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the worker's poll loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logCfg := logging.DefaultConfig()
		if cfg.Debug {
			logCfg.Level = -4 // slog.LevelDebug; avoids importing log/slog here just for this constant
		}
		logCfg.Version = Version
		logger := logging.NewLogger(logCfg)

		collector := metrics.NewInMemoryCollector()

		machineID := uuid.NewString()
		logger.Info("starting worker", "machineId", machineID, "brokerUrl", cfg.BrokerURL(), "initialGraphId", cfg.InitialGraphID)

		httpPool := pool.NewHTTPClientPool(pool.DefaultPoolConfig(), logger)
		brokerHTTPClient := httpPool.GetClient(cfg.BrokerURL())
		brokerHTTPClient.Transport = middleware.Chain(
			middleware.WithUserAgent(fmt.Sprintf("r5-worker/%s (%s)", Version, machineID)),
			middleware.WithTimeout(cfg.Timeout),
		)(brokerHTTPClient.Transport)
		brokerClient := broker.New(cfg.BrokerURL(), brokerHTTPClient, logger, collector)

		trk := tracker.New()
		buffer := resultbuffer.New()

		// The graph preloader, routing engine, and point-set cache are
		// external collaborators (spec.md §1): this binary wires the
		// in-memory fakes that satisfy their interfaces so the worker is
		// runnable standalone. A production deployment replaces these three
		// constructor calls with real implementations; nothing else in the
		// worker changes.
		preloader := network.NewFake()
		engine := &routing.Fake{}
		pointsets := &pointset.Fake{}
		objectStore := storage.NewLocal(os.TempDir())

		loadedNetworkID := cfg.InitialGraphID
		regional := handler.NewRegionalHandler(preloader, engine, pointsets, objectStore, "r5-worker-regional", buffer, trk, nil, logger)
		single := handler.NewSinglePointHandler(preloader, engine, pointsets, trk, logger)

		processors := runtime.NumCPU()
		queue := taskqueue.New(processors, regional.Handle, logger)
		queue.Start()
		defer queue.Stop()

		if cfg.InitialGraphID != "" {
			preloader.MarkReady(network.Key{GraphID: cfg.InitialGraphID})
		}

		loop := poller.New(poller.Config{
			Broker:          brokerClient,
			Queue:           queue,
			Buffer:          buffer,
			Tracker:         trk,
			Logger:          logger,
			MachineID:       machineID,
			WorkerVersion:   Version,
			Processors:      processors,
			LoadedNetworkID: func() string { return loadedNetworkID },
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var srv *http.Server
		if cfg.ListenForSinglePoint {
			api := httpapi.New(single, queue, func() string { return loadedNetworkID }, collector, logger)
			srv = &http.Server{Addr: cfg.ListenAddress, Handler: api}
			go func() {
				logger.Info("single-point listener starting", "address", cfg.ListenAddress)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("single-point listener failed", "error", err)
				}
			}()
		}

		go loop.Run(ctx)

		<-ctx.Done()
		logger.Info("shutdown signal received, draining")

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("single-point listener shutdown error", "error", err)
			}
		}
		return nil
	},
}
