// Validationd is the business-validation pipeline daemon.
//
// It drives projects through the phased validation pipeline
// (quickstart through final decision), evaluates evidence gates,
// suspends runs into human checkpoints, and enforces pivot budgets.
// State lives in SQLite; run events are published to NATS when
// configured.
//
// Usage:
//
//	# Start daemon with defaults
//	validationd
//
//	# Configure via file and environment
//	validationd -config ~/.config/validationd/config.yaml
//	STORAGE_PATH=/var/lib/validationd/runs.db validationd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/validationd/internal/checkpoint"
	"github.com/fyrsmithlabs/validationd/internal/config"
	"github.com/fyrsmithlabs/validationd/internal/events"
	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/executor"
	"github.com/fyrsmithlabs/validationd/internal/gate"
	httpserver "github.com/fyrsmithlabs/validationd/internal/http"
	"github.com/fyrsmithlabs/validationd/internal/logging"
	"github.com/fyrsmithlabs/validationd/internal/pivot"
	"github.com/fyrsmithlabs/validationd/internal/run"
	"github.com/fyrsmithlabs/validationd/internal/store"
	"github.com/fyrsmithlabs/validationd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ~/.config/validationd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  validationd           Start the validationd daemon\n")
			fmt.Fprintf(os.Stderr, "  validationd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := runDaemon(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("validationd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// runDaemon starts the validationd server and blocks until context is
// cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize telemetry and structured logging
//  3. Open the SQLite run store
//  4. Connect to NATS (or fall back to the no-op publisher)
//  5. Wire the domain: aggregator, gates, limiter, checkpoints, runs
//  6. Start the phase executor and checkpoint sweeper
//  7. Start the HTTP server; drain everything on cancellation
func runDaemon(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to prepare config directory: %w", err)
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Telemetry before logging so the logger can dual-write to OTEL.
	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	telCfg.ServiceName = cfg.Observability.ServiceName
	telCfg.ServiceVersion = version
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg := logging.NewDefaultConfig()
	logCfg.Output.OTEL = tel.IsEnabled()
	appLogger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := appLogger.Underlying()
	defer func() {
		_ = appLogger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting validationd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.HTTP.Port),
		zap.String("service", cfg.Observability.ServiceName),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	// Run store
	st, err := store.OpenSQLite(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer st.Close()

	// Event publisher
	publisher, natsConn, err := initPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		publisher.Close()
		if natsConn != nil {
			natsConn.Close()
		}
	}()

	// Domain wiring
	evaluator, err := gate.NewEvaluator(&cfg.Gates)
	if err != nil {
		return fmt.Errorf("failed to build gate evaluator: %w", err)
	}
	limiter, err := pivot.NewLimiter(cfg.Limits)
	if err != nil {
		return fmt.Errorf("failed to build pivot limiter: %w", err)
	}
	checkpoints, err := checkpoint.NewManager(cfg.Checkpoint, st, publisher, logger)
	if err != nil {
		return fmt.Errorf("failed to build checkpoint manager: %w", err)
	}
	controller, err := run.NewController(st, evidence.NewAggregator(logger), evaluator,
		limiter, checkpoints, publisher, logger)
	if err != nil {
		return fmt.Errorf("failed to build run controller: %w", err)
	}

	exec, err := initExecutor(cfg, controller, logger)
	if err != nil {
		return fmt.Errorf("failed to start phase executor: %w", err)
	}
	defer exec.Close()
	controller.SetExecutor(exec)

	// Checkpoint sweep loop: escalations and expiry archiving.
	sweeper, err := checkpoint.NewSweeper(cfg.Checkpoint, st, controller, publisher, logger,
		checkpoint.WithSweepInterval(cfg.Sweep.Interval))
	if err != nil {
		return fmt.Errorf("failed to build checkpoint sweeper: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start checkpoint sweeper: %w", err)
	}
	defer sweeper.Stop()

	srv, err := httpserver.NewServer(controller, logger, &httpserver.Config{
		Host:      cfg.Server.HTTP.Host,
		Port:      cfg.Server.HTTP.Port,
		RateLimit: cfg.Server.HTTP.RateLimit,
		RateBurst: cfg.Server.HTTP.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to build http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)),
		zap.String("metrics_endpoint", "/metrics"),
		zap.String("executor_mode", cfg.Executor.Mode),
		zap.Bool("nats_connected", natsConn != nil))

	// Serve until cancellation, then drain.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

// initPublisher connects to NATS when enabled, otherwise returns the
// no-op publisher. The daemon runs fine without an event stream.
func initPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, *nats.Conn, error) {
	if !cfg.NATS.Enabled {
		logger.Info("NATS disabled, run events will not be published")
		return events.NoopPublisher{}, nil, nil
	}

	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
	}
	if cfg.NATS.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.NATS.Token.Value()))
	}

	nc, err := nats.Connect(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	return events.NewNATSPublisher(nc, logger), nc, nil
}

// initExecutor builds the configured phase executor. Crew execution is
// an integration point: both executors run the registered PhaseRunner,
// which here reports no evidence and leaves ingestion to the API.
func initExecutor(cfg *config.Config, controller *run.Controller, logger *zap.Logger) (executor.Executor, error) {
	switch cfg.Executor.Mode {
	case "temporal":
		return executor.NewTemporalExecutor(cfg.Executor.Temporal, executor.NoopRunner{}, controller, logger)
	default:
		return executor.NewLocalExecutor(executor.NoopRunner{}, controller, logger)
	}
}
