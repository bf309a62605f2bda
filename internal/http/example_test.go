package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/validationd/internal/checkpoint"
	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/executor"
	"github.com/fyrsmithlabs/validationd/internal/gate"
	httpserver "github.com/fyrsmithlabs/validationd/internal/http"
	"github.com/fyrsmithlabs/validationd/internal/pivot"
	"github.com/fyrsmithlabs/validationd/internal/run"
	"github.com/fyrsmithlabs/validationd/internal/store"
)

// ExampleServer demonstrates how to assemble and start the HTTP server.
func ExampleServer() {
	logger := zap.NewNop()
	st := store.NewMemoryStore()

	evaluator, err := gate.NewEvaluator(nil)
	if err != nil {
		panic(err)
	}
	limiter, err := pivot.NewLimiter(pivot.DefaultCaps())
	if err != nil {
		panic(err)
	}
	manager, err := checkpoint.NewManager(checkpoint.DefaultConfig(), st, nil, logger)
	if err != nil {
		panic(err)
	}
	controller, err := run.NewController(st, evidence.NewAggregator(logger), evaluator,
		limiter, manager, nil, logger)
	if err != nil {
		panic(err)
	}

	exec, err := executor.NewLocalExecutor(executor.NoopRunner{}, controller, logger)
	if err != nil {
		panic(err)
	}
	defer exec.Close()
	controller.SetExecutor(exec)

	// Configure the server
	cfg := &httpserver.Config{
		Host: "localhost",
		Port: 9090,
	}

	server, err := httpserver.NewServer(controller, logger, cfg)
	if err != nil {
		panic(err)
	}

	// Start server in background
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
