package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/codefionn/scee/internal/authworker"
	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/sandbox"
	"github.com/codefionn/scee/internal/storage"
)

// runAuthWorker answers credential checks on stdin/stdout. Logs go to
// stderr, which the server forwards into its own log.
func runAuthWorker(args []string) error {
	fs := flag.NewFlagSet("auth-worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dbPath := fs.String("db", "", "SQLite database path")
	noSandbox := fs.Bool("no-sandbox", false, "Do not confine the process with Landlock")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error, none)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return fmt.Errorf("-db is required")
	}

	if err := logger.Init(logger.ParseLevel(*logLevel), logger.StderrPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Global().Close()

	if !*noSandbox {
		if err := sandbox.Restrict(sandbox.WorkerPolicy(*dbPath)); err != nil {
			return fmt.Errorf("failed to sandbox auth worker: %w", err)
		}
	}

	store, err := storage.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Ctrl-C reaches the whole process group; the server decides when the
	// worker stops
	signal.Ignore(os.Interrupt)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	logger.Debug("auth worker ready (pid=%d)", os.Getpid())
	return authworker.Serve(ctx, os.Stdin, os.Stdout, store)
}
