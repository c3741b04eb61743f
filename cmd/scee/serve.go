package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/codefionn/scee/internal/admin"
	"github.com/codefionn/scee/internal/authbridge"
	"github.com/codefionn/scee/internal/config"
	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/metrics"
	"github.com/codefionn/scee/internal/pidfile"
	"github.com/codefionn/scee/internal/securemem"
	"github.com/codefionn/scee/internal/socketserver"
	"github.com/codefionn/scee/internal/storage"
)

const shutdownTimeout = consts.Timeout10Seconds

type serveFlags struct {
	configPath    string
	listenAddr    string
	websocketAddr string
	adminAddr     string
	databasePath  string
	noSandbox     bool
}

func parseServeArgs(args []string) (*serveFlags, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	f := &serveFlags{}
	fs.StringVar(&f.configPath, "config", config.GetConfigPath(), "Path to the JSON config file")
	fs.StringVar(&f.listenAddr, "listen", "", "TCP address for chat clients (overrides config)")
	fs.StringVar(&f.websocketAddr, "websocket", "", "Address for the WebSocket listener (overrides config)")
	fs.StringVar(&f.adminAddr, "admin", "", "Address for the admin HTTP server (overrides config)")
	fs.StringVar(&f.databasePath, "db", "", "SQLite database path (overrides config)")
	fs.BoolVar(&f.noSandbox, "no-sandbox", false, "Do not confine the auth worker with Landlock")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

func loadServeConfig(f *serveFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()

	if f.listenAddr != "" {
		cfg.ListenAddr = f.listenAddr
	}
	if f.websocketAddr != "" {
		cfg.WebSocketAddr = f.websocketAddr
	}
	if f.adminAddr != "" {
		cfg.AdminAddr = f.adminAddr
	}
	if f.databasePath != "" {
		cfg.DatabasePath = f.databasePath
	}
	if f.noSandbox {
		cfg.Auth.Sandbox = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// workerArgs is the command line serve uses to start its auth worker
func workerArgs(cfg *config.Config) []string {
	args := []string{"auth-worker", "-db", cfg.DatabasePath, "-log-level", cfg.LogLevel}
	if !cfg.Auth.Sandbox {
		args = append(args, "-no-sandbox")
	}
	return args
}

func runServe(args []string) (err error) {
	flags, err := parseServeArgs(args)
	if err != nil {
		return err
	}
	cfg, err := loadServeConfig(flags)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	defer securemem.Purge()

	logger.Info("scee starting")
	logger.Debug("Configuration loaded: listen=%s, db=%s, log_level=%s", cfg.ListenAddr, cfg.DatabasePath, cfg.LogLevel)

	if cfg.PIDFile != "" {
		pf := pidfile.New(cfg.PIDFile)
		if err := pf.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := pf.Release(); err != nil {
				logger.Warn("%v", err)
			}
		}()
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own executable: %w", err)
	}

	m := metrics.New()
	bridge := authbridge.New(authbridge.ExecLauncher(exe, workerArgs(cfg)...), authbridge.Options{
		QueueSize:      cfg.Auth.QueueSize,
		RequestTimeout: cfg.Auth.RequestTimeout(),
		ShutdownGrace:  cfg.Auth.ShutdownGrace(),
		Metrics:        m,
	})
	srv := socketserver.NewServer(socketserver.OptionsFromConfig(cfg, m), store, bridge)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return err
	}

	var adminSrv *admin.Server
	if cfg.AdminAddr != "" {
		var opts []admin.Option
		if cfg.AdminProfiling {
			opts = append(opts, admin.WithProfiling())
		}
		adminSrv = admin.NewServer(cfg.AdminAddr, bridge, srv.Hub(), m.Registry, opts...)
		if err := adminSrv.Start(); err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			_ = srv.Stop(stopCtx)
			return err
		}
	}

	if err := config.Watch(ctx, flags.configPath, func(next *config.Config) {
		level := logger.ParseLevel(next.LogLevel)
		logger.Global().SetLevel(level)
		logger.Info("Log level set to %s", level)
	}); err != nil {
		logger.Warn("Config reload disabled: %v", err)
	}

	operations := map[string]gfshutdown.Operation{
		"chat-server": func(ctx context.Context) error {
			logger.Info("Graceful shutdown initiated...")
			return srv.Stop(ctx)
		},
	}
	if adminSrv != nil {
		operations["admin"] = func(ctx context.Context) error {
			return adminSrv.Stop(ctx)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Wait()
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, operations)

	exited := func(code int) error {
		logger.Info("scee exited with code %d", code)
		if code != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", code)
		}
		return nil
	}

	select {
	case code := <-wait:
		return exited(code)

	case werr := <-serveErr:
		if werr == nil {
			// Listeners closed by a signal driven shutdown that is still running
			return exited(<-wait)
		}

		// The accept loop failed on its own; shut down without a signal
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		errs := []error{werr}
		for name, op := range operations {
			if opErr := op(stopCtx); opErr != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, opErr))
			}
		}
		return errors.Join(errs...)
	}
}
