// Package main implements the sensorsim command: it manages the sensor fleet
// in the inventory service and streams synthetic readings to a broker.
package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sensorsim/broker"
	"github.com/c360/sensorsim/config"
	"github.com/c360/sensorsim/errors"
	"github.com/c360/sensorsim/health"
	"github.com/c360/sensorsim/inventory"
	"github.com/c360/sensorsim/metric"
	"github.com/c360/sensorsim/pkg/retry"
	"github.com/c360/sensorsim/simulation"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sensorsim"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		code := exitCode(err)
		slog.Error("Command failed", "error", err, "class", errors.Classify(err).String(), "exit_code", code)
		os.Exit(code)
	}
}

// exitCode maps an error class to a process status: 2 for bad usage or
// configuration input, 1 for fatal failures and 75 (EX_TEMPFAIL) for
// transient ones that a supervisor may retry.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsInvalid(err):
		return 2
	case errors.IsFatal(err):
		return 1
	default:
		return 75
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cliCfg, err := parseFlags(args, stderr)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errors.WrapInvalid(fmt.Errorf("invalid flags: %w", err), "CLI", "run", "parse flags")
	}
	if err := validateFlags(cliCfg); err != nil {
		return errors.WrapInvalid(fmt.Errorf("invalid flags: %w", err), "CLI", "run", "validate flags")
	}
	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Debug("Configuration loaded", "config", cfg.String())

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	a, err := newApp(cliCfg, cfg, registry, logger, stdin, stdout, simulation.WithHealth(monitor))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Port > 0 {
		server, errCh, err := startMetricsServer(cfg.Metrics, registry, monitor, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return serveMetrics(gctx, server, errCh, logger)
		})
	}

	g.Go(func() error {
		defer cancel()
		return a.execute(gctx)
	})
	return g.Wait()
}

// loadConfig layers the config file, .env and environment, then applies the
// flag overrides.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	if cliCfg.EnvFile != "" {
		loader.AddEnvFile(cliCfg.EnvFile, cliCfg.EnvFileSet)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	if cliCfg.MetricsPort >= 0 {
		cfg.Metrics.Port = cliCfg.MetricsPort
	}
	return cfg, nil
}

func newApp(
	cliCfg *CLIConfig,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
	stdin io.Reader,
	stdout io.Writer,
	opts ...simulation.Option,
) (*app, error) {
	profiles, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	retryCfg := inventory.DefaultRetry()
	retryCfg.MaxAttempts = cfg.Inventory.RetryAttempts
	if retryCfg.MaxAttempts <= 1 {
		retryCfg = retry.None()
	}

	client := inventory.NewClient(cfg.Inventory.BaseURL,
		inventory.WithTimeout(cfg.Inventory.Timeout),
		inventory.WithRateLimit(cfg.Inventory.RequestsPerSecond, cfg.Inventory.Burst),
		inventory.WithRetry(retryCfg),
		inventory.WithLogger(logger),
		inventory.WithMetrics(registry.CoreMetrics()),
	)

	connector, err := broker.New(cfg.Broker, logger)
	if err != nil {
		return nil, err
	}

	supOpts := []simulation.Option{
		simulation.WithRegistry(profiles),
		simulation.WithQueue(cfg.Broker.Queue),
		simulation.WithLogger(logger),
		simulation.WithMetrics(registry),
	}
	supervisor := simulation.NewSupervisor(client, connector, append(supOpts, opts...)...)

	return &app{
		cli:        cliCfg,
		logger:     logger,
		inventory:  client,
		supervisor: supervisor,
		in:         bufio.NewReader(stdin),
		out:        stdout,
	}, nil
}

// startMetricsServer binds the /metrics and /health listener.
func startMetricsServer(
	cfg config.MetricsConfig,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*metric.Server, <-chan error, error) {
	server := metric.NewServer(cfg.Port, cfg.Path, registry, metric.WithHealth(func() health.Status {
		return monitor.AggregateHealth(appName)
	}))
	errCh, err := server.Start()
	if err != nil {
		return nil, nil, fmt.Errorf("start metrics server: %w", err)
	}
	logger.Info("Metrics server listening", "address", server.Address(), "path", cfg.Path)
	return server, errCh, nil
}

// serveMetrics keeps the metrics server up until ctx is done. A serve failure
// is returned so the command stops with it.
func serveMetrics(ctx context.Context, server *metric.Server, errCh <-chan error, logger *slog.Logger) error {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("Metrics server failed", "error", err)
			return fmt.Errorf("metrics server: %w", err)
		}
		<-ctx.Done()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown failed", "error", err)
	}
	return nil
}
