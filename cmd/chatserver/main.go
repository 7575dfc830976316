// Package main runs the demonstration chat server: one contract served over
// all four HTTP endpoint kinds plus a WebSocket endpoint, wired to the
// configuration, metrics, and optional NATS fan-out layers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/ricsam/richie-rpc-sub000/config"
	"github.com/ricsam/richie-rpc-sub000/health"
	"github.com/ricsam/richie-rpc-sub000/metric"
	"github.com/ricsam/richie-rpc-sub000/socket"
)

const (
	Version = "0.1.0"
	appName = "chatserver"
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

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if cliCfg.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath, logger)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	var metrics *metric.Registry
	if cfg.Metrics.Enabled {
		metrics = metric.NewRegistry()
	}

	monitor := health.NewMonitor()

	broker, natsConn, err := setupBroker(cfg, logger)
	if err != nil {
		return err
	}
	if natsConn != nil {
		defer natsConn.Close()
		monitor.Healthy("nats", "backplane connected")
	}

	app := newApp(cfg, logger, metrics, broker)
	monitor.Healthy("socket", "router ready")

	mux := http.NewServeMux()
	mux.Handle("/healthz", monitor.Handler())
	mux.Handle("/", app.handler())

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.Addr)
		monitor.Healthy("http", "listening on "+cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitor.Unhealthy("http", "listener failed")
			errCh <- err
		}
	}()

	var metricsServer *http.Server
	if metrics != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics server listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown incomplete", "error", err)
		}
	}
	if err := app.close(); err != nil {
		logger.Warn("socket shutdown incomplete", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// loadConfig reads the config file when one exists; a missing file at the
// default path falls back to Default so the server runs out of the box.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("no config file found, using defaults", "path", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

// setupBroker picks the socket fan-out backplane: in-process by default,
// NATS-backed when configured.
func setupBroker(cfg *config.Config, logger *slog.Logger) (socket.Broker, *nats.Conn, error) {
	if !cfg.NATS.Enabled {
		return socket.NewMemoryBroker(), nil, nil
	}

	conn, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait.Std()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	broker, err := socket.NewNATSBroker(conn, cfg.NATS.SubjectPrefix)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	logger.Info("NATS backplane connected", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	return broker, conn, nil
}
