package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lememe/leme/config"
	"github.com/lememe/leme/logger"
	"github.com/lememe/leme/pkg/errors"
	"github.com/lememe/leme/pkg/metrics"
	"github.com/lememe/leme/pkg/resilient"
	"github.com/lememe/leme/reports"
	"github.com/lememe/leme/server/httpapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	errorHandler := errors.NewErrorHandler()
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", defaultConfigPath, "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("leme version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(0)
	}

	loadAndValidateConfig(*configPath, &cfg, errorHandler)

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "LEME: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer func(f *os.File) {
			if err := f.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "LEME: Error closing log file %s: %v\n", f.Name(), err)
			}
		}(logFile)
	}

	logger.Info("LEME report API starting", "version", version, "commit", commit, "built", date)
	logger.Info("Logging configured", "format", cfg.Logging.Format, "level", cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	connector, err := newConnector(cfg.Database)
	if err != nil {
		errorHandler.FatalError("create database connector", err)
		os.Exit(errorHandler.WaitForExit())
	}
	policy, err := resilient.StartupPolicy(cfg.Database)
	if err != nil {
		errorHandler.FatalError("read connect retry policy", err)
		os.Exit(errorHandler.WaitForExit())
	}
	queryTimeout, err := cfg.Database.GetQueryTimeout()
	if err != nil {
		errorHandler.FatalError("read query timeout", err)
		os.Exit(errorHandler.WaitForExit())
	}
	shutdownTimeout, err := cfg.HTTP.GetShutdownTimeout()
	if err != nil {
		errorHandler.FatalError("read shutdown timeout", err)
		os.Exit(errorHandler.WaitForExit())
	}

	registry, err := reports.NewDefaultRegistry(cfg.Reports)
	if err != nil {
		errorHandler.ValidationError("reports", err)
		os.Exit(errorHandler.WaitForExit())
	}

	manager := resilient.NewPoolManager(connector, policy)
	defer manager.Close()

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	if cfg.Metrics.Enabled {
		interval, err := cfg.Metrics.GetCollectInterval()
		if err != nil {
			errorHandler.FatalError("read metrics collect interval", err)
			os.Exit(errorHandler.WaitForExit())
		}
		collector := metrics.NewCollector(manager, interval)
		go collector.Start(ctx)
		defer collector.Stop()

		wg.Add(1)
		go func() {
			defer wg.Done()
			startMetricsServer(ctx, cfg.Metrics, errChan)
		}()
	}

	// The listener comes up first so /status answers while the database is down.
	wg.Add(1)
	go func() {
		defer wg.Done()
		httpapi.Start(ctx, manager, registry, httpapi.ServerOptions{
			Addr:            cfg.HTTP.Addr(),
			CORSOrigin:      cfg.HTTP.CORSOrigin,
			ShutdownTimeout: shutdownTimeout,
			QueryTimeout:    queryTimeout,
			TLS:             cfg.HTTP.TLS,
			TLSCertFile:     cfg.HTTP.TLSCertFile,
			TLSKeyFile:      cfg.HTTP.TLSKeyFile,
		}, errChan)
	}()

	go func() {
		if _, err := manager.StartupConnect(ctx); err != nil {
			logger.Warn("Serving without a database pool; requests will reconnect on demand", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		errorHandler.Shutdown(ctx)

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			logger.Info("All listeners closed")
		case <-time.After(shutdownTimeout + 5*time.Second):
			logger.Warn("Listener shutdown timeout reached", "timeout", shutdownTimeout+5*time.Second)
		}
	case err := <-errChan:
		errorHandler.FatalError("server operation", err)
		manager.Close()
		os.Exit(errorHandler.WaitForExit())
	}
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, errChan chan error) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down metrics server", "component", "METRICS")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down metrics server", "component", "METRICS", "error", err)
		}
	}()

	logger.Info("Starting metrics server", "component", "METRICS", "addr", cfg.Addr, "path", cfg.Path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}
