// Package main is the entry point for the nomosd daemon: an HTTP host
// around the enforcement engine with contract hot reload, a decision
// API, an admin publish API, and Prometheus/OTLP telemetry.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nomoslabs/nomos/internal/governance"
	"github.com/nomoslabs/nomos/pkg/config"
	"github.com/nomoslabs/nomos/pkg/domain"
	"github.com/nomoslabs/nomos/pkg/engine"
	"github.com/nomoslabs/nomos/pkg/logging"
	"github.com/nomoslabs/nomos/pkg/middleware"
	"github.com/nomoslabs/nomos/pkg/registry"
	"github.com/nomoslabs/nomos/pkg/storage"
	"github.com/nomoslabs/nomos/pkg/telemetry"
)

const (
	defaultListenAddr = ":8090"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	listenAddr := flag.String("listen", defaultListenAddr, "Address to listen on")
	configPath := flag.String("config", "", "Contract document to load and watch (optional)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	prettyLogs := flag.Bool("pretty", false, "Enable pretty console logging")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP/gRPC trace endpoint (empty disables tracing export)")
	otlpInsecure := flag.Bool("otlp-insecure", false, "Use plaintext for the OTLP endpoint")
	defaultTenant := flag.String("default-tenant", "", "Tenant assumed when requests carry no tenant header")
	postureFlag := flag.String("posture", string(middleware.PostureFailOpen), "Posture for unconfigured tenants (fail-open, fail-closed)")
	publishRPS := flag.Int("publish-rps", 5, "Per-tenant publish rate limit, requests per second")
	publishBurst := flag.Int("publish-burst", 10, "Per-tenant publish burst size")
	flag.Parse()

	logger := logging.NewLogger(logging.Config{
		Level:  *logLevel,
		Pretty: *prettyLogs,
	})
	slog.SetDefault(logger)

	posture, err := middleware.ParsePosture(*postureFlag)
	if err != nil {
		logger.Error("Invalid posture flag", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "nomosd",
		Endpoint:    *otlpEndpoint,
		Insecure:    *otlpInsecure,
	})
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting nomosd", "listen", *listenAddr, "config", *configPath)

	// Core components: predicate registry, version store, contract
	// registry, gateway.
	metrics := telemetry.NewMetrics()
	reg := registry.New(registry.Options{
		Store:  storage.NewMemoryContractStore(),
		Logger: logger,
	})
	gateway := engine.New(engine.Config{Registry: reg, Metrics: metrics})
	limiter := governance.NewTenantLimiter(governance.LimitConfig{
		RequestsPerSecond: *publishRPS,
		BurstSize:         *publishBurst,
	})

	go watchRegistry(reg, metrics)

	var provider *config.FileProvider
	if *configPath != "" {
		provider, err = config.NewFileProvider(*configPath, reg, logger)
		if err != nil {
			logger.Error("Failed to initialize contract provider", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := provider.Close(); err != nil {
				logger.Error("Failed to close contract provider", "error", err)
			}
		}()
	}

	api := newAPIServer(apiServerConfig{
		Registry:      reg,
		Gateway:       gateway,
		Metrics:       metrics,
		Limiter:       limiter,
		Logger:        logger,
		DefaultTenant: domain.TenantID(*defaultTenant),
		Posture:       posture,
	})

	server := startServer(*listenAddr, api.Handler(), logger)

	waitForShutdown(server, provider, reg, shutdownTracing, logger)
}

// watchRegistry mirrors publish events into the registry gauges.
func watchRegistry(reg *registry.Registry, metrics *telemetry.Metrics) {
	for event := range reg.Subscribe() {
		metrics.SetRegistryGeneration(event.Generation)
		metrics.SetContractsLoaded(reg.Count())
	}
}

func startServer(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Handler:      otelhttp.NewHandler(handler, "nomosd.api"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("Failed to bind listener", "addr", addr, "error", err)
		os.Exit(1)
	}

	logger.Info("Server listening", "addr", listener.Addr().String())

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(server *http.Server, provider *config.FileProvider, reg *registry.Registry, shutdownTracing func(context.Context) error, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			// Force a contract reload without waiting for a file event.
			if provider == nil {
				logger.Info("SIGHUP received but no contract document is configured")
				continue
			}
			logger.Info("SIGHUP received, reloading contracts")
			if err := provider.Load(context.Background()); err != nil {
				logger.Error("Contract reload failed", "error", err)
			}
			continue
		}

		logger.Info("Shutting down", "signal", sig.String())
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	if err := reg.Close(); err != nil {
		logger.Error("Registry close error", "error", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("Tracing shutdown error", "error", err)
	}
}
