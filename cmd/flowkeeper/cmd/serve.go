package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/solatis/flowkeeper/internal/apistep"
	"github.com/solatis/flowkeeper/internal/core/api"
	"github.com/solatis/flowkeeper/internal/core/config"
	"github.com/solatis/flowkeeper/internal/core/db"
	"github.com/solatis/flowkeeper/internal/core/metrics"
	"github.com/solatis/flowkeeper/internal/core/server"
	"github.com/solatis/flowkeeper/internal/dialog"
	"github.com/solatis/flowkeeper/internal/rules"
	"github.com/solatis/flowkeeper/internal/variables"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC engine service",
	RunE:  runServe,
}

// serveFlagBindings maps config keys to serve flags.
var serveFlagBindings = map[string]string{
	"server.host":         "host",
	"server.port":         "port",
	"server.metrics_addr": "metrics-addr",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50061, "gRPC server port")
	serveCmd.Flags().String("metrics-addr", ":9090", "prometheus listen address (empty disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadConfig(configFile, cmd.Flags(), serveFlagBindings)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'flowkeeper migrate up' first", s.ID)
		}
	}

	store, err := db.NewStore(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	contacts, closeContacts, err := openContactStore(ctx, cfg.ContactStore)
	if err != nil {
		return err
	}
	defer closeContacts()

	sandbox, err := variables.NewSandboxCache(cfg.Sandbox.MaxContacts, m)
	if err != nil {
		return err
	}
	vars, err := variables.NewService(contacts, sandbox, variables.WithLogger(logger), variables.WithMetrics(m))
	if err != nil {
		return err
	}

	engine, err := rules.NewEngine(store, store, rules.WithLogger(logger), rules.WithMetrics(m))
	if err != nil {
		return err
	}
	executor := apistep.NewExecutor(
		apistep.WithDefaults(cfg.APIStep.DefaultTimeout, cfg.APIStep.DefaultMaxRetries),
		apistep.WithBackoffUnit(cfg.APIStep.BackoffUnit),
		apistep.WithLogger(logger),
		apistep.WithMetrics(m),
	)
	driver, err := dialog.NewDriver(engine, vars, executor, dialog.WithLogger(logger), dialog.WithStepSource(store))
	if err != nil {
		return err
	}

	service, err := api.NewFlowEngineService(engine, driver, vars, executor, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	grpcServer, err := server.NewGRPCServer(cfg.Server, service, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", cfg.Server.MetricsAddr, "error", err)
			}
		}()
	}

	logger.Info("starting flowkeeper engine",
		"version", Version,
		"addr", cfg.Server.Addr(),
		"metrics_addr", cfg.Server.MetricsAddr,
		"contact_store", cfg.ContactStore.Kind)

	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		logger.Info("shutting down gracefully")
		if metricsServer != nil {
			_ = metricsServer.Shutdown(ctx)
		}
		return grpcServer.Shutdown(ctx)
	}
}

// openContactStore builds the configured contact-variable store. The
// returned close func is always safe to call.
func openContactStore(ctx context.Context, cfg config.ContactStoreConfig) (variables.ContactStore, func(), error) {
	noop := func() {}
	switch cfg.Kind {
	case config.ContactStoreHTTP:
		store, err := variables.NewHTTPContactStore(cfg.URL, cfg.Token, cfg.Timeout)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case config.ContactStoreRedis:
		store, err := variables.NewRedisContactStore(ctx, variables.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.KeyPrefix,
		})
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, noop, nil
	}
}
