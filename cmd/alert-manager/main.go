// cmd/alert-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"immo-alerts/internal/api"
	"immo-alerts/internal/common/camunda"
	"immo-alerts/internal/common/config"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/store/postgres"
	"immo-alerts/internal/workers/trigger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "alert-manager",
		Short:         "Real-estate alert matching and chat onboarding service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (defaults to ./configs/config.yaml)")

	load := func() (*config.Config, *zap.Logger, logger.Logger, error) {
		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadFromFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return nil, nil, nil, err
		}
		zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
		return cfg, zapLog, logger.NewZapAdapter(zapLog), nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scheduler and the optional zeebe workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, zapLog, log, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = zapLog.Sync() }()
			return serve(cmd.Context(), cfg, log)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:       "run <ingest|enrich|match>",
		Short:     "Run one job pass synchronously and print its counts",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"ingest", "enrich", "match"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, zapLog, log, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = zapLog.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			counts, err := a.scheduler.RunNow(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{"job": args[0], "counts": counts})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, zapLog, log, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = zapLog.Sync() }()
			if cfg.Storage.Driver != config.StoragePostgres {
				return fmt.Errorf("migrate needs storage.driver=%s, got %s", config.StoragePostgres, cfg.Storage.Driver)
			}

			a := &app{cfg: cfg, log: log, checks: map[string]api.CheckFunc{}}
			if err := a.initStorage(cmd.Context()); err != nil {
				return err
			}
			defer a.close()
			if err := postgres.Migrate(cmd.Context(), a.pg.DB); err != nil {
				return err
			}
			log.Info("schema migrated", nil)
			return nil
		},
	})

	return root
}

func serve(parent context.Context, cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting alert manager", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
		"storage":     cfg.Storage.Driver,
		"delivery":    cfg.Delivery.Provider,
	})

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if a.indexer != nil {
		if err := a.indexer.EnsureIndex(ctx); err != nil {
			log.Warn("search index not ready", map[string]interface{}{"error": err})
		}
	}

	a.scheduler.Start(ctx)
	defer a.scheduler.Stop()

	if cfg.Camunda.Enabled {
		zc, err := camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
			MaxRetries:             10,
			BaseDelay:              2 * time.Second,
			MaxDelay:               30 * time.Second,
		})
		if err != nil {
			return err
		}
		defer func() { _ = zc.Close() }()
		a.checks["zeebe"] = zc.HealthCheck

		workers := trigger.StartAll(zc.GetClient(), a.scheduler, &trigger.Config{
			Timeout: config.GetDuration(cfg.Camunda.Timeout),
		}, cfg.Camunda.MaxJobsActive, log)
		defer workers.Stop()
		log.Info("zeebe triggers enabled", map[string]interface{}{"taskTypes": workers.TaskTypes()})
	}

	srv := api.NewServer(api.Deps{
		Conversation: a.conversation,
		Jobs:         a.scheduler,
		Matches:      a.stores.Matches,
		Search:       a.searcher(),
		Checks:       a.checks,
		VerifyToken:  cfg.APIs.WhatsApp.VerifyToken,
	}, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received", nil)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", map[string]interface{}{"error": err})
	}
	log.Info("alert manager stopped", nil)
	return nil
}
