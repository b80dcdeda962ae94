package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/flowpbx/tenantpbx/internal/agi"
	"github.com/flowpbx/tenantpbx/internal/api"
	"github.com/flowpbx/tenantpbx/internal/callauth"
	"github.com/flowpbx/tenantpbx/internal/config"
	"github.com/flowpbx/tenantpbx/internal/database"
	"github.com/flowpbx/tenantpbx/internal/metrics"
	"github.com/flowpbx/tenantpbx/internal/provision"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin HTTP API and the FastAGI server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	startTime := time.Now()

	logger.Info("starting tenantpbx",
		"http_port", cfg.HTTPPort,
		"agi_port", cfg.AGIPort,
		"db_driver", cfg.DBDriver,
		"dialplan_dir", cfg.DialplanDir,
		"reload_mode", cfg.ReloadMode,
	)

	secret, err := cfg.AdminJWTSecretBytes()
	if err != nil {
		return err
	}
	if secret == nil {
		logger.Warn("admin-jwt-secret not set, admin API is unauthenticated")
	}

	if err := os.MkdirAll(cfg.DialplanDir, 0o755); err != nil {
		return fmt.Errorf("creating dialplan dir: %w", err)
	}

	db, err := database.Open(database.Options{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.DBMaxConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewRecorder(reg)

	authorizer := callauth.NewService(database.NewEndpointRepository(db), logger)

	agiSrv := agi.NewServer(cfg.AGIAddr(), agi.NewHandler(authorizer, cfg.AGIVariablesTimeout, rec), logger)
	if err := agiSrv.Start(appCtx); err != nil {
		return err
	}

	reg.MustRegister(metrics.NewCollector(
		database.NewTenantRepository(db),
		database.NewEndpointRepository(db),
		agiSrv,
		startTime,
	))

	workflow := provision.NewWorkflow(db, provision.Options{
		Dir:           cfg.DialplanDir,
		AGIURL:        cfg.AGIURL,
		Reloader:      newReloader(cfg),
		ReloadTimeout: cfg.ReloadTimeout,
		Metrics:       rec,
	}, logger)

	handler := api.NewServer(api.Options{
		Tenants:     workflow,
		Extensions:  provision.NewExtensionProvisioner(db, rec, logger),
		Authorizer:  authorizer,
		DB:          db,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminSecret: secret,
	}, logger)
	defer handler.Close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case runErr = <-errCh:
		logger.Error("http server error", "error", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("shutting down servers")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	agiSrv.Stop()

	logger.Info("tenantpbx stopped")
	return runErr
}

// newReloader returns the dialplan reload trigger for cfg.ReloadMode.
func newReloader(cfg *config.Config) provision.ReloadTrigger {
	switch cfg.ReloadMode {
	case config.ReloadARI:
		return provision.NewARIReloader(provision.ARIOptions{
			Application:  cfg.ARIApplication,
			Username:     cfg.ARIUsername,
			Password:     cfg.ARIPassword,
			URL:          cfg.ARIURL,
			WebsocketURL: cfg.ARIWebsocketURL,
		})
	case config.ReloadNone:
		return provision.NopReloader{}
	default:
		return provision.CommandReloader{Command: cfg.ReloadCommand}
	}
}
