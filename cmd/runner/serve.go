package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"covhook/scan-runner/internal/api"
	"covhook/scan-runner/internal/config"
	"covhook/scan-runner/internal/metrics"
	"covhook/scan-runner/internal/worker"
)

func addServeCommandTo(parent *cobra.Command, configPath *string) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept push events over HTTP and run scans on a worker pool.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
	parent.AddCommand(cmd)
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log)
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	metrics.Register()

	opts := worker.Options{Workers: cfg.Scan.Workers, QueueSize: cfg.Scan.QueueSize}
	if cfg.State.DistributedDedup {
		owner, _ := os.Hostname()
		owner += "/" + uuid.NewString()
		opts.Claimer = worker.NewRedisClaimer(a.redis, cfg.State.KeyPrefix, owner, cfg.Server.SyncTimeout)
	}
	pool := worker.NewPool(a.orchestrator, opts, log)

	if cfg.Server.WebhookSecret == "" {
		log.Warn("server.webhook_secret is empty, GitLab hooks are accepted without a token")
	}
	server := api.NewServer(pool, a.store, api.Options{
		WebhookSecret: cfg.Server.WebhookSecret,
		Sync:          cfg.Scan.Mode == config.ModeSync,
		SyncTimeout:   cfg.Server.SyncTimeout,
	}, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.SyncTimeout + 30*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).WithField("services", a.store.Len()).Info("scan runner listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("scans still running at exit")
	}
	return nil
}
