package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drewdunne/bicepmigrate/internal/event"
	"github.com/drewdunne/bicepmigrate/internal/handler"
	"github.com/drewdunne/bicepmigrate/internal/logging"
	"github.com/drewdunne/bicepmigrate/internal/provider"
	"github.com/drewdunne/bicepmigrate/internal/registry"
	"github.com/drewdunne/bicepmigrate/internal/runner"
	"github.com/drewdunne/bicepmigrate/internal/server"
)

const (
	logCleanupInterval      = time.Hour
	debounceCleanupInterval = time.Minute
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), root)
		},
	}
}

func serve(ctx context.Context, root *rootOptions) error {
	cfg, err := loadConfig(root.configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	providers := registry.New(cfg)
	if len(providers.List()) == 0 {
		return fmt.Errorf("no provider configured: set providers.gitlab.token or providers.github.token")
	}

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	if cfg.Logging.Dir != "" && cfg.Logging.RetentionDays > 0 {
		cleaner := logging.NewCleaner(cfg.Logging.Dir, cfg.Logging.RetentionDays)
		scheduler := logging.NewCleanupScheduler(cleaner, logCleanupInterval, logger)
		cleanupCtx, stopCleanup := context.WithCancel(ctx)
		cleanupDone := make(chan struct{})
		go func() {
			defer close(cleanupDone)
			scheduler.Run(cleanupCtx)
		}()
		defer func() {
			stopCleanup()
			<-cleanupDone
		}()
	}

	runs := runner.NewManager(runner.Config{
		MaxConcurrent: cfg.Runs.MaxConcurrent,
		QueueSize:     cfg.Runs.QueueSize,
	}, logger)
	defer runs.Shutdown()

	migrations := handler.NewMigrationHandler(providers, func(p provider.Provider) handler.Runner {
		return d.newOrchestrator(p)
	}, runs, logger)
	router := event.NewRouter(cfg, migrations.Handle, logger)

	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	go func() {
		ticker := time.NewTicker(debounceCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				router.Cleanup()
			case <-stopCleanup:
				return
			}
		}
	}()

	srv := server.New(cfg,
		server.WithRouter(router),
		server.WithRunStats(runs),
		server.WithLogger(logger),
	)

	logger.Info("starting bicepmigrate",
		zap.String("version", version),
		zap.Strings("providers", providers.List()),
		zap.String("backend", cfg.Generation.Backend),
	)
	return srv.Run(ctx)
}
