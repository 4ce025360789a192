package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/drewdunne/bicepmigrate/internal/config"
	"github.com/drewdunne/bicepmigrate/internal/generate"
	_ "github.com/drewdunne/bicepmigrate/internal/generate/anthropic"
	_ "github.com/drewdunne/bicepmigrate/internal/generate/duo"
	"github.com/drewdunne/bicepmigrate/internal/lock"
	"github.com/drewdunne/bicepmigrate/internal/logging"
	"github.com/drewdunne/bicepmigrate/internal/notify"
	"github.com/drewdunne/bicepmigrate/internal/orchestrator"
	"github.com/drewdunne/bicepmigrate/internal/provider"
	"github.com/drewdunne/bicepmigrate/internal/record"
)

// deps holds what every orchestrator of a process shares.
type deps struct {
	cfg       *config.Config
	logger    *zap.Logger
	generator generate.Client
	locker    lock.Locker
	records   record.Store
	notifier  notify.Notifier
	runLogs   *logging.Writer
	template  string
	closers   []func()
}

// buildDeps connects the backends named in cfg. Empty URLs fall back to in-process
// implementations.
func buildDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*deps, error) {
	d := &deps{
		cfg:      cfg,
		logger:   logger,
		locker:   lock.NewLocal(),
		records:  record.NewMemory(),
		notifier: notify.Noop{},
	}

	gen, err := generate.New(cfg.Generation)
	if err != nil {
		return nil, fmt.Errorf("creating generation client: %w", err)
	}
	d.generator = gen

	if path := cfg.Generation.TemplatePath; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading prompt template: %w", err)
		}
		d.template = string(data)
	}

	if url := cfg.Lock.RedisURL; url != "" {
		client, err := lock.Connect(ctx, url)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { client.Close() })
		d.locker = lock.NewRedis(client, lock.WithTTL(time.Duration(cfg.Lock.TTLSeconds)*time.Second))
		d.records = record.NewRedis(client, 0)
		logger.Info("using redis for publish locks and records")
	}

	if url := cfg.Notify.NATSURL; url != "" {
		n, err := notify.Connect(url, cfg.Notify.Subject)
		if err != nil {
			d.close()
			return nil, err
		}
		d.closers = append(d.closers, n.Close)
		d.notifier = n
		logger.Info("publishing run outcomes", zap.String("subject", cfg.Notify.Subject))
	}

	if dir := cfg.Logging.Dir; dir != "" {
		d.runLogs = logging.NewWriter(dir)
	}

	return d, nil
}

// newOrchestrator builds an orchestrator for p on the shared dependencies.
func (d *deps) newOrchestrator(p provider.Provider) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithLocker(d.locker),
		orchestrator.WithRecordStore(d.records),
		orchestrator.WithNotifier(d.notifier),
		orchestrator.WithLogger(d.logger),
	}
	if d.runLogs != nil {
		opts = append(opts, orchestrator.WithRunLogs(d.runLogs))
	}
	if d.template != "" {
		opts = append(opts, orchestrator.WithTemplate(d.template))
	}
	return orchestrator.New(d.cfg, p, d.generator, opts...)
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}
