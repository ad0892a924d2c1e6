package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mcclellann/fredInvest/pkg/config"
	"github.com/mcclellann/fredInvest/pkg/events"
	"github.com/mcclellann/fredInvest/pkg/lock"
	"github.com/mcclellann/fredInvest/pkg/payout"
	"github.com/mcclellann/fredInvest/pkg/scheduler"
	"github.com/mcclellann/fredInvest/pkg/store"
	"github.com/mcclellann/fredInvest/pkg/store/memory"
	"github.com/mcclellann/fredInvest/pkg/store/postgres"
	"github.com/robfig/cron/v3"
)

// Runtime owns every long-lived component of the daemon.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	cron       *cron.Cron
	closers    []io.Closer
}

// NewRuntime loads configuration and wires storage, locking, events and the schedule.
func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	rt := &Runtime{cfg: cfg, logger: logger}
	if err := rt.build(ctx); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context) error {
	cfg := rt.cfg

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, storage)

	var lockStore store.LockStore = storage
	if cfg.LockBackend == config.LockBackendRedis {
		client, err := lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, client)
		lockStore = lock.NewRedisLockStore(client)
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	policy, err := payout.ParseMaturityPolicy(cfg.MaturityPolicy)
	if err != nil {
		return err
	}

	publisher := events.Publisher(events.NewLoggingPublisher(rt.logger))
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, pubErr := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if pubErr != nil {
			rt.logger.WarnContext(ctx, "kafka publisher disabled, using logging publisher", "error", pubErr)
		} else {
			publisher = kafkaPublisher
			rt.closers = append(rt.closers, kafkaPublisher)
		}
	}

	locks := lock.NewManager(lockStore, cfg.LockTTL, rt.logger)
	engine := payout.NewEngine(payout.Dependencies{
		Config: payout.Config{
			LockKey:        cfg.LockKey,
			Workers:        cfg.Workers,
			Precision:      cfg.Precision,
			MaturityPolicy: policy,
			PublishTimeout: cfg.PublishTimeout,
		},
		Accounts:  storage,
		Ledger:    storage,
		Locks:     locks,
		Plans:     catalog,
		Publisher: publisher,
		Logger:    rt.logger,
	})

	// Scheduled runs are bounded by the lock TTL so a stuck run cannot
	// overlap the next holder.
	trigger := scheduler.NewTrigger(ctx, engine, locks.TTL(), rt.logger)
	rt.cron = scheduler.New(rt.logger)
	if _, err := scheduler.Register(rt.cron, cfg.Schedule, trigger); err != nil {
		return err
	}

	server := NewServer(storage, storage, trigger, cfg.CronKey, rt.logger)
	rt.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

func openStorage(ctx context.Context, cfg config.Config) (store.Storage, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreMemory:
		return memory.New(), nil
	default:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Run serves HTTP and the schedule until ctx is cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	defer rt.close()

	errCh := make(chan error, 1)
	go func() {
		if err := rt.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	rt.cron.Start()
	rt.logger.InfoContext(ctx, "payout service started",
		"http_port", rt.cfg.HTTPPort, "schedule", rt.cfg.Schedule,
		"store_driver", rt.cfg.StoreDriver, "lock_backend", rt.cfg.LockBackend)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.httpServer.Shutdown(shutdownCtx); err != nil {
		rt.logger.ErrorContext(shutdownCtx, "http shutdown failed", "error", err)
	}
	// Wait for an in-flight payout so its lock is released before exit.
	select {
	case <-rt.cron.Stop().Done():
	case <-shutdownCtx.Done():
		rt.logger.WarnContext(shutdownCtx, "payout run still in flight at shutdown")
	}
	return runErr
}

func (rt *Runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i].Close()
	}
	rt.closers = nil
}
