package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/bookstore-backend/internal/books"
	"github.com/angelmondragon/bookstore-backend/internal/cart"
	"github.com/angelmondragon/bookstore-backend/internal/cron"
	"github.com/angelmondragon/bookstore-backend/internal/importer"
	"github.com/angelmondragon/bookstore-backend/internal/importlog"
	"github.com/angelmondragon/bookstore-backend/internal/permissions"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/instance"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/lock"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
	"github.com/angelmondragon/bookstore-backend/pkg/metrics"
	"github.com/angelmondragon/bookstore-backend/pkg/migrate"
	"github.com/angelmondragon/bookstore-backend/pkg/redis"
)

const cronLockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	sqlDB, err := dbClient.DB().DB()
	if err == nil {
		err = migrate.ApplyOnBoot(context.Background(), cfg, logg, sqlDB)
	}
	if err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	store, closeStore, err := redis.Open(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap kv store", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logg.Error(context.Background(), "error closing kv store", err)
		}
	}()

	registry, err := buildRegistry(cfg, logg, dbClient, store)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	cronLock, err := lock.New(store, cronLockName+":"+envOrLocal(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     cronLock,
		Store:    store,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     cfg.Cron.Tick,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, store kv.Store) (*cron.Registry, error) {
	importLogs, err := importlog.NewStream(store, cfg.ImportLog)
	if err != nil {
		return nil, err
	}
	imports, err := importer.NewStack(importer.StackParams{
		DB:      dbClient,
		Store:   store,
		Events:  importLogs,
		Logger:  logg,
		Metrics: metrics.NewImportMetrics(prometheus.DefaultRegisterer),
		Config:  cfg.Import,
	})
	if err != nil {
		return nil, err
	}
	importJob, err := cron.NewImportJob(cron.ImportJobParams{Runner: imports.Runner, Logger: logg, Config: cfg.Import})
	if err != nil {
		return nil, err
	}

	permissionCache, err := permissions.NewCache(store, permissions.NewRepository(dbClient.DB()), logg)
	if err != nil {
		return nil, err
	}
	permissionJob, err := cron.NewPermissionSyncJob(permissionCache, logg, cfg.Cron.PermissionSyncEvery)
	if err != nil {
		return nil, err
	}

	cartEngine, err := cart.NewEngine(cart.EngineParams{
		Store:  store,
		Books:  books.NewRepository(dbClient.DB()),
		DB:     dbClient,
		Logger: logg,
		Config: cfg.Cart,
	})
	if err != nil {
		return nil, err
	}
	abandonJob, err := cron.NewCartAbandonJob(cartEngine, logg, cfg.Cron.CartAbandonEvery)
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(importJob, permissionJob, abandonJob), nil
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
