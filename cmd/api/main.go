package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/bookstore-backend/api/routes"
	"github.com/angelmondragon/bookstore-backend/internal/activity"
	"github.com/angelmondragon/bookstore-backend/internal/books"
	"github.com/angelmondragon/bookstore-backend/internal/cart"
	"github.com/angelmondragon/bookstore-backend/internal/favorites"
	"github.com/angelmondragon/bookstore-backend/internal/importer"
	"github.com/angelmondragon/bookstore-backend/internal/importlog"
	"github.com/angelmondragon/bookstore-backend/internal/notifications"
	"github.com/angelmondragon/bookstore-backend/internal/permissions"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/env"
	"github.com/angelmondragon/bookstore-backend/pkg/instance"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
	"github.com/angelmondragon/bookstore-backend/pkg/metrics"
	"github.com/angelmondragon/bookstore-backend/pkg/migrate"
	"github.com/angelmondragon/bookstore-backend/pkg/redis"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	importMetrics := metrics.NewImportMetrics(registry)

	cartEngine, err := cart.NewEngine(cart.EngineParams{
		Store:  store,
		Books:  books.NewRepository(dbClient.DB()),
		DB:     dbClient,
		Logger: logg,
		Config: cfg.Cart,
	})
	if err != nil {
		fatal(logg, "failed to create cart engine", err)
	}
	favoritesService, err := favorites.NewService(store)
	if err != nil {
		fatal(logg, "failed to create favorites service", err)
	}
	activityLog, err := activity.NewLog(store, cfg.Activity)
	if err != nil {
		fatal(logg, "failed to create activity log", err)
	}
	notificationStore, err := notifications.NewStore(store, cfg.Notifications)
	if err != nil {
		fatal(logg, "failed to create notification store", err)
	}
	permissionCache, err := permissions.NewCache(store, permissions.NewRepository(dbClient.DB()), logg)
	if err != nil {
		fatal(logg, "failed to create permission cache", err)
	}
	importLogs, err := importlog.NewStream(store, cfg.ImportLog)
	if err != nil {
		fatal(logg, "failed to create import log stream", err)
	}
	imports, err := importer.NewStack(importer.StackParams{
		DB:      dbClient,
		Store:   store,
		Events:  importLogs,
		Logger:  logg,
		Metrics: importMetrics,
		Config:  cfg.Import,
	})
	if err != nil {
		fatal(logg, "failed to create importer", err)
	}
	dispatcher, err := importer.NewDispatcher(imports.Runner, logg)
	if err != nil {
		fatal(logg, "failed to create import dispatcher", err)
	}

	addr := ":" + env.Get("PORT", cfg.App.Port)
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			store,
			registry,
			cartEngine,
			favoritesService,
			activityLog,
			notificationStore,
			permissionCache,
			dispatcher,
			imports.Runner,
			imports.Runs,
			importLogs,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "http shutdown failed", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "in-flight imports did not finish before shutdown", err)
	}
	logg.Info(ctx, "api server stopped")
}

func fatal(logg *logger.Logger, msg string, err error) {
	logg.Error(context.Background(), msg, err)
	os.Exit(1)
}
