package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/bookstore-backend/internal/importer"
	"github.com/angelmondragon/bookstore-backend/internal/importlog"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
	"github.com/angelmondragon/bookstore-backend/pkg/redis"
)

// env holds the process-wide dependencies opened by the root command.
type env struct {
	cfg     *config.Config
	logg    *logger.Logger
	db      *db.Client
	logs    importlog.Stream
	imports *importer.Stack
	closers []func() error
}

var (
	app env

	rootCmd = &cobra.Command{
		Use:               "importer",
		Short:             "Run and inspect catalog imports",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
	}
)

func main() {
	rootCmd.AddCommand(runCmd, cancelCmd, runsCmd, logsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Service.Kind = "importer"
	logg := logger.New(logger.Options{
		ServiceName: "importer",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	app.closers = append(app.closers, dbClient.Close)

	store, closeStore, err := redis.Open(ctx, cfg, logg)
	if err != nil {
		return err
	}
	app.closers = append(app.closers, closeStore)

	logs, err := importlog.NewStream(store, cfg.ImportLog)
	if err != nil {
		return err
	}
	imports, err := importer.NewStack(importer.StackParams{
		DB:     dbClient,
		Store:  store,
		Events: logs,
		Logger: logg,
		Config: cfg.Import,
	})
	if err != nil {
		return err
	}

	app.cfg = cfg
	app.logg = logg
	app.db = dbClient
	app.logs = logs
	app.imports = imports
	return nil
}

func teardown(*cobra.Command, []string) {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil && app.logg != nil {
			app.logg.Error(context.Background(), "close dependency", err)
		}
	}
}
