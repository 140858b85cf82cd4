package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/bookstore-backend/internal/importer"
	"github.com/angelmondragon/bookstore-backend/internal/importlog"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
)

var (
	startPage int
	maxPages  int
	batchSize int

	runStatus string
	runLimit  int
	runCursor string

	logType   string
	logStatus string
	logCount  int
	logStats  bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one import in the foreground",
		Long:  "Run an import for the page tuple and wait for it to finish. Ctrl-C cancels at the next page boundary.",
		RunE:  runImport,
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel",
		Short: "Request cancellation of the active import for the page tuple",
		RunE:  cancelImport,
	}

	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "List recent import runs",
		RunE:  listRuns,
	}

	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Read the import log stream",
		RunE:  readLogs,
	}
)

func init() {
	_ = godotenv.Load()

	for _, cmd := range []*cobra.Command{runCmd, cancelCmd} {
		cmd.Flags().IntVar(&startPage, "start-page", 1, "first catalog page")
		cmd.Flags().IntVar(&maxPages, "max-pages", 0, "page limit, 0 walks to the end of the catalog")
		cmd.Flags().IntVar(&batchSize, "batch-size", 20, "books between rate-limit pauses (1-60)")
	}

	runsCmd.Flags().StringVar(&runStatus, "status", "", "filter by run status")
	runsCmd.Flags().IntVar(&runLimit, "limit", 20, "number of runs")
	runsCmd.Flags().StringVar(&runCursor, "cursor", "", "next_cursor from a previous page")

	logsCmd.Flags().StringVar(&logType, "type", "", "filter by event type")
	logsCmd.Flags().StringVar(&logStatus, "status", "", "filter by event status")
	logsCmd.Flags().IntVar(&logCount, "count", 50, "number of entries")
	logsCmd.Flags().BoolVar(&logStats, "stats", false, "print counts by type and status")
	logsCmd.MarkFlagsMutuallyExclusive("type", "status", "stats")
}

func tuple() importer.Params {
	return importer.Params{StartPage: startPage, MaxPages: maxPages, BatchSize: batchSize}
}

func runImport(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := app.imports.Runner.Run(ctx, tuple(), importer.RunOptions{TriggeredBy: "cli"})
	if err != nil {
		return err
	}
	if err := printJSON(run); err != nil {
		return err
	}
	if run.Status == enums.ImportRunStatusFailedPermanently {
		return fmt.Errorf("import run %s failed after %d attempts", run.ID, run.Attempts)
	}
	return nil
}

func cancelImport(cmd *cobra.Command, _ []string) error {
	params, err := tuple().Normalize()
	if err != nil {
		return err
	}
	if err := app.imports.Runner.Cancel(cmd.Context(), params); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", params.LockName())
	return nil
}

func listRuns(cmd *cobra.Command, _ []string) error {
	var status *enums.ImportRunStatus
	if runStatus != "" {
		parsed, err := enums.ParseImportRunStatus(runStatus)
		if err != nil {
			return err
		}
		status = &parsed
	}
	runs, err := app.imports.Runs.List(cmd.Context(), importer.RunListParams{Status: status, Limit: runLimit, Cursor: runCursor})
	if err != nil {
		return err
	}
	return printJSON(runs)
}

func readLogs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if logStats {
		stats, err := app.logs.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	}

	var (
		entries []importlog.Entry
		err     error
	)
	switch {
	case logType != "":
		t, perr := enums.ParseImportLogType(logType)
		if perr != nil {
			return perr
		}
		entries, err = app.logs.ByType(ctx, t, logCount)
	case logStatus != "":
		s, perr := enums.ParseImportLogStatus(logStatus)
		if perr != nil {
			return perr
		}
		entries, err = app.logs.ByStatus(ctx, s, logCount)
	default:
		entries, err = app.logs.Recent(ctx, logCount)
	}
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
