package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ClockSheet/internal/app"
	"github.com/dharsanguruparan/ClockSheet/internal/config"
	"github.com/dharsanguruparan/ClockSheet/internal/logging"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
)

var logLevel string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "clocksheet: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clocksheet",
		Short: "Time tracking report generator",
		Long: `clocksheet builds spreadsheet reports of employee time entries pulled from the
Sesame HR API. It runs the HTTP API, the queue worker, or one-off maintenance tasks.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override CLOCKSHEET_LOG_LEVEL")
	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newGenerateCmd(),
		newSyncCmd(),
		newCleanupCmd(),
		newStatsCmd(),
	)
	return cmd
}

// withApp loads configuration, builds the components and hands them to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logging.New(cfg.LogLevel, cfg.Environment)
	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.RunServer)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued report jobs (CLOCKSHEET_QUEUE_MODE=asynq)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Config.QueueMode != config.QueueAsynq {
					return fmt.Errorf("worker needs CLOCKSHEET_QUEUE_MODE=%s, got %q", config.QueueAsynq, a.Config.QueueMode)
				}
				return app.RunWorker(ctx, a)
			})
		},
	}
}

func newGenerateCmd() *cobra.Command {
	var (
		req        model.ReportRequest
		reportType string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one report synchronously and print its path",
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ReportType = model.ReportType(reportType)
			req.Format = model.Format(format)
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				job, err := a.Jobs.Create(ctx, req)
				if err != nil {
					return err
				}
				a.Log.WithFields(logrus.Fields{"job_id": job.ID, "report_type": job.Request.ReportType}).Info("generating report")
				if err := a.Jobs.Run(ctx, job.ID, a.Work()); err != nil {
					return err
				}
				done, err := a.Jobs.Status(ctx, job.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), done.FilePath)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.From, "from", "", "First day, YYYY-MM-DD")
	f.StringVar(&req.To, "to", "", "Last day, YYYY-MM-DD")
	f.StringVar(&req.EmployeeID, "employee", "", "Restrict to one employee id")
	f.StringVar(&req.OfficeID, "office", "", "Restrict to one office id")
	f.StringVar(&req.DepartmentID, "department", "", "Restrict to one department id")
	f.StringVar(&reportType, "type", string(model.ByEmployee), "by_employee, by_activity or by_group")
	f.StringVar(&format, "format", string(model.FormatXLSX), "xlsx or csv")
	f.StringVar(&req.Strategy, "strategy", "", "Force sequential or parallel_streaming")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "sync-activity-types",
		Short: "Download activity types into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				sync := a.Activities.Sync
				if refresh {
					sync = a.Activities.Refresh
				}
				n, err := sync(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d activity types cached\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Replace the cache instead of merging")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Fail orphaned jobs, purge expired ones and enforce the file limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Jobs.Cleanup(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, rep)
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print job and report file statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				jobStats, err := a.Jobs.Stats(ctx)
				if err != nil {
					return err
				}
				fileStats, err := a.Files.Stats()
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"jobs": jobStats, "files": fileStats})
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
