// Command dailybrief runs the daily digest service: an admin HTTP API, a
// job worker, and operator subcommands for the job queue and reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mlin-dev/dailybrief/api"
	"github.com/mlin-dev/dailybrief/pkg/briefing"
	"github.com/mlin-dev/dailybrief/pkg/config"
	"github.com/mlin-dev/dailybrief/pkg/core"
	"github.com/mlin-dev/dailybrief/pkg/openai"
	"github.com/mlin-dev/dailybrief/pkg/orchestrator"
	"github.com/mlin-dev/dailybrief/pkg/schedule"
	"github.com/mlin-dev/dailybrief/pkg/storage"
	"github.com/mlin-dev/dailybrief/pkg/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "dailybrief",
		Usage: "daily digest reports with durable job orchestration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "path to a .env file",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "create or update the database schema",
				Action: migrateAction,
			},
			{
				Name:   "serve",
				Usage:  "run the admin HTTP API",
				Action: serveAction,
			},
			{
				Name:  "worker",
				Usage: "run the job worker",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "id",
						Usage: "worker identity used in job claims",
					},
				},
				Action: workerAction,
			},
			{
				Name:  "jobs",
				Usage: "operate on the job queue",
				Commands: []*cli.Command{
					{
						Name:  "enqueue",
						Usage: "enqueue a daily regeneration job",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "date",
								Usage:    "target date (YYYY-MM-DD)",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "force",
								Usage: "bypass the duplicate check",
							},
						},
						Action: jobsEnqueueAction,
					},
					{
						Name:  "list",
						Usage: "list jobs, newest first",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "status",
								Usage: "filter by status (pending, running, success, failed)",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "maximum rows",
								Value: 20,
							},
						},
						Action: jobsListAction,
					},
					{
						Name:      "cancel",
						Usage:     "cancel a pending job",
						ArgsUsage: "<job-id>",
						Action:    jobsCancelAction,
					},
					{
						Name:      "reclaim",
						Usage:     "reclaim a stale running job",
						ArgsUsage: "<job-id>",
						Action:    jobsReclaimAction,
					},
				},
			},
			{
				Name:  "report",
				Usage: "inspect finished reports",
				Commands: []*cli.Command{
					{
						Name:  "show",
						Usage: "print a report as JSON",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "date",
								Usage:    "report date (YYYY-MM-DD)",
								Required: true,
							},
						},
						Action: reportShowAction,
					},
				},
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// app bundles the shared wiring every subcommand needs.
type app struct {
	cfg    *config.Config
	store  *storage.GormStore
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

func newApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	store := storage.NewGormStore(db)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	orch := orchestrator.New(store,
		orchestrator.WithStaleThreshold(cfg.StaleThreshold),
		orchestrator.WithLogger(log))

	return &app{cfg: cfg, store: store, orch: orch, logger: log}, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func (a *app) generator() (*briefing.Generator, error) {
	summarizer, err := openai.NewSummarizer(a.cfg.OpenAIAPIKey, a.cfg.OpenAIModel)
	if err != nil {
		return nil, err
	}
	cfg := briefing.Config{
		WindowDays:  a.cfg.WindowDays,
		CallTimeout: a.cfg.CallTimeout,
	}
	return briefing.NewGenerator(a.store, summarizer, a.store, cfg, a.logger), nil
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	a.logger.Info("schema migrated", "database", a.cfg.DatabasePath)
	return nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	router := api.NewRouter(a.orch, a.store, a.logger)
	srv := &http.Server{Addr: a.cfg.HTTPAddr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func workerAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	gen, err := a.generator()
	if err != nil {
		return err
	}

	opts := []worker.Option{
		worker.WithPollInterval(a.cfg.PollInterval),
		worker.WithLogger(a.logger),
		worker.WithWorkerID(cmd.String("id")),
	}
	if a.cfg.ScheduleSpec != "" {
		sched, err := schedule.ParseCron(a.cfg.ScheduleSpec)
		if err != nil {
			return err
		}
		opts = append(opts, worker.WithScheduler(sched, a.orch))
	}

	w := worker.New(a.store, gen, opts...)
	if err := w.Start(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func jobsEnqueueAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	job, created, err := a.orch.Enqueue(ctx, core.JobRegenerateDaily, cmd.String("date"), "cli", cmd.Bool("force"))
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("enqueued job %s for %s\n", job.ID, job.TargetDate)
	} else {
		fmt.Printf("job %s already covers %s (status %s)\n", job.ID, job.TargetDate, job.Status)
	}
	return nil
}

func jobsListAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	filter := core.JobFilter{
		Status: core.JobStatus(cmd.String("status")),
		Limit:  cmd.Int("limit"),
	}
	if filter.Status != "" && !core.ValidJobStatus(filter.Status) {
		return fmt.Errorf("unknown status %q", filter.Status)
	}

	views, err := a.orch.List(ctx, filter)
	if err != nil {
		return err
	}
	for _, v := range views {
		stale := ""
		if v.IsStale {
			stale = " (stale)"
		}
		fmt.Printf("%s  %-8s%s  %s  %s\n", v.ID, v.Status, stale, v.TargetDate, v.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func jobsCancelAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	id := cmd.Args().First()
	if id == "" {
		return errors.New("job id is required")
	}
	if err := a.orch.Cancel(ctx, id); err != nil {
		return err
	}
	fmt.Printf("canceled job %s\n", id)
	return nil
}

func jobsReclaimAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	id := cmd.Args().First()
	if id == "" {
		return errors.New("job id is required")
	}
	if err := a.orch.Reclaim(ctx, id); err != nil {
		return err
	}
	fmt.Printf("reclaimed job %s\n", id)
	return nil
}

func reportShowAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	report, err := a.store.GetReportByDate(ctx, core.ReportDaily, cmd.String("date"))
	if err != nil {
		return err
	}
	content, err := report.DecodeContent()
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(map[string]any{
		"id":             report.ID,
		"report_date":    report.ReportDate,
		"document_count": report.DocumentCount,
		"content":        content,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
