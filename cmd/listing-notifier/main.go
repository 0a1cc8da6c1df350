package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bakkerme/listing-notifier/internal/config"
	"github.com/bakkerme/listing-notifier/internal/core"
	"github.com/bakkerme/listing-notifier/internal/dedupe"
	"github.com/bakkerme/listing-notifier/internal/fetch"
	"github.com/bakkerme/listing-notifier/internal/fetch/httpfetch"
	"github.com/bakkerme/listing-notifier/internal/listing"
	"github.com/bakkerme/listing-notifier/internal/notify"
	"github.com/bakkerme/listing-notifier/internal/observability/otelx"
	"github.com/bakkerme/listing-notifier/internal/outputs/email/smtp"
	"github.com/bakkerme/listing-notifier/internal/retry"
	"github.com/bakkerme/listing-notifier/internal/scheduler"
	"github.com/bakkerme/listing-notifier/internal/statusapi"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()
	env := config.LoadEnv()

	flag.StringVar(&env.JobsPath, "jobs", env.JobsPath, "path to the jobs document (default: jobs.yaml, jobs.yml or jobs.json in the data dir)")
	flag.StringVar(&env.DataDir, "data-dir", env.DataDir, "directory holding seen state")
	flag.BoolVar(&env.RunOnce, "run-once", env.RunOnce, "run a single cycle and exit")
	flag.BoolVar(&env.DryRun, "dry-run", env.DryRun, "log new listings instead of sending email")
	flag.Parse()

	logger := newLogger(env.Log)
	slog.SetDefault(logger)

	if err := run(logger, env); err != nil {
		log.Fatalf("listing-notifier: %v", err)
	}
}

func run(logger *slog.Logger, env config.EnvConfig) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	doc, jobsPath, err := config.LoadJobs(env.JobsCandidates()...)
	if err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("%s: %w", jobsPath, err)
	}
	queries := doc.Queries()
	logger.Info("jobs loaded", slog.String("path", jobsPath), slog.Int("queries", len(queries)))

	tracing, err := otelx.Init(ctx, logger, env.OTel,
		attribute.String("notifier.store", env.Store.Backend),
		attribute.Int("notifier.queries", len(queries)),
	)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", slog.Any("error", err))
		}
	}()

	store, err := openStore(logger, env)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store failed", slog.Any("error", err))
		}
	}()

	notifier, err := buildNotifier(ctx, logger, env)
	if err != nil {
		return err
	}

	schedule, err := scheduler.ParseSchedule(env.Interval, env.Schedule, env.Timezone)
	if err != nil {
		return err
	}

	fetcher := httpfetch.NewFetcher(env.HTTP.Timeout, env.HTTP.UserAgent, env.HTTP.MaxBodyBytes).
		WithRetry(retry.Config{
			Attempts:  env.HTTP.Retries,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  5 * time.Second,
			Jitter:    250 * time.Millisecond,
		})
	parser := listing.NewParser()
	pool := fetch.NewPool(fetcher, env.ParallelDownloads, parser.NextPage)

	var enricher scheduler.Enricher
	if env.FetchDetails {
		enricher = listing.NewEnricher(pool, parser)
	}

	sched, err := scheduler.New(scheduler.Config{
		Queries:  queries,
		Fetcher:  pool,
		Parser:   parser,
		Enricher: enricher,
		Store:    store,
		Notifier: notifier,
		Schedule: schedule,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if env.RunOnce {
		report := sched.RunCycle(ctx)
		if report.Status != core.CycleStatusCompleted {
			return fmt.Errorf("cycle %s finished with status %s", report.ID, report.Status)
		}
		return nil
	}

	if env.StatusAddr != "" {
		server := statusapi.NewServer(sched, logger)
		go func() {
			if err := server.Start(env.StatusAddr); err != nil {
				logger.Error("status api stopped", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("scheduler started",
		slog.Duration("interval", env.Interval),
		slog.String("schedule", env.Schedule),
		slog.Int("parallel_downloads", env.ParallelDownloads),
		slog.Bool("fetch_details", env.FetchDetails),
		slog.String("store", env.Store.Backend),
	)
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// openStore selects the seen-set backend. Database backends live next to the
// per-query JSON documents in the data directory.
func openStore(logger *slog.Logger, env config.EnvConfig) (dedupe.Store, error) {
	switch env.Store.Backend {
	case "sqlite":
		store, err := dedupe.NewSQLiteStore(filepath.Join(env.DataDir, "seen.db"), "", env.Store.Retention)
		if err != nil {
			return nil, err
		}
		if aside := store.Recovered(); aside != "" {
			logger.Warn("seen database was corrupt, starting empty", slog.String("moved_to", aside))
		}
		return store, nil
	case "badger":
		return dedupe.NewBadgerStore(filepath.Join(env.DataDir, "badger"), env.Store.Retention)
	case "", "file":
		return dedupe.NewFileStore(env.DataDir)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", env.Store.Backend)
	}
}

func buildNotifier(ctx context.Context, logger *slog.Logger, env config.EnvConfig) (notify.Notifier, error) {
	if env.DryRun {
		logger.Info("dry run: new listings are logged, not sent")
		return notify.LogNotifier{}, nil
	}
	if env.SMTP.Host == "" {
		return nil, fmt.Errorf("SMTP_HOST is required unless NOTIFIER_DRY_RUN is set")
	}
	if env.SMTP.From == "" {
		return nil, fmt.Errorf("SMTP_FROM is required unless NOTIFIER_DRY_RUN is set")
	}

	sender, err := smtp.NewSender(smtp.Config{
		Host:               env.SMTP.Host,
		Port:               env.SMTP.Port,
		Username:           env.SMTP.User,
		Password:           env.SMTP.Password,
		TLSMode:            env.SMTP.TLSMode,
		InsecureSkipVerify: env.SMTP.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp: %w", err)
	}

	var templateText string
	if env.EmailTemplatePath != "" {
		data, err := os.ReadFile(env.EmailTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("read email template: %w", err)
		}
		templateText = string(data)
	}

	notifier, err := notify.NewEmailNotifier(sender, env.SMTP.From, env.SMTP.From, templateText)
	if err != nil {
		return nil, err
	}

	if env.TestEmail {
		to := env.TestEmailTo
		if to == "" {
			to = env.SMTP.From
		}
		if err := notifier.SendTest(ctx, to); err != nil {
			return nil, fmt.Errorf("send test email: %w", err)
		}
		logger.Info("test email sent", slog.String("to", to))
	}
	return notifier, nil
}

func newLogger(cfg config.LogEnvConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
