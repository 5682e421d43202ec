package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/synod-schools/portal/internal/app"
	"github.com/synod-schools/portal/internal/auth"
	jobmetrics "github.com/synod-schools/portal/internal/jobs"
	"github.com/synod-schools/portal/internal/platform/db"
	"github.com/synod-schools/portal/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns), db.WithIdleTime(cfg.PGIdleTime))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	repo := auth.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", slog.Any("error", err))
		os.Exit(1)
	}

	eventJob := jobs.NewSessionEventJob(repo, logger, jobmetrics.NewMetrics(nil))
	pruneTask, err := jobs.NewSessionEventPruneTask(cfg.EventRetentionDays)
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:       asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:          logger,
		Concurrency:     cfg.WorkerConcurrency,
		ShutdownTimeout: cfg.AppWriteTimeout,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSessionEvent, Handler: eventJob.Handle},
			{Type: jobs.TaskSessionEventPrune, Handler: eventJob.HandlePrune},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 2 * * *", Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
