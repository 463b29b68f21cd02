package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/openshelf/openshelf/internal/app"
	"github.com/openshelf/openshelf/internal/copies"
	"github.com/openshelf/openshelf/internal/fines"
	"github.com/openshelf/openshelf/internal/holds"
	"github.com/openshelf/openshelf/internal/loans"
	"github.com/openshelf/openshelf/internal/notify"
	"github.com/openshelf/openshelf/internal/payments"
	"github.com/openshelf/openshelf/internal/policy"
	"github.com/openshelf/openshelf/jobs"
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

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	notifyRepo := notify.NewRepository(pool)
	dispatcher := notify.NewDispatcher(logger, notifyRepo, asynqClient, nil)

	policyService := policy.NewService(policy.NewRepository(pool))
	copyService := copies.NewService(copies.NewRepository(pool))
	holdService := holds.NewService(holds.NewRepository(pool), policyService)

	loanRepo := loans.NewRepository(pool)
	fineService := fines.NewService(fines.NewRepository(pool), policyService, loanRepo, cfg.StandardBookPrice)
	loanService := loans.NewService(loanRepo, copyService, holdService, fineService, policyService)

	paymentService := payments.NewService(logger, payments.NewRepository(pool), fineService, redisClient, payments.Options{
		Signer: payments.Signer{
			MerchantID: cfg.PayHereMerchantID,
			Secret:     cfg.PayHereSecret,
			Currency:   cfg.PayHereCurrency,
		},
		ReturnURL: cfg.PayHereReturnURL,
		CancelURL: cfg.PayHereCancelURL,
		NotifyURL: cfg.PayHereNotifyURL,
		Timeout:   cfg.PaymentTimeout,
	})

	sweeps := &jobs.CirculationSweeps{
		Loans:    loanService,
		Holds:    holdService,
		Fines:    fineService,
		Payments: paymentService,
		Notify:   dispatcher,
		Events:   dispatcher,
		Logger:   logger,
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Sweeps:    sweeps,
		Handlers: []jobs.TaskHandler{
			{Type: notify.TaskTypeDeliver, Handler: dispatcher.HandleDeliverTask},
		},
		Cron: jobs.DefaultCron(),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
