package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/openshelf/openshelf/internal/app"
	"github.com/openshelf/openshelf/internal/copies"
	"github.com/openshelf/openshelf/internal/fines"
	"github.com/openshelf/openshelf/internal/holds"
	"github.com/openshelf/openshelf/internal/loans"
	"github.com/openshelf/openshelf/internal/notify"
	"github.com/openshelf/openshelf/internal/payments"
	"github.com/openshelf/openshelf/internal/policy"
	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionPrefix, cfg.SessionTTL)
	activityLogger := shared.NewActivityLogger(pool)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	notifyRepo := notify.NewRepository(pool)
	dispatcher := notify.NewDispatcher(logger, notifyRepo, asynqClient, nil)

	policyRepo := policy.NewRepository(pool)
	policyService := policy.NewService(policyRepo)
	policyHandler := policy.NewHandler(logger, policyService)

	copyRepo := copies.NewRepository(pool)
	copyService := copies.NewService(copyRepo)
	copyHandler := copies.NewHandler(logger, copyService)

	holdRepo := holds.NewRepository(pool)
	holdService := holds.NewService(holdRepo, policyService)
	holdHandler := holds.NewHandler(logger, holdService)

	loanRepo := loans.NewRepository(pool)
	fineRepo := fines.NewRepository(pool)
	fineService := fines.NewService(fineRepo, policyService, loanRepo, cfg.StandardBookPrice)
	fineHandler := fines.NewHandler(logger, fineService, dispatcher)

	loanService := loans.NewService(loanRepo, copyService, holdService, fineService, policyService)
	loanHandler := loans.NewHandler(logger, loanService, dispatcher, activityLogger)

	paymentRepo := payments.NewRepository(pool)
	paymentService := payments.NewService(logger, paymentRepo, fineService, redisClient, payments.Options{
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
	paymentHandler := payments.NewHandler(logger, paymentService, dispatcher)

	notifyHandler := notify.NewHandler(dispatcher)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		PolicyHandler:  policyHandler,
		CopyHandler:    copyHandler,
		HoldHandler:    holdHandler,
		LoanHandler:    loanHandler,
		FineHandler:    fineHandler,
		PaymentHandler: paymentHandler,
		NotifyHandler:  notifyHandler,
		JobHandler:     jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
