package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tremedam/Agendamento-Pro/internal/agenda"
	"github.com/tremedam/Agendamento-Pro/internal/app"
	"github.com/tremedam/Agendamento-Pro/internal/hybrid"
	jobmetrics "github.com/tremedam/Agendamento-Pro/internal/jobs"
	"github.com/tremedam/Agendamento-Pro/internal/observability"
	"github.com/tremedam/Agendamento-Pro/internal/overlay"
	"github.com/tremedam/Agendamento-Pro/internal/platform/cache"
	"github.com/tremedam/Agendamento-Pro/internal/platform/db"
	"github.com/tremedam/Agendamento-Pro/internal/reconcile"
	"github.com/tremedam/Agendamento-Pro/internal/session"
	"github.com/tremedam/Agendamento-Pro/internal/shared"
	"github.com/tremedam/Agendamento-Pro/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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
	slog.SetDefault(logger)

	var redisClient *redis.Client
	if cfg.MirrorBackend == app.MirrorRedis || cfg.ReconcileMode == app.ReconcileAsynq {
		redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	profiles := session.DefaultProfiles()
	if cfg.SessionProfilesFile != "" {
		profiles, err = session.LoadProfiles(cfg.SessionProfilesFile)
		if err != nil {
			logger.Error("load session profiles", slog.Any("error", err))
			os.Exit(1)
		}
	}
	sessions := session.NewRegistry(profiles.For(cfg.AppEnv), logger)

	metrics := observability.NewMetrics()
	overlayMetrics := observability.NewOverlayMetrics(metrics.Registerer(), sessions.Len)

	var (
		mirror     overlay.Mirror
		fileMirror *overlay.FileMirror
	)
	switch cfg.MirrorBackend {
	case app.MirrorRedis:
		mirror = overlay.NewRedisMirror(redisClient, cfg.MirrorRedisKey)
	default:
		fileMirror = overlay.NewFileMirror(cfg.MirrorPath)
		mirror = fileMirror
	}
	store := overlay.NewStore(mirror, overlay.Config{
		Logger:      logger,
		ResyncDelay: cfg.ResyncDelay,
		Metrics:     overlayMetrics,
	})
	if err := store.Init(ctx); err != nil {
		logger.Error("load overlay mirror", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("close overlay store", slog.Any("error", err))
		}
	}()

	if cfg.MirrorWatch && fileMirror != nil {
		watcher, err := overlay.NewMirrorWatcher(fileMirror, store, logger)
		if err != nil {
			logger.Warn("mirror watcher disabled", slog.Any("error", err))
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	var primary agenda.Provider
	var pool *pgxpool.Pool
	if cfg.PGDSN != "" {
		pool, err = db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Warn("connect database, serving demonstration data", slog.Any("error", err))
		} else {
			defer pool.Close()
			if cfg.PGMigrate {
				if err := db.Migrate(ctx, pool); err != nil {
					logger.Error("migrate database", slog.Any("error", err))
					os.Exit(1)
				}
			}
			primary = agenda.NewRepository(pool)
		}
	}
	provider := agenda.NewGuardedProvider(primary, agenda.NewFallback(store), agenda.GuardedConfig{
		Logger:  logger,
		Timeout: cfg.BreakerTimeout,
	})

	service := hybrid.NewService(store, sessions, provider, hybrid.Options{
		Logger:              logger,
		ResetApprovalOnEdit: cfg.ResetApprovalOnEdit,
	})
	reconciler := reconcile.New(sessions, store, cfg.ReconcileInterval, logger)

	var inspector *asynq.Inspector
	switch cfg.ReconcileMode {
	case app.ReconcileAsynq:
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		task, err := jobs.NewReconcileTask("scheduled")
		if err != nil {
			logger.Error("build reconcile task", slog.Any("error", err))
			os.Exit(1)
		}
		job := jobs.NewReconcileJob(reconciler, logger, jobmetrics.NewMetrics(metrics.Registerer()))
		worker, err := jobs.NewWorker(jobs.WorkerConfig{
			RedisOpts: redisOpts,
			Logger:    logger,
			Handlers:  []jobs.TaskHandler{job.TaskHandler()},
			Cron:      []jobs.CronRegistration{{Spec: cfg.ReconcileCron, Task: task}},
		})
		if err != nil {
			logger.Error("init worker", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker run", slog.Any("error", err))
				stop()
			}
		}()
		inspector = asynq.NewInspector(redisOpts)
		defer inspector.Close()
	default:
		go func() { _ = reconciler.Run(ctx) }()
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Identity:        shared.NewIdentityResolver(cfg.JWTSecret),
		ScheduleHandler: hybrid.NewHandler(logger, service, sessions),
		Health:          service,
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("provider", provider.Mode()),
			slog.String("mirror", cfg.MirrorBackend),
			slog.String("reconcile", cfg.ReconcileMode))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
