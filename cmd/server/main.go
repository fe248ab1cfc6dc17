package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/social-core/config"
	"github.com/d60-Lab/social-core/internal/api"
	"github.com/d60-Lab/social-core/internal/api/handler"
	"github.com/d60-Lab/social-core/internal/notify"
	"github.com/d60-Lab/social-core/internal/profile"
	"github.com/d60-Lab/social-core/internal/repository"
	"github.com/d60-Lab/social-core/internal/service"
	"github.com/d60-Lab/social-core/pkg/database"
	"github.com/d60-Lab/social-core/pkg/logger"
	"github.com/d60-Lab/social-core/pkg/monitor"
	"github.com/d60-Lab/social-core/pkg/tracing"
)

// @title Social Core API
// @version 1.0
// @description 一对一聊天与审批制关注关系链
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := monitor.InitSentry(cfg.Sentry); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer monitor.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	// 变更总线：启用 redis 时跨实例广播，否则进程内分发
	var (
		bus         notify.Bus
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		rb := notify.NewRedisBus(redisClient, cfg.Redis.Channel)
		if err := rb.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = rb.Close() }()
		bus = rb
	} else {
		bus = notify.NewLocalBus()
	}

	chat := service.NewChatService(db, bus, cfg.Chat.MaxMessageLength)
	hub := service.NewSyncHub(chat)
	hub.Start(bus)

	store := repository.NewGraphStore(db)
	reconciler := service.NewReconciler(store, cfg.Graph.ReconcileQueue)
	stopReconciler := reconciler.Start(cfg.Graph.ReconcileWorkers)
	go reconciler.RunPeriodic(ctx, cfg.Graph.ReconcileInterval)

	relService := service.NewRelationshipService(store, reconciler, cfg.Graph.Transactional)
	counters := service.NewCounterService(store)
	profiles := profile.NewDirectory(repository.NewUserRepository(db), redisClient, cfg.Redis.ProfileTTL)

	h := handler.NewHandler(db, relService, counters, reconciler, chat, hub, profiles)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(cfg, h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.Int("port", cfg.Server.Port), zap.Bool("redis", cfg.Redis.Enabled), zap.Bool("transactional_graph", cfg.Graph.Transactional))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// websocket 连接被 hijack，Shutdown 不会等待它们，先结束订阅
	hub.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := stopReconciler(shutdownCtx); err != nil {
		logger.Warn("reconciler queue not drained", zap.Int("remaining", reconciler.QueueLen()), zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
