package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mohans/geodiff/internal/api"
	"github.com/mohans/geodiff/internal/cache"
	"github.com/mohans/geodiff/internal/config"
	"github.com/mohans/geodiff/internal/describe"
	"github.com/mohans/geodiff/internal/imagery"
	"github.com/mohans/geodiff/internal/queue"
	"github.com/mohans/geodiff/internal/task"
	"github.com/mohans/geodiff/internal/worker"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("could not connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := newTaskStore(ctx, cfg, log)
	resultCache := cache.NewRedisCache(rdb, cfg.Cache.KeyPrefix)

	imageryClient := imagery.NewClient(imagery.Config{
		ClientID:        cfg.Sentinel.ClientID,
		ClientSecret:    cfg.Sentinel.ClientSecret,
		TokenURL:        cfg.Sentinel.TokenURL,
		ProcessURL:      cfg.Sentinel.ProcessURL,
		Timeout:         cfg.Sentinel.Timeout,
		MaxCloudCover:   cfg.Sentinel.MaxCloudCover,
		MosaickingOrder: cfg.Sentinel.MosaickingOrder,
		TimeWindowDays:  cfg.Sentinel.TimeWindowDays,
	}, log)
	describeClient := describe.NewClient(describe.Config{
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		BaseURL: cfg.AI.BaseURL,
		Timeout: cfg.AI.Timeout,
	}, log)

	queueClient := queue.NewClient(redisOpt, queue.ClientOptions{
		Queue:       cfg.Queue.Name,
		TaskTimeout: cfg.Queue.TaskTimeout,
	})
	defer queueClient.Close()

	handler := worker.NewHandler(store, resultCache, imageryClient, describeClient, cfg.Cache.TTL, log)
	processor := worker.NewProcessor(redisOpt, store, worker.ProcessorConfig{
		Concurrency: cfg.Queue.Concurrency,
		Queue:       cfg.Queue.Name,
	}, log)
	go func() {
		if err := processor.Start(handler); err != nil {
			log.Fatal("worker pool stopped", zap.Error(err))
		}
	}()

	handlers := api.NewHandlers(store, queueClient, log)
	router := api.SetupRoutes(handlers)
	srv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: router,
	}
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	processor.Shutdown()
}

// newTaskStore builds the configured store backend and starts its retention
// janitor on ctx.
func newTaskStore(ctx context.Context, cfg *config.Config, log *zap.Logger) task.Store {
	switch cfg.Tasks.Store {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Tasks.SQLitePath)
		if err != nil {
			log.Fatal("could not open task database", zap.String("path", cfg.Tasks.SQLitePath), zap.Error(err))
		}
		if _, err := db.ExecContext(ctx, task.Schema); err != nil {
			log.Fatal("could not apply task schema", zap.Error(err))
		}
		s := task.NewSQLStore(db)
		go s.Janitor(ctx, cfg.Tasks.SweepInterval, cfg.Tasks.RetentionHorizon)
		log.Info("using sqlite task store", zap.String("path", cfg.Tasks.SQLitePath))
		return s
	default:
		s := task.NewMemoryStore(cfg.Tasks.RetentionHorizon)
		go s.Janitor(ctx, cfg.Tasks.SweepInterval)
		return s
	}
}
