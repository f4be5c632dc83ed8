// Package main runs the background poll archive worker.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/livepoll/classroom/config"
	"github.com/livepoll/classroom/internal/history"
	"github.com/livepoll/classroom/internal/store/backend"
	"github.com/livepoll/classroom/internal/worker"
	applog "github.com/livepoll/classroom/pkg/logger"
	"github.com/livepoll/classroom/pkg/queue"
	"github.com/livepoll/classroom/pkg/redis"
	"github.com/livepoll/classroom/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := applog.New(cfg.Server.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Storage.Driver == config.DriverMemory {
		logger.Fatal("worker needs a shared store; memory driver is server-only")
	}
	if cfg.AWS.ArchiveBucket == "" {
		logger.Fatal("AWS_S3_ARCHIVE_BUCKET is required")
	}

	ctx := context.Background()
	st, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer st.Close()

	rdb, err := redis.NewClient(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ArchiveBucket:        cfg.AWS.ArchiveBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	archiver := worker.NewPollArchiver(history.NewProjector(st), s3Client, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go archiver.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}
