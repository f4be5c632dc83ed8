// Package main runs the classroom HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/livepoll/classroom/config"
	"github.com/livepoll/classroom/internal/history"
	"github.com/livepoll/classroom/internal/middleware"
	"github.com/livepoll/classroom/internal/realtime"
	"github.com/livepoll/classroom/internal/session"
	"github.com/livepoll/classroom/internal/store/backend"
	"github.com/livepoll/classroom/internal/worker"
	applog "github.com/livepoll/classroom/pkg/logger"
	"github.com/livepoll/classroom/pkg/queue"
	"github.com/livepoll/classroom/pkg/redis"
	"github.com/livepoll/classroom/pkg/response"
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

	ctx := context.Background()
	st, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}

	state, err := session.NewState(ctx, st, session.Config{
		TeacherName:           cfg.Classroom.TeacherName,
		DuplicatePolicy:       session.DuplicatePolicy(cfg.Classroom.DuplicateNamePolicy),
		EnforceCompletionGate: cfg.Classroom.EnforceCompletionGate,
		AnswerGrace:           cfg.Classroom.PollGrace,
	}, logger)
	if err != nil {
		logger.Fatal("classroom state", zap.Error(err))
	}
	defer state.Close()

	projector := history.NewProjector(st)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var (
		mirror   realtime.EventMirror
		jobQueue *queue.Queue
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()

		redisMirror := realtime.NewRedisMirror(rdb.Client, cfg.Redis.Channel, logger)
		go redisMirror.Run(bgCtx)
		mirror = redisMirror
		jobQueue = queue.NewQueue(rdb.Client, logger)
	}

	var s3Client *storage.S3
	if cfg.AWS.ArchiveBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	hub := realtime.NewHub(logger, mirror)
	coord := realtime.NewCoordinator(state, hub, projector, realtime.CoordinatorConfig{
		HistoryLimit:  cfg.Classroom.HistoryLimit,
		RevealCorrect: cfg.Classroom.RevealCorrect,
		IntentTimeout: cfg.Classroom.IntentTimeout,
		AnswerGrace:   cfg.Classroom.PollGrace,
	}, logger)
	defer coord.Close()

	if jobQueue != nil && s3Client != nil {
		coord.SetArchiveEnqueuer(jobQueue)
		if cfg.Classroom.InProcessArchiver {
			archiver := worker.NewPollArchiver(projector, s3Client, jobQueue, logger)
			go archiver.Run(bgCtx)
			logger.Info("poll archive worker started")
		}
	}

	var archives history.ArchiveLinker
	if s3Client != nil {
		archives = s3Client
	}
	historyHandler := history.NewHandler(projector, archives, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "storage": cfg.Storage.Driver, "clients": hub.Count()})
	})

	api := router.Group("/api")
	{
		api.GET("/polls/history", historyHandler.List)
		api.GET("/polls/:id/summary", historyHandler.Summary)
		api.GET("/polls/:id/archive", historyHandler.Archive)
	}

	router.GET("/ws", realtime.ServeWs(hub, coord, logger, realtime.ServeOptions{
		SendBuffer:     cfg.Classroom.ClientSendBuffer,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
