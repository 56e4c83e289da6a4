// Package main runs the video call API server with notifications websocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bpoc/video-calls/config"
	"github.com/bpoc/video-calls/internal/app"
	"github.com/bpoc/video-calls/internal/auth"
	"github.com/bpoc/video-calls/internal/invitations"
	"github.com/bpoc/video-calls/internal/middleware"
	"github.com/bpoc/video-calls/internal/notify"
	"github.com/bpoc/video-calls/internal/recordings"
	"github.com/bpoc/video-calls/internal/rooms"
	"github.com/bpoc/video-calls/internal/transcripts"
	"github.com/bpoc/video-calls/internal/worker"
	"github.com/bpoc/video-calls/pkg/response"
)

func main() {
	logger := app.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	roomHandler := rooms.NewHandler(a.RoomService, logger)
	invitationHandler := invitations.NewHandler(a.Invitations, a.Rooms, a.Hub, logger)
	transcriptHandler := transcripts.NewHandler(a.Pipeline, logger)

	var signer recordings.Signer
	if a.S3 != nil {
		signer = a.S3
	}
	recordingHandler := recordings.NewHandler(a.Recordings, a.Rooms, a.Pipeline, signer, a.Daily, logger).
		WithSync(a.Daily, a.Recordings, a.Queue)
	dailyWebhook := recordings.NewWebhookHandler(recordings.WebhookDeps{
		Recordings: a.Recordings,
		Rooms:      a.Rooms,
		Ledger:     a.Participants,
		Jobs:       a.Queue,
		Dedupe:     a.Redis,
		Notifier:   a.Hub,
		Secret:     cfg.Daily.WebhookSecret,
		Logger:     logger.Named("webhook"),
	})

	cleaner := a.Cleaner()
	maintenanceHandler := worker.NewMaintenanceHandler(cleaner, logger)

	// Vendor-spending and unauthenticated entry points share one per-IP budget.
	limiter := middleware.NewKeyRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, 10*time.Minute)
	limited := middleware.RateLimit(limiter)

	validateToken := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	video := router.Group("/video")
	{
		authed := video.Group("")
		authed.Use(middleware.JWT(jwtService))

		authed.POST("/rooms", limited, roomHandler.Create)
		authed.GET("/rooms", roomHandler.List)
		authed.GET("/rooms/:id", roomHandler.Get)
		authed.PATCH("/rooms/:id", roomHandler.Update)
		authed.DELETE("/rooms/:id", roomHandler.End)
		authed.POST("/rooms/:id/join", limited, roomHandler.Join)

		authed.GET("/invitations", invitationHandler.ListPending)
		authed.PATCH("/invitations/:id", invitationHandler.Respond)

		authed.GET("/recordings", recordingHandler.List)
		authed.GET("/recordings/:id/download-url", recordingHandler.DownloadURL)
		authed.POST("/recordings/sync", limited, recordingHandler.Sync)

		authed.GET("/transcribe", transcriptHandler.List)

		internal := video.Group("")
		internal.Use(middleware.JWTOrInternal(jwtService, cfg.Webhook.Secret))
		internal.POST("/transcribe", limited, transcriptHandler.Trigger)
		internal.POST("/transcribe/retry", limited, transcriptHandler.Retry)
	}

	// Vendor webhooks authenticate by signature inside the handler.
	router.POST("/webhooks/daily", limited, dailyWebhook.Daily)

	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole(middleware.RoleServiceRole))
	admin.POST("/maintenance/run", maintenanceHandler.Run)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", notify.ServeWs(a.Hub, logger, validateToken))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	if cfg.Server.RunWorker {
		processor := a.Processor()
		go func() {
			defer close(workerDone)
			processor.Run(workerCtx)
		}()
		if err := cleaner.Start(); err != nil {
			logger.Fatal("maintenance schedule", zap.Error(err))
		}
		logger.Info("embedded worker started")
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if cfg.Server.RunWorker {
		select {
		case <-cleaner.Stop().Done():
		case <-shutdownCtx.Done():
		}
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker did not stop in time")
	}
	logger.Info("server stopped")
}
