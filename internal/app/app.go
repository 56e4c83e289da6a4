// Package app wires the shared infrastructure and domain services used by the
// API server and the standalone worker.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bpoc/video-calls/config"
	"github.com/bpoc/video-calls/internal/conversion"
	"github.com/bpoc/video-calls/internal/daily"
	"github.com/bpoc/video-calls/internal/identity"
	"github.com/bpoc/video-calls/internal/invitations"
	"github.com/bpoc/video-calls/internal/notify"
	"github.com/bpoc/video-calls/internal/participants"
	"github.com/bpoc/video-calls/internal/recordings"
	"github.com/bpoc/video-calls/internal/rooms"
	"github.com/bpoc/video-calls/internal/speech"
	"github.com/bpoc/video-calls/internal/transcripts"
	"github.com/bpoc/video-calls/internal/worker"
	"github.com/bpoc/video-calls/pkg/database"
	"github.com/bpoc/video-calls/pkg/queue"
	"github.com/bpoc/video-calls/pkg/redis"
	"github.com/bpoc/video-calls/pkg/storage"
)

// App holds everything both binaries share.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client
	S3    *storage.S3 // nil when owned storage is unavailable
	Queue *queue.Queue
	Hub   *notify.Hub
	Daily *daily.Client

	Rooms        *rooms.Repository
	Invitations  *invitations.Repository
	Participants *participants.Repository
	Recordings   *recordings.Repository
	Transcripts  *transcripts.Repository
	Identities   *identity.Resolver

	RoomService *rooms.Service
	Pipeline    *transcripts.Pipeline
}

// NewLogger builds the production zap logger.
func NewLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

// New connects to Postgres, Redis and S3 and builds the domain services.
// Close releases the connections.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.Pool = pool

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.Redis = rdb

	if cfg.AWS.Region != "" && cfg.AWS.RecordingsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			a.S3 = s3Client
		}
	}

	roomCap, err := database.ResolveCapability(ctx, pool, cfg.Schema.Mode, rooms.Table, rooms.OptionalColumns)
	if err != nil {
		a.Close()
		return nil, err
	}
	invCap, err := database.ResolveCapability(ctx, pool, cfg.Schema.Mode, invitations.Table, invitations.OptionalColumns)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("schema resolved",
		zap.String("mode", cfg.Schema.Mode),
		zap.Bool("rooms_full", roomCap.Full()),
		zap.Bool("invitations_full", invCap.Full()))

	ins := database.PoolInserter{DB: pool}
	pubsub := notify.NewRedisPubSub(rdb.Client, logger)
	a.Hub = notify.NewHub(logger, pubsub, pubsub)
	a.Queue = queue.NewQueue(rdb.Client, logger)
	a.Daily = daily.NewClient(cfg.Daily.APIKey, cfg.Daily.BaseURL, nil, logger)
	if !a.Daily.Configured() {
		logger.Warn("DAILY_API_KEY not set; room creation and recording links will fail")
	}

	a.Rooms = rooms.NewRepository(pool)
	a.Invitations = invitations.NewRepository(pool, ins, invCap, logger)
	a.Participants = participants.NewRepository(pool)
	a.Recordings = recordings.NewRepository(pool)
	a.Transcripts = transcripts.NewRepository(pool)
	a.Identities = identity.NewResolver(identity.NewRepository(pool), logger)

	a.RoomService = rooms.NewService(rooms.Deps{
		Provider:    a.Daily,
		Registry:    rooms.NewRegistry(ins, roomCap, logger),
		Store:       a.Rooms,
		Invitations: a.Invitations,
		Ledger:      a.Participants,
		Identities:  a.Identities,
		Tx:          database.PoolTx{Pool: pool},
		Notifier:    a.Hub,
		Logger:      logger,
	}, rooms.Options{RoomTTL: cfg.Daily.RoomTTL, MaxParticipants: cfg.Daily.MaxMembers})

	a.Pipeline = transcripts.NewPipeline(a.pipelineDeps(), transcripts.Options{
		Budget:   cfg.Worker.PipelineTimeout,
		ClaimTTL: cfg.Worker.ClaimTTL,
	})
	return a, nil
}

// pipelineDeps leaves vendor interfaces nil when their key is missing so the
// pipeline reports NOT_CONFIGURED instead of calling out.
func (a *App) pipelineDeps() transcripts.Deps {
	cfg := a.Config
	d := transcripts.Deps{
		Store:      a.Transcripts,
		Recordings: a.Recordings,
		Rooms:      a.Rooms,
		Links:      a.Daily,
		Agencies:   a.Identities,
		Notifier:   a.Hub,
		Logger:     a.Logger,
	}
	if cfg.CloudConvert.APIKey != "" {
		d.Converter = conversion.NewClient(cfg.CloudConvert.APIKey, conversion.Options{
			BaseURL:      cfg.CloudConvert.BaseURL,
			PollInterval: cfg.CloudConvert.PollInterval,
			MaxPolls:     cfg.CloudConvert.MaxPolls,
		}, a.Logger)
	}
	if cfg.OpenAI.APIKey != "" {
		client := speech.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
		d.Transcriber = speech.NewWhisper(client, a.Logger)
		d.Summarizer = speech.NewSummarizer(client, cfg.OpenAI.SummaryModel, a.Logger)
	}
	if a.S3 != nil {
		d.Signer = a.S3
	}
	return d
}

// Processor builds the queue worker.
func (a *App) Processor() *worker.Processor {
	d := worker.Deps{
		Queue:       a.Queue,
		Recordings:  a.Recordings,
		Links:       a.Daily,
		Transcriber: a.Pipeline,
		Logger:      a.Logger.Named("worker"),
	}
	if a.S3 != nil {
		d.Uploader = a.S3
	}
	return worker.NewProcessor(d)
}

// Cleaner builds the maintenance scheduler.
func (a *App) Cleaner() *worker.Cleaner {
	cfg := a.Config.Worker
	var (
		recs    worker.RetentionStore
		objects worker.ObjectDeleter
	)
	if a.S3 != nil {
		recs, objects = a.Recordings, a.S3
	}
	return worker.NewCleaner(a.Invitations, a.Transcripts, recs, objects,
		worker.WithLogger(a.Logger.Named("maintenance")),
		worker.WithClaimTTL(cfg.ClaimTTL),
		worker.WithRetentionDays(cfg.RecordingRetentionDays),
		worker.WithSchedules(cfg.InvitationExpirySpec, cfg.StaleClaimSpec, cfg.RetentionSpec),
	)
}

// Close releases Redis and Postgres.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// ShutdownGrace bounds graceful shutdown in both binaries.
const ShutdownGrace = 15 * time.Second
