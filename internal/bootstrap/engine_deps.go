// Package bootstrap wires the engine's adapters and services into the api
// and worker processes.
package bootstrap

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/clubhousegolfcanada/response-engine/adapter/out/messaging"
	"github.com/clubhousegolfcanada/response-engine/adapter/out/mongodb"
	"github.com/clubhousegolfcanada/response-engine/adapter/out/persistence"
	"github.com/clubhousegolfcanada/response-engine/config"
	"github.com/clubhousegolfcanada/response-engine/core/llm"
	"github.com/clubhousegolfcanada/response-engine/core/service"
	"github.com/clubhousegolfcanada/response-engine/core/service/learning"
	"github.com/clubhousegolfcanada/response-engine/core/service/matching"
	"github.com/clubhousegolfcanada/response-engine/core/service/review"
	"github.com/clubhousegolfcanada/response-engine/core/service/safety"
	"github.com/clubhousegolfcanada/response-engine/core/service/shadow"
	"github.com/clubhousegolfcanada/response-engine/infra/database"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
	"github.com/clubhousegolfcanada/response-engine/pkg/dedupe"
	"github.com/clubhousegolfcanada/response-engine/pkg/logger"
)

const transcriptMaxTurns = 200

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Zlog    zerolog.Logger

	// Adapters
	PatternRepo    *persistence.PatternAdapter
	ReviewRepo     *persistence.ReviewAdapter
	ExecutionRepo  *persistence.ExecutionAdapter
	TranscriptRepo *mongodb.TranscriptAdapter
	Producer       *messaging.StreamProducer
	Dedupe         *dedupe.Store

	// Providers
	LLMClient *llm.Client

	// Services
	Matcher          *matching.Matcher
	Validator        *safety.Validator
	Learner          *learning.Learner
	ShadowRecorder   *shadow.Recorder
	ReviewService    *review.Service
	Engine           *service.Engine
	PatternService   *service.PatternService
	AnalyticsService *service.AnalyticsService
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("node_id", cfg.NodeID).Logger()
	deps.Zlog = zlog

	// Database (pgxpool for the pattern adapter)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the review and execution adapters)
	sqlDB, err := database.NewSqlx(cfg.DatabaseURL)
	if err != nil {
		cleanupAll(cleanups)
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis carries the event streams and the dedupe marks; the engine
	// cannot run without it.
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanupAll(cleanups)
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })

	deps.Dedupe = dedupe.NewStore(redisClient, time.Duration(cfg.DedupeTTLHour)*time.Hour)
	deps.Producer = messaging.NewStreamProducer(redisClient)

	// MongoDB holds the conversation transcripts the feedback loop reads.
	mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
	if err != nil {
		cleanupAll(cleanups)
		return nil, nil, err
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() {
		mongoClient.Disconnect(context.Background())
	})

	mongoDB := mongoClient.Database(cfg.MongoDBName)
	deps.TranscriptRepo = mongodb.NewTranscriptAdapter(mongoDB, transcriptMaxTurns)
	if err := deps.TranscriptRepo.EnsureIndexes(context.Background()); err != nil {
		logger.Warn("Failed to ensure transcript indexes: %v", err)
	}

	// Postgres adapters
	deps.PatternRepo = persistence.NewPatternAdapter(db)
	deps.ReviewRepo = persistence.NewReviewAdapter(sqlDB)
	deps.ExecutionRepo = persistence.NewExecutionAdapter(sqlDB)

	// LLM client (embeddings + generalization). Degraded lexical-only
	// matching covers provider outages at runtime; a missing key is a
	// deployment mistake and fails fast instead.
	if cfg.OpenAIAPIKey == "" {
		cleanupAll(cleanups)
		return nil, nil, apperr.ConfigError("OPENAI_API_KEY is required")
	}
	deps.LLMClient = llm.NewClient(llm.ClientConfig{
		APIKey:          cfg.OpenAIAPIKey,
		Model:           cfg.LLMModel,
		EmbeddingModel:  cfg.EmbeddingModel,
		MaxTokens:       cfg.LLMMaxTokens,
		Temperature:     cfg.LLMTemperature,
		EmbedTimeout:    cfg.EmbedTimeout(),
		CompleteTimeout: cfg.CompleteTimeout(),
	}, zlog)

	// Core services
	deps.Matcher = matching.NewMatcher(deps.PatternRepo, deps.LLMClient, zlog)
	deps.Validator = safety.NewValidator()
	deps.Learner = learning.NewLearner(deps.PatternRepo, deps.LLMClient, deps.Producer, zlog)
	deps.ShadowRecorder = shadow.NewRecorder(deps.PatternRepo, zlog)

	deps.ReviewService = review.NewService(review.Deps{
		Reviews:     deps.ReviewRepo,
		Patterns:    deps.PatternRepo,
		Executions:  deps.ExecutionRepo,
		Transcripts: deps.TranscriptRepo,
		Sender:      deps.Producer,
		Notifier:    deps.Producer,
		Learner:     deps.Learner,
		TTL:         cfg.ReviewTTL(),
	}, zlog)

	deps.Engine = service.NewEngine(service.EngineDeps{
		Dedupe:      deps.Dedupe,
		Matcher:     deps.Matcher,
		Validator:   deps.Validator,
		Reviews:     deps.ReviewService,
		Learner:     deps.Learner,
		Shadow:      deps.ShadowRecorder,
		Patterns:    deps.PatternRepo,
		Executions:  deps.ExecutionRepo,
		Transcripts: deps.TranscriptRepo,
		Sender:      deps.Producer,
		ShadowMode:  cfg.ShadowMode,
	}, zlog)

	deps.PatternService = service.NewPatternService(deps.PatternRepo, deps.LLMClient, zlog)
	deps.AnalyticsService = service.NewAnalyticsService(deps.ExecutionRepo)

	cleanup := func() { cleanupAll(cleanups) }

	return deps, cleanup, nil
}

func cleanupAll(cleanups []func()) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}

	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	return nil
}
