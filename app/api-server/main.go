package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/selfscribe/selfscribe/config"
	"github.com/selfscribe/selfscribe/internal/api/handlers"
	"github.com/selfscribe/selfscribe/internal/api/middleware"
	"github.com/selfscribe/selfscribe/internal/api/routes"
	"github.com/selfscribe/selfscribe/internal/cache"
	"github.com/selfscribe/selfscribe/internal/logger"
	"github.com/selfscribe/selfscribe/internal/models"
	"github.com/selfscribe/selfscribe/internal/providers/geocode"
	"github.com/selfscribe/selfscribe/internal/providers/stt"
	"github.com/selfscribe/selfscribe/internal/repositories/postgres"
	"github.com/selfscribe/selfscribe/internal/services"
	"github.com/selfscribe/selfscribe/internal/storage"
	"github.com/selfscribe/selfscribe/internal/workers"
)

func main() {
	_ = godotenv.Load()

	logg := logger.New()

	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	logg.Info("PostgreSQL connected")

	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	logg.Info("Redis connected")

	pipe, err := config.LoadPipeline()
	if err != nil {
		log.Fatalf("pipeline config error: %v", err)
	}

	if err := config.PostgresDB.AutoMigrate(
		&models.Enrollment{},
		&models.Chunk{},
		&models.Segment{},
		&models.Location{},
	); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	ctx := context.Background()

	store, err := storage.NewGCSStore(ctx, pipe.StorageBucket)
	if err != nil {
		log.Fatalf("storage init error: %v", err)
	}
	defer store.Close()

	enrollmentRepo := postgres.NewEnrollmentRepo(config.PostgresDB)
	chunkRepo := postgres.NewChunkRepo(config.PostgresDB)
	segmentRepo := postgres.NewSegmentRepo(config.PostgresDB)
	locationRepo := postgres.NewLocationRepo(config.PostgresDB)

	redisCache := cache.NewRedisCache(config.RedisClient)
	queue := workers.NewRedisQueue(config.RedisClient)
	provider := stt.NewAssemblyAI(pipe.ProviderAPIKey, logg)
	geocoder := geocode.NewCached(geocode.NewNominatim("selfscribe/1.0"), redisCache, 24*time.Hour)

	webhookURL := pipe.WebhookBaseURL + "/webhooks/transcription"

	enrollmentSvc := services.NewEnrollmentService(enrollmentRepo, store)
	ingestSvc := services.NewIngestService(services.IngestDeps{
		Chunks:      chunkRepo,
		Enrollments: enrollmentRepo,
		Segments:    segmentRepo,
		Locations:   locationRepo,
		Store:       store,
		Queue:       queue,
		Geocoder:    geocoder,
		Cache:       redisCache,
		MapperCfg:   pipe.MapperConfig(),
		Logger:      logg,
	})
	timelineSvc := services.NewTimelineService(segmentRepo, redisCache)
	audioSvc := services.NewAudioService(segmentRepo, chunkRepo, store)

	pool := &workers.IngestWorkerPool{
		Redis:      config.RedisClient,
		Chunks:     chunkRepo,
		Store:      store,
		STT:        provider,
		Logger:     logg,
		NumWorkers: pipe.IngestNumWorkers,
		PadMS:      pipe.PadMS,
		WebhookURL: webhookURL,
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("worker pool start error: %v", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logg))

	routes.RegisterRoutes(r, routes.Deps{
		Enrollment: handlers.NewEnrollmentHandler(enrollmentSvc),
		Chunk:      handlers.NewChunkHandler(ingestSvc),
		Webhook:    handlers.NewWebhookHandler(ingestSvc, pipe.WebhookSecret, logg),
		Timeline:   handlers.NewTimelineHandler(timelineSvc),
		Audio:      handlers.NewAudioHandler(audioSvc),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
