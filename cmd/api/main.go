package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/api/handlers"
	"github.com/deepresearch/backend/internal/cache/redis"
	"github.com/deepresearch/backend/internal/events"
	"github.com/deepresearch/backend/internal/extraction"
	"github.com/deepresearch/backend/internal/kg/neo4j"
	"github.com/deepresearch/backend/internal/llm"
	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/internal/middleware/ratelimit"
	"github.com/deepresearch/backend/internal/middleware/security"
	"github.com/deepresearch/backend/internal/middleware/validation"
	"github.com/deepresearch/backend/internal/report"
	"github.com/deepresearch/backend/internal/research"
	"github.com/deepresearch/backend/internal/search"
	"github.com/deepresearch/backend/internal/search/providers"
	"github.com/deepresearch/backend/internal/storage/sqlite"
	"github.com/deepresearch/backend/pkg/config"
	appLogger "github.com/deepresearch/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Deep Research API Server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var notifier events.Notifier = events.NewBroker()
	var exportCache report.ExportCache = report.NewMemoryCache()
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		notifier = redisClient
		exportCache = redisClient
	}

	deps := research.Deps{Store: sqliteClient}
	if cfg.Neo4j.Enabled {
		neo4jClient, err := neo4j.NewClient(
			cfg.Neo4j.URI,
			cfg.Neo4j.Username,
			cfg.Neo4j.Password,
			cfg.Neo4j.Database,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
		}
		defer neo4jClient.Close(context.Background())
		deps.Mirror = neo4jClient
		deps.GraphQuery = neo4jClient
	}

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		appLogger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	deps.Generator = llmClient
	orchestrator := search.NewOrchestrator(
		providers.Defaults(cfg.Search),
		time.Duration(cfg.Search.TimeoutSec)*time.Second,
	)
	for _, p := range orchestrator.Providers() {
		appLogger.Info("Search provider registered",
			zap.String("provider", p.Name()),
			zap.Bool("available", p.IsAvailable()),
		)
	}
	deps.Searcher = orchestrator
	deps.Fetcher = extraction.NewExtractor(extraction.Config{
		UserAgent:     cfg.Extraction.UserAgent,
		Timeout:       time.Duration(cfg.Extraction.TimeoutSec) * time.Second,
		MaxBodyBytes:  cfg.Extraction.MaxBodyBytes,
		RespectRobots: cfg.Extraction.RespectRobots,
	})
	deps.Concurrency = cfg.Extraction.Concurrency
	deps.Events = events.NewLog(sqliteClient, notifier, time.Duration(cfg.Research.PollIntervalMs)*time.Millisecond)

	service := research.NewService(cfg.Research, deps)
	if n, err := service.RecoverInterrupted(); err != nil {
		appLogger.Fatal("Failed to recover interrupted sessions", zap.Error(err))
	} else if n > 0 {
		appLogger.Warn("Marked interrupted sessions as failed", zap.Int("count", n))
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	origins := splitList(cfg.Server.AllowedOrigins)
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID, Last-Event-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: origins,
		IsDevelopment:  cfg.Server.Development,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})

	api := app.Group("/api/v1",
		limiter.Middleware(),
		validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}),
	)

	streamCtx, stopStreams := context.WithCancel(context.Background())
	handlers.Register(api, handlers.Handlers{
		Research: handlers.NewResearchHandler(service, cfg.Research),
		Stream:   handlers.NewStreamHandler(streamCtx, service),
		Export:   handlers.NewExportHandler(report.NewExporter(service, exportCache)),
		System:   handlers.NewSystemHandler(sqliteClient),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stopStreams()
	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if err := app.ShutdownWithTimeout(timeout); err != nil {
		appLogger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := service.Shutdown(ctx); err != nil {
		appLogger.Warn("Research sessions did not stop in time", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
