package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/auditforge/api/internal/client"
	"github.com/auditforge/api/internal/config"
	"github.com/auditforge/api/internal/handler"
	"github.com/auditforge/api/internal/llm"
	"github.com/auditforge/api/internal/middleware"
	"github.com/auditforge/api/internal/scheduler"
	"github.com/auditforge/api/internal/service"
	"github.com/auditforge/api/internal/store"
	"github.com/auditforge/api/internal/toolserver"
	"github.com/auditforge/api/internal/worker"
	ws "github.com/auditforge/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Open job store
	jobStore, err := store.NewSQLiteStore(cfg.Store.DBPath)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer jobStore.Close()

	// Initialize Redis client (optional - rate limiting only)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize tool server connections
	var manager *toolserver.Manager
	if cfg.Tools.Enabled {
		manager = toolserver.NewManager()
		initCtx, cancel := context.WithTimeout(ctx, time.Minute)
		manager.Initialize(initCtx, cfg.Tools.Servers)
		cancel()
		defer manager.Shutdown()
	}

	// Initialize LLM gateway
	llmClient := llm.NewClient(llm.ClientConfig{
		APIKey:     cfg.OpenRouter.APIKey,
		BaseURL:    cfg.OpenRouter.BaseURL,
		Model:      cfg.OpenRouter.Model,
		MaxRetries: cfg.OpenRouter.MaxRetries,
	})
	var agent *llm.Agent
	if manager != nil {
		agent = llm.NewAgent(llmClient, manager, cfg.Tools.MaxIterations)
	}
	gateway := llm.NewGateway(llmClient, agent, llm.GatewayConfig{
		DryRun:           cfg.OpenRouter.DryRun,
		FallbackToDirect: cfg.Tools.FallbackToDirect,
	})
	if gateway.DryRun() {
		log.Println("Info: running in dry-run mode, reports are synthetic")
	}

	// Initialize artifact storage (R2 when configured, local disk otherwise)
	var artifacts client.ArtifactStore
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Store, err := client.NewR2ArtifactStore(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 storage not initialized, using local storage: %v", err)
			artifacts = client.NewLocalArtifactStore(cfg.Store.DataDir)
		} else {
			artifacts = r2Store
		}
	} else {
		log.Println("Info: R2 storage not configured, using local storage")
		artifacts = client.NewLocalArtifactStore(cfg.Store.DataDir)
	}

	// Initialize scheduler and worker pool
	jobWorker := worker.New(jobStore, gateway, artifacts, hub)
	sched := scheduler.New(jobStore, jobWorker, scheduler.Options{
		PoolSize:   cfg.Scheduler.WorkerPoolSize,
		JobTimeout: time.Duration(cfg.Scheduler.JobHardTimeoutSec) * time.Second,
	})
	sched.Start()
	defer sched.Stop()

	// Initialize services and handlers
	jobService := service.NewJobService(jobStore, artifacts)
	jobHandler := handler.NewJobHandler(jobService, validate)
	healthHandler := handler.NewHealthHandler(jobStore, manager)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/healthz", healthHandler.Check)

	// Job routes, optionally behind bearer auth
	jobs := app.Group("/jobs")
	if cfg.JWT.Secret != "" {
		authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
		jobs.Use(authMiddleware.Authenticate())
	}
	jobs.Post("/", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobHandler.Create)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/report", jobHandler.Report)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
