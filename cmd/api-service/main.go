package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/applyflow/applyflow/internal/ai"
	"github.com/applyflow/applyflow/internal/api/handler"
	"github.com/applyflow/applyflow/internal/api/router"
	"github.com/applyflow/applyflow/internal/automation"
	"github.com/applyflow/applyflow/internal/config"
	"github.com/applyflow/applyflow/internal/orchestrator"
	"github.com/applyflow/applyflow/internal/resolver"
	"github.com/applyflow/applyflow/internal/session"
	"github.com/applyflow/applyflow/internal/store"
	"github.com/applyflow/applyflow/shared/logger"
	"github.com/applyflow/applyflow/shared/postgresql"
	"github.com/applyflow/applyflow/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize Redis client for the answer cache
	redisClient, err := redis.NewClient(&redis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}

	appLogger.Info("Redis connection established")

	// Initialize OpenAI client
	aiClient, err := ai.NewClient(cfg.OpenAI.APIKey(), cfg.OpenAI.Model,
		cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimensions)
	if err != nil {
		return fmt.Errorf("failed to initialize AI client: %w", err)
	}

	// Wire stores
	db := dbClient.GetDB()
	appStore := store.NewApplicationStore(db)
	jobStore := store.NewJobStore(db)
	profileStore := store.NewProfileStore(db)
	answerStore := store.NewAnswerStore(redisClient.GetRDB())

	// Wire the browser session manager and field resolver
	driver := automation.NewRemoteDriver(cfg.Automation.BaseURL)
	defer driver.Close()

	sessions := session.NewManager(driver, cfg.Orchestrator.VerificationTTL, appLogger.Logger)
	fieldResolver := resolver.New(answerStore, aiClient,
		rand.New(rand.NewSource(time.Now().UnixNano())), appLogger.Logger)

	// Wire the orchestrator
	service := orchestrator.NewService(appStore, jobStore, profileStore, answerStore,
		fieldResolver, sessions, orchestrator.Config{
			ReviewTTL:         cfg.Orchestrator.ReviewTTL,
			VerificationTTL:   cfg.Orchestrator.VerificationTTL,
			SweepInterval:     cfg.Orchestrator.SweepInterval,
			AnalyzeTimeout:    cfg.Orchestrator.AnalyzeTimeout,
			SubmitTimeout:     cfg.Orchestrator.SubmitTimeout,
			VerifyTimeout:     cfg.Orchestrator.VerifyTimeout,
			MaxVerifyAttempts: cfg.Orchestrator.MaxVerifyAttempts,
		}, appLogger.Logger)

	// Start the TTL sweeper
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go service.RunSweeper(sweepCtx)

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, service, dbClient, redisClient)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if redisClient != nil {
			redisClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, service *orchestrator.Service, dbClient *postgresql.Client, redisClient *redis.Client) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:       logger,
		Orchestrator: service,
		DBClient:     dbClient,
		RedisClient:  redisClient,
	}

	return router.SetupRouter(handlerDeps)
}
