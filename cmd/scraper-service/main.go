package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/applyflow/applyflow/internal/ai"
	"github.com/applyflow/applyflow/internal/config"
	"github.com/applyflow/applyflow/internal/scraper"
	"github.com/applyflow/applyflow/internal/store"
	"github.com/applyflow/applyflow/shared/logger"
	"github.com/applyflow/applyflow/shared/postgresql"
	"github.com/applyflow/applyflow/shared/rabbitmq"
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
	defaultConfigPath := os.Getenv("SCRAPER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/scraper-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateScraperConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting scraper service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Initialize OpenAI client for embeddings
	aiClient, err := ai.NewClient(cfg.OpenAI.APIKey(), cfg.OpenAI.Model,
		cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimensions)
	if err != nil {
		return fmt.Errorf("failed to initialize AI client: %w", err)
	}

	// Build sources from configuration
	sources, err := buildSources(&cfg.Scraper)
	if err != nil {
		return err
	}

	jobStore := store.NewJobStore(dbClient.GetDB())
	pipeline := scraper.NewPipeline(jobStore, aiClient, cfg.Scraper.EmbeddingRate, appLogger.Logger)

	// The scheduler publishes scrape tasks; the worker pool consumes them.
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = src.Name()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := scraper.NewScheduler(rabbitClient, names, cfg.Scraper.Schedule, appLogger.Logger)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	worker := scraper.NewWorker(&scraper.WorkerConfig{
		Logger:        appLogger.Logger,
		RabbitClient:  rabbitClient,
		Pipeline:      pipeline,
		Sources:       sources,
		WorkerID:      fmt.Sprintf("scraper-%s", uuid.NewString()[:8]),
		Concurrency:   cfg.Scraper.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		TaskTimeout:   cfg.Scraper.TaskTimeout,
	})

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Start(ctx)
	}()

	appLogger.Info("Scraper service is running",
		slog.Int("sources", len(sources)),
		slog.String("schedule", cfg.Scraper.Schedule),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down scraper service...")
	case err := <-workerDone:
		if err != nil {
			return fmt.Errorf("worker stopped: %w", err)
		}
	}

	scheduler.Stop()
	cancel()
	worker.Stop()

	appLogger.Info("Scraper service shutdown complete")
	return nil
}

// buildSources instantiates the configured source adapters.
func buildSources(cfg *config.ScraperConfig) ([]scraper.Source, error) {
	sources := make([]scraper.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		switch src.Adapter {
		case "greenhouse":
			sources = append(sources, scraper.NewGreenhouseSource(
				src.Name, src.Token, cfg.RequestRate, cfg.JobsPerSource))
		default:
			return nil, fmt.Errorf("unknown source adapter %q for source %q", src.Adapter, src.Name)
		}
	}
	return sources, nil
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

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
