package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Automation   AutomationConfig   `yaml:"automation"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Scraper      ScraperConfig      `yaml:"scraper"`
}

// AutomationConfig points at the browser-automation sidecar
type AutomationConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection configuration for the answer cache
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// OpenAIConfig holds AI completion and embedding settings. The API key is
// read from the environment, never from the file.
type OpenAIConfig struct {
	APIKeyEnv           string `yaml:"api_key_env"`
	Model               string `yaml:"model"`
	EmbeddingModel      string `yaml:"embedding_model"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`
}

// APIKey resolves the OpenAI API key from the configured environment variable.
func (c *OpenAIConfig) APIKey() string {
	env := c.APIKeyEnv
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	return os.Getenv(env)
}

// OrchestratorConfig holds application-lifecycle settings
type OrchestratorConfig struct {
	ReviewTTL         time.Duration `yaml:"review_ttl"`
	VerificationTTL   time.Duration `yaml:"verification_ttl"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	AnalyzeTimeout    time.Duration `yaml:"analyze_timeout"`
	SubmitTimeout     time.Duration `yaml:"submit_timeout"`
	VerifyTimeout     time.Duration `yaml:"verify_timeout"`
	MaxVerifyAttempts int           `yaml:"max_verify_attempts"`
}

// ScraperConfig holds discovery pipeline settings
type ScraperConfig struct {
	Schedule        string         `yaml:"schedule"`
	JobsPerSource   int            `yaml:"jobs_per_source"`
	RequestRate     float64        `yaml:"request_rate"`
	EmbeddingRate   float64        `yaml:"embedding_rate"`
	Concurrency     int            `yaml:"concurrency"`
	TaskTimeout     time.Duration  `yaml:"task_timeout"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	Sources         []SourceConfig `yaml:"sources"`
}

// SourceConfig identifies one external job board to scrape
type SourceConfig struct {
	Name    string `yaml:"name"`
	Adapter string `yaml:"adapter"`
	Token   string `yaml:"token"`
	Company string `yaml:"company"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvOverrides()

	return &config, nil
}

// applyEnvOverrides lets secrets come from the environment instead of the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
}

func (c *Config) validateCommon() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.OpenAI.EmbeddingDimensions <= 0 {
		return fmt.Errorf("openai embedding_dimensions must be greater than 0")
	}

	return nil
}

// ValidateAPIConfig checks the configuration required by the api-service
func (c *Config) ValidateAPIConfig() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if c.Orchestrator.ReviewTTL <= 0 {
		return fmt.Errorf("orchestrator review_ttl must be greater than 0")
	}

	if c.Orchestrator.VerificationTTL <= 0 {
		return fmt.Errorf("orchestrator verification_ttl must be greater than 0")
	}

	if c.Orchestrator.SweepInterval <= 0 {
		return fmt.Errorf("orchestrator sweep_interval must be greater than 0")
	}

	if c.Orchestrator.MaxVerifyAttempts <= 0 {
		return fmt.Errorf("orchestrator max_verify_attempts must be greater than 0")
	}

	if c.Automation.BaseURL == "" {
		return fmt.Errorf("automation base_url is required")
	}

	return nil
}

// ValidateScraperConfig checks the configuration required by the scraper-service
func (c *Config) ValidateScraperConfig() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Scraper.Schedule == "" {
		return fmt.Errorf("scraper schedule is required")
	}

	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper concurrency must be greater than 0")
	}

	if c.Scraper.JobsPerSource <= 0 {
		return fmt.Errorf("scraper jobs_per_source must be greater than 0")
	}

	if c.Scraper.TaskTimeout <= 0 {
		return fmt.Errorf("scraper task_timeout must be greater than 0")
	}

	if len(c.Scraper.Sources) == 0 {
		return fmt.Errorf("at least one scraper source is required")
	}

	for i, src := range c.Scraper.Sources {
		if src.Name == "" {
			return fmt.Errorf("scraper source %d: name is required", i)
		}
		if src.Adapter == "" {
			return fmt.Errorf("scraper source %q: adapter is required", src.Name)
		}
	}

	return nil
}
