package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
server:
  port: 8080
  read_timeout: 10s
  write_timeout: 10s
  idle_timeout: 60s
  shutdown_timeout: 15s

database:
  host: localhost
  port: 5432
  user: applyflow
  password: secret
  database: applyflow
  sslmode: disable
  max_open_conns: 20
  max_idle_conns: 5
  conn_max_lifetime: 30m
  conn_max_idle_time: 5m

redis:
  host: localhost
  port: 6379
  db: 0

rabbitmq:
  host: localhost
  port: 5672
  user: guest
  password: guest
  vhost: /
  exchange:
    name: scrape.tasks
    type: direct
    durable: true
  queue:
    name: scrape.tasks.queue
    durable: true
  routing_key: scrape
  connection:
    retry_attempts: 3
    retry_interval: 2s
    heartbeat: 10s
    connection_timeout: 30s
  publish:
    retry_attempts: 3
    retry_interval: 100ms
    backoff_multiplier: 2.0
  consumer:
    prefetch_count: 4

logging:
  level: info
  format: json
  output: stdout

app:
  name: applyflow
  version: 0.1.0
  environment: test

openai:
  model: gpt-4o-mini
  embedding_model: text-embedding-3-small
  embedding_dimensions: 768

automation:
  base_url: http://localhost:9222

orchestrator:
  review_ttl: 30m
  verification_ttl: 15m
  sweep_interval: 30s
  analyze_timeout: 120s
  submit_timeout: 600s
  verify_timeout: 60s
  max_verify_attempts: 3

scraper:
  schedule: "@every 1h"
  jobs_per_source: 10
  request_rate: 5
  embedding_rate: 2
  concurrency: 3
  task_timeout: 10m
  shutdown_timeout: 30s
  sources:
    - name: reddit
      adapter: greenhouse
      token: reddit
      company: Reddit
`

func TestLoad(t *testing.T) {
	path := writeConfig(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "scrape.tasks", cfg.RabbitMQ.Exchange.Name)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 768, cfg.OpenAI.EmbeddingDimensions)
	assert.Equal(t, 30*time.Minute, cfg.Orchestrator.ReviewTTL)
	assert.Equal(t, 15*time.Minute, cfg.Orchestrator.VerificationTTL)
	assert.Equal(t, 3, cfg.Orchestrator.MaxVerifyAttempts)
	assert.Equal(t, "@every 1h", cfg.Scraper.Schedule)
	require.Len(t, cfg.Scraper.Sources, 1)
	assert.Equal(t, "greenhouse", cfg.Scraper.Sources[0].Adapter)
	assert.Equal(t, "Reddit", cfg.Scraper.Sources[0].Company)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_PASSWORD", "from-env")
	t.Setenv("RABBITMQ_PASSWORD", "rabbit-env")

	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "rabbit-env", cfg.RabbitMQ.Password)
}

func TestOpenAIAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("CUSTOM_KEY", "sk-custom")

	cfg := OpenAIConfig{}
	assert.Equal(t, "sk-default", cfg.APIKey())

	cfg.APIKeyEnv = "CUSTOM_KEY"
	assert.Equal(t, "sk-custom", cfg.APIKey())
}

func TestValidateAPIConfig(t *testing.T) {
	load := func(t *testing.T) *Config {
		cfg, err := Load(writeConfig(t, validYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: "database host is required",
		},
		{
			name:    "missing database name",
			mutate:  func(c *Config) { c.Database.Database = "" },
			wantErr: "database name is required",
		},
		{
			name:    "missing redis host",
			mutate:  func(c *Config) { c.Redis.Host = "" },
			wantErr: "redis host is required",
		},
		{
			name:    "zero review ttl",
			mutate:  func(c *Config) { c.Orchestrator.ReviewTTL = 0 },
			wantErr: "review_ttl",
		},
		{
			name:    "zero verification ttl",
			mutate:  func(c *Config) { c.Orchestrator.VerificationTTL = 0 },
			wantErr: "verification_ttl",
		},
		{
			name:    "zero sweep interval",
			mutate:  func(c *Config) { c.Orchestrator.SweepInterval = 0 },
			wantErr: "sweep_interval",
		},
		{
			name:    "zero verify attempts",
			mutate:  func(c *Config) { c.Orchestrator.MaxVerifyAttempts = 0 },
			wantErr: "max_verify_attempts",
		},
		{
			name:    "zero embedding dimensions",
			mutate:  func(c *Config) { c.OpenAI.EmbeddingDimensions = 0 },
			wantErr: "embedding_dimensions",
		},
		{
			name:    "missing automation base url",
			mutate:  func(c *Config) { c.Automation.BaseURL = "" },
			wantErr: "automation base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := load(t)
			tt.mutate(cfg)
			err := cfg.ValidateAPIConfig()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateScraperConfig(t *testing.T) {
	load := func(t *testing.T) *Config {
		cfg, err := Load(writeConfig(t, validYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing rabbitmq host",
			mutate:  func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr: "rabbitmq host is required",
		},
		{
			name:    "missing exchange name",
			mutate:  func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr: "exchange name is required",
		},
		{
			name:    "missing queue name",
			mutate:  func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr: "queue name is required",
		},
		{
			name:    "missing schedule",
			mutate:  func(c *Config) { c.Scraper.Schedule = "" },
			wantErr: "schedule is required",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Scraper.Concurrency = 0 },
			wantErr: "concurrency",
		},
		{
			name:    "zero jobs per source",
			mutate:  func(c *Config) { c.Scraper.JobsPerSource = 0 },
			wantErr: "jobs_per_source",
		},
		{
			name:    "no sources",
			mutate:  func(c *Config) { c.Scraper.Sources = nil },
			wantErr: "at least one scraper source",
		},
		{
			name: "source missing adapter",
			mutate: func(c *Config) {
				c.Scraper.Sources[0].Adapter = ""
			},
			wantErr: "adapter is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := load(t)
			tt.mutate(cfg)
			err := cfg.ValidateScraperConfig()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
