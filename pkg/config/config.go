// Package config loads application configuration from an optional .env
// file, a YAML file and PS_* environment overrides. It provides typed structs
// for every subsystem (Server, Postgres, Kafka, Redis, LLM, Fetcher, etc.).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowOrigins    []string      `yaml:"allowOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SearchEvents string `yaml:"searchEvents"`
}

// RedisConfig holds Redis connection and listing cache parameters.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"poolSize"`
	ListingTTL time.Duration `yaml:"listingTTL"`
}

// LLMConfig configures the OpenAI-compatible keyword extraction endpoint.
// An empty APIKey selects the offline pattern extractor.
type LLMConfig struct {
	BaseURL     string        `yaml:"baseUrl"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"maxTokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// FetcherConfig controls the listing scraper.
type FetcherConfig struct {
	BaseURL     string        `yaml:"baseUrl"`
	MaxRecords  int           `yaml:"maxRecords"`
	Timeout     time.Duration `yaml:"timeout"`
	RandomDelay time.Duration `yaml:"randomDelay"`
	Parallelism int           `yaml:"parallelism"`
}

// PipelineConfig holds search and recommendation limits.
type PipelineConfig struct {
	RecommendationSize int           `yaml:"recommendationSize"`
	PageSize           int           `yaml:"pageSize"`
	ActiveWindow       time.Duration `yaml:"activeWindow"`
}

// ScheduleConfig holds the intervals of the background jobs.
type ScheduleConfig struct {
	RefreshInterval  time.Duration `yaml:"refreshInterval"`
	BackupInterval   time.Duration `yaml:"backupInterval"`
	CleanupInterval  time.Duration `yaml:"cleanupInterval"`
	HistoryRetention time.Duration `yaml:"historyRetention"`
}

// RateLimitConfig bounds searches per user, since every miss costs an LLM
// call and a scrape.
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	SearchesPerMin int           `yaml:"searchesPerMin"`
	Window         time.Duration `yaml:"window"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads an optional .env file next to the process, then a YAML config
// file (if provided), and applies environment-variable overrides. Missing
// values keep their defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "propertysearch",
			User:            "propertysearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "propertysearch-history",
			Topics: KafkaTopics{
				SearchEvents: "search-events",
			},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			ListingTTL: 5 * time.Minute,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			MaxTokens:   500,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
		},
		Fetcher: FetcherConfig{
			BaseURL:     "https://m.land.naver.com",
			MaxRecords:  50,
			Timeout:     60 * time.Second,
			RandomDelay: 2 * time.Second,
			Parallelism: 1,
		},
		Pipeline: PipelineConfig{
			RecommendationSize: 10,
			PageSize:           30,
			ActiveWindow:       24 * time.Hour,
		},
		Schedule: ScheduleConfig{
			RefreshInterval:  5 * time.Minute,
			BackupInterval:   10 * time.Minute,
			CleanupInterval:  24 * time.Hour,
			HistoryRetention: 30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			SearchesPerMin: 20,
			Window:         time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads PS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	envInt("PS_SERVER_PORT", &cfg.Server.Port)
	envString("PS_POSTGRES_HOST", &cfg.Postgres.Host)
	envInt("PS_POSTGRES_PORT", &cfg.Postgres.Port)
	envString("PS_POSTGRES_DATABASE", &cfg.Postgres.Database)
	envString("PS_POSTGRES_USER", &cfg.Postgres.User)
	envString("PS_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	envString("PS_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("PS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	envString("PS_REDIS_ADDR", &cfg.Redis.Addr)
	envString("PS_REDIS_PASSWORD", &cfg.Redis.Password)
	envDuration("PS_REDIS_LISTING_TTL", &cfg.Redis.ListingTTL)
	envString("PS_LLM_BASE_URL", &cfg.LLM.BaseURL)
	envString("PS_LLM_MODEL", &cfg.LLM.Model)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	envString("PS_LLM_API_KEY", &cfg.LLM.APIKey)
	envString("PS_FETCHER_BASE_URL", &cfg.Fetcher.BaseURL)
	envDuration("PS_SCHEDULE_REFRESH_INTERVAL", &cfg.Schedule.RefreshInterval)
	envDuration("PS_SCHEDULE_BACKUP_INTERVAL", &cfg.Schedule.BackupInterval)
	envString("PS_LOGGING_LEVEL", &cfg.Logging.Level)
	envString("PS_LOGGING_FORMAT", &cfg.Logging.Format)
	envInt("PS_METRICS_PORT", &cfg.Metrics.Port)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
