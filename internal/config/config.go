package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Cache    CacheConfig
	Tasks    TasksConfig
	Sentinel SentinelConfig
	AI       AIConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string
	Port string
}

// RedisConfig holds the shared Redis connection (queue broker and result
// cache live in the same instance).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig holds worker pool settings.
type QueueConfig struct {
	Name        string
	Concurrency int
	TaskTimeout time.Duration
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

// TasksConfig selects the task store backend and bounds its growth.
type TasksConfig struct {
	// Store is "memory" (default) or "sqlite" for the durable variant.
	Store            string
	SQLitePath       string
	RetentionHorizon time.Duration
	SweepInterval    time.Duration
}

// SentinelConfig holds Sentinel Hub credentials and query tuning.
// Cloud cover, mosaicking order, and window widening are deployment
// tuning, not part of the analysis contract.
type SentinelConfig struct {
	ClientID        string
	ClientSecret    string
	TokenURL        string
	ProcessURL      string
	Timeout         time.Duration
	MaxCloudCover   int
	MosaickingOrder string
	TimeWindowDays  int
}

// AIConfig holds summarization model settings.
type AIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("HOST", "0.0.0.0"),
			Port: getEnv("PORT", "8080"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Name:        getEnv("QUEUE_NAME", "default"),
			Concurrency: getEnvInt("QUEUE_CONCURRENCY", 10),
			TaskTimeout: getEnvDuration("QUEUE_TASK_TIMEOUT", 10*time.Minute),
		},
		Cache: CacheConfig{
			TTL:       getEnvDuration("CACHE_TTL", time.Hour),
			KeyPrefix: getEnv("CACHE_KEY_PREFIX", "geodiff:result:"),
		},
		Tasks: TasksConfig{
			Store:            getEnv("TASK_STORE", "memory"),
			SQLitePath:       getEnv("TASK_SQLITE_PATH", "geodiff.db"),
			RetentionHorizon: getEnvDuration("TASK_RETENTION_HORIZON", 24*time.Hour),
			SweepInterval:    getEnvDuration("TASK_SWEEP_INTERVAL", 10*time.Minute),
		},
		Sentinel: SentinelConfig{
			ClientID:        getEnv("SENTINEL_CLIENT_ID", ""),
			ClientSecret:    getEnv("SENTINEL_CLIENT_SECRET", ""),
			TokenURL:        getEnv("SENTINEL_TOKEN_URL", ""),
			ProcessURL:      getEnv("SENTINEL_PROCESS_URL", ""),
			Timeout:         getEnvDuration("SENTINEL_TIMEOUT", 60*time.Second),
			MaxCloudCover:   getEnvInt("SENTINEL_MAX_CLOUD_COVER", 30),
			MosaickingOrder: getEnv("SENTINEL_MOSAICKING_ORDER", "leastCC"),
			TimeWindowDays:  getEnvInt("SENTINEL_TIME_WINDOW_DAYS", 182),
		},
		AI: AIConfig{
			APIKey:  getEnv("AI_API_KEY", ""),
			Model:   getEnv("AI_MODEL", "gemini-1.5-flash-latest"),
			BaseURL: getEnv("AI_BASE_URL", ""),
			Timeout: getEnvDuration("AI_TIMEOUT", 120*time.Second),
		},
	}

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ValidateConfig validates that required configuration values are present.
func ValidateConfig(config *Config) error {
	if config.Sentinel.ClientID == "" || config.Sentinel.ClientSecret == "" {
		return fmt.Errorf("SENTINEL_CLIENT_ID and SENTINEL_CLIENT_SECRET are required")
	}
	if config.AI.APIKey == "" {
		return fmt.Errorf("AI_API_KEY is required")
	}
	if config.Queue.Concurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1")
	}
	if config.Tasks.Store != "memory" && config.Tasks.Store != "sqlite" {
		return fmt.Errorf("TASK_STORE must be \"memory\" or \"sqlite\", got %q", config.Tasks.Store)
	}
	if config.Tasks.Store == "sqlite" && config.Tasks.SQLitePath == "" {
		return fmt.Errorf("TASK_SQLITE_PATH is required when TASK_STORE=sqlite")
	}
	return nil
}

// Helper functions for environment variable access

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
