/**
 * @description
 * This package handles the configuration management for the event-service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file, providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	ApplyModeAsync = "async"
	ApplyModeSync  = "sync"
)

// Config holds all the configuration variables for the event-service.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	AutoMigrate bool   `mapstructure:"DB_AUTO_MIGRATE"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	EventExchange           string `mapstructure:"EVENT_EXCHANGE"`
	ApplyQueue              string `mapstructure:"APPLY_QUEUE"`
	RaffleQueue             string `mapstructure:"RAFFLE_QUEUE"`
	ApplyRoutingKey         string `mapstructure:"APPLY_ROUTING_KEY"`
	RaffleRoutingKey        string `mapstructure:"RAFFLE_ROUTING_KEY"`
	WinnerRoutingKey        string `mapstructure:"WINNER_ROUTING_KEY"`
	ApplyMode               string `mapstructure:"APPLY_MODE"`
	ConsumerMaxAttempts     int    `mapstructure:"CONSUMER_MAX_ATTEMPTS"`
	ConsumerRetryBackoffMs  int    `mapstructure:"CONSUMER_RETRY_BACKOFF_MS"`
	ConsumerPrefetch        int    `mapstructure:"CONSUMER_PREFETCH"`
	FirstComeDefaultLimit   int    `mapstructure:"FIRST_COME_DEFAULT_LIMIT"`
	RaffleDefaultLimit      int    `mapstructure:"RAFFLE_DEFAULT_LIMIT"`
	AdmissionWindowMs       int    `mapstructure:"ADMISSION_WINDOW_MS"`
	DrawPageSize            int    `mapstructure:"DRAW_PAGE_SIZE"`
	DrawCommitChunkSize     int    `mapstructure:"DRAW_COMMIT_CHUNK_SIZE"`
	DrawJobSchedule         string `mapstructure:"DRAW_JOB_SCHEDULE"`
	RewardPolicyCacheTTLSec int    `mapstructure:"REWARD_POLICY_CACHE_TTL_SECONDS"`

	InternalAPIKey   string `mapstructure:"INTERNAL_API_KEY"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`
	LogFormat        string `mapstructure:"LOG_FORMAT"`
	MetricsNamespace string `mapstructure:"METRICS_NAMESPACE"`
}

// AdmissionWindow is the fixed window of the admission limiter.
func (c Config) AdmissionWindow() time.Duration {
	return time.Duration(c.AdmissionWindowMs) * time.Millisecond
}

func (c Config) ConsumerRetryBackoff() time.Duration {
	return time.Duration(c.ConsumerRetryBackoffMs) * time.Millisecond
}

func (c Config) RewardPolicyCacheTTL() time.Duration {
	return time.Duration(c.RewardPolicyCacheTTLSec) * time.Second
}

// LoadConfig reads configuration from environment variables and the optional
// .env file found in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("DB_MAX_CONNS", 100)
	viper.SetDefault("DB_MIN_CONNS", 20)
	viper.SetDefault("DB_AUTO_MIGRATE", false)
	viper.SetDefault("REDIS_KEY_PREFIX", "event")
	viper.SetDefault("EVENT_EXCHANGE", "event.entries")
	viper.SetDefault("APPLY_QUEUE", "event_service.apply")
	viper.SetDefault("RAFFLE_QUEUE", "event_service.raffle")
	viper.SetDefault("APPLY_ROUTING_KEY", "event.apply")
	viper.SetDefault("RAFFLE_ROUTING_KEY", "event.raffle")
	viper.SetDefault("WINNER_ROUTING_KEY", "event.entry.won")
	viper.SetDefault("APPLY_MODE", ApplyModeAsync)
	viper.SetDefault("CONSUMER_MAX_ATTEMPTS", 3)
	viper.SetDefault("CONSUMER_RETRY_BACKOFF_MS", 1000)
	viper.SetDefault("CONSUMER_PREFETCH", 50)
	viper.SetDefault("FIRST_COME_DEFAULT_LIMIT", 10)
	viper.SetDefault("RAFFLE_DEFAULT_LIMIT", 1000)
	viper.SetDefault("ADMISSION_WINDOW_MS", 1000)
	viper.SetDefault("DRAW_PAGE_SIZE", 10000)
	viper.SetDefault("DRAW_COMMIT_CHUNK_SIZE", 1000)
	viper.SetDefault("DRAW_JOB_SCHEDULE", "")
	viper.SetDefault("REWARD_POLICY_CACHE_TTL_SECONDS", 30)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("METRICS_NAMESPACE", "event_service")

	// Bind environment variables explicitly so they appear in Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("DB_AUTO_MIGRATE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "EVENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("APPLY_QUEUE")
	_ = viper.BindEnv("RAFFLE_QUEUE")
	_ = viper.BindEnv("APPLY_ROUTING_KEY")
	_ = viper.BindEnv("RAFFLE_ROUTING_KEY")
	_ = viper.BindEnv("WINNER_ROUTING_KEY")
	_ = viper.BindEnv("APPLY_MODE")
	_ = viper.BindEnv("CONSUMER_MAX_ATTEMPTS")
	_ = viper.BindEnv("CONSUMER_RETRY_BACKOFF_MS")
	_ = viper.BindEnv("CONSUMER_PREFETCH")
	_ = viper.BindEnv("FIRST_COME_DEFAULT_LIMIT")
	_ = viper.BindEnv("RAFFLE_DEFAULT_LIMIT")
	_ = viper.BindEnv("ADMISSION_WINDOW_MS")
	_ = viper.BindEnv("DRAW_PAGE_SIZE")
	_ = viper.BindEnv("DRAW_COMMIT_CHUNK_SIZE")
	_ = viper.BindEnv("DRAW_JOB_SCHEDULE")
	_ = viper.BindEnv("REWARD_POLICY_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "EVENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")
	_ = viper.BindEnv("METRICS_NAMESPACE")

	// It's okay if the config file doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("EVENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "event"
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	if config.StoreDriver != StoreDriverPostgres && config.StoreDriver != StoreDriverMemory {
		log.Printf("level=warn component=config msg=\"unknown store driver; using postgres\" value=%q", config.StoreDriver)
		config.StoreDriver = StoreDriverPostgres
	}
	config.ApplyMode = strings.ToLower(strings.TrimSpace(config.ApplyMode))
	if config.ApplyMode != ApplyModeAsync && config.ApplyMode != ApplyModeSync {
		log.Printf("level=warn component=config msg=\"unknown apply mode; using async\" value=%q", config.ApplyMode)
		config.ApplyMode = ApplyModeAsync
	}

	if config.DBMaxConns <= 0 {
		config.DBMaxConns = 100
	}
	if config.DBMinConns < 0 || config.DBMinConns > config.DBMaxConns {
		log.Printf("level=warn component=config msg=\"db min conns out of range; coercing\" min=%d max=%d", config.DBMinConns, config.DBMaxConns)
		config.DBMinConns = config.DBMaxConns / 5
	}
	if config.ConsumerMaxAttempts <= 0 {
		config.ConsumerMaxAttempts = 3
	}
	if config.ConsumerRetryBackoffMs < 0 {
		config.ConsumerRetryBackoffMs = 1000
	}
	if config.ConsumerPrefetch <= 0 {
		config.ConsumerPrefetch = 50
	}
	if config.FirstComeDefaultLimit < 0 {
		config.FirstComeDefaultLimit = 10
	}
	if config.RaffleDefaultLimit < 0 {
		config.RaffleDefaultLimit = 1000
	}
	if config.AdmissionWindowMs < 1000 {
		log.Printf("level=warn component=config msg=\"admission window below one second; coercing\" window_ms=%d", config.AdmissionWindowMs)
		config.AdmissionWindowMs = 1000
	}
	if config.DrawPageSize <= 0 {
		config.DrawPageSize = 10000
	}
	if config.DrawCommitChunkSize <= 0 {
		config.DrawCommitChunkSize = 1000
	}
	if config.RewardPolicyCacheTTLSec < 0 {
		config.RewardPolicyCacheTTLSec = 0
	}
	config.DrawJobSchedule = strings.TrimSpace(config.DrawJobSchedule)

	return
}
