package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Webhook   WebhookConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RabbitMQConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
}

// WebhookConfig holds the security parameters of the inbound webhook
// endpoint. Only the shared secret is mandatory; the rest default to the
// values the provider documents.
type WebhookConfig struct {
	Secret                string
	MaxPayloadSize        int
	SignatureToleranceSec int
	MaxProcessingAttempts int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type RetryConfig struct {
	Queue        string
	ScanInterval int // seconds
	BatchSize    int
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	getInt := func(key string, def int) int {
		val := os.Getenv(key)
		if val == "" {
			return def
		}
		parsed, err := strconv.Atoi(val)
		if err != nil || parsed <= 0 {
			return def
		}
		return parsed
	}

	config := &Config{
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     get("REDIS_HOST"),
			Port:     get("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB(),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      os.Getenv("RABBITMQ_URL"),
			Host:     get("RABBITMQ_HOST"),
			Port:     get("RABBITMQ_PORT"),
			User:     get("RABBITMQ_USER"),
			Password: get("RABBITMQ_PASSWORD"),
			VHost:    get("RABBITMQ_VHOST"),
		},
		Webhook: WebhookConfig{
			Secret:                get("STRIPE_WEBHOOK_SECRET"),
			MaxPayloadSize:        getInt("WEBHOOK_MAX_PAYLOAD_SIZE", 1024*1024),
			SignatureToleranceSec: getInt("WEBHOOK_SIGNATURE_TOLERANCE", 300),
			MaxProcessingAttempts: getInt("WEBHOOK_MAX_PROCESSING_ATTEMPTS", 3),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 100),
		},
		Retry: RetryConfig{
			Queue:        getEnvDefault("RETRY_QUEUE", "webhook.retry"),
			ScanInterval: getInt("RETRY_SCAN_INTERVAL", 30),
			BatchSize:    getInt("RETRY_BATCH_SIZE", 50),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

func redisDB() int {
	val := os.Getenv("REDIS_DB")
	if val == "" {
		return 0
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func getEnvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// Addr returns the host:port address of the Redis server
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
