package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	// TxScopeTransaction runs order creation in one storage transaction.
	// TxScopeCompensate runs it without one and cancels orders whose stock
	// write-back failed, retrying through the compensation worker.
	TxScopeTransaction = "tx"
	TxScopeCompensate  = "compensate"

	BrokerMemory   = "memory"
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
)

// Config holds environment-specific configuration.
type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string
	LogLevel    string
	LogFile     string

	Storage      string
	DatabaseURL  string
	OrderTxScope string

	// RedisAddr enables the customer cache when set.
	RedisAddr        string
	CustomerCacheTTL time.Duration

	EventBroker      string
	KafkaBrokers     []string
	KafkaTopic       string
	RabbitMQURL      string
	RabbitMQExchange string

	OTLPEndpoint    string
	ShutdownTimeout time.Duration
}

// Load reads the configuration from environment variables, applying defaults
// and checking that every backend selected has what it needs.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:      getEnvOrDefault("SERVICE_NAME", "minishop-orders"),
		Env:              getEnvOrDefault("ENV", "dev"),
		HTTPAddr:         getEnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:          os.Getenv("LOG_FILE"),
		Storage:          strings.ToLower(getEnvOrDefault("STORAGE", StorageMemory)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		OrderTxScope:     strings.ToLower(getEnvOrDefault("ORDER_TX_SCOPE", TxScopeTransaction)),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		EventBroker:      strings.ToLower(getEnvOrDefault("EVENT_BROKER", BrokerMemory)),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       getEnvOrDefault("KAFKA_TOPIC", "orders"),
		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		RabbitMQExchange: getEnvOrDefault("RABBITMQ_EXCHANGE", "orders"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.CustomerCacheTTL, err = durationOrDefault("CUSTOMER_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL environment variable is required when STORAGE=%s", StoragePostgres))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage))
	}

	switch c.OrderTxScope {
	case TxScopeTransaction, TxScopeCompensate:
	default:
		errs = append(errs, fmt.Errorf("ORDER_TX_SCOPE must be %q or %q, got %q", TxScopeTransaction, TxScopeCompensate, c.OrderTxScope))
	}

	switch c.EventBroker {
	case BrokerMemory:
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("KAFKA_BROKERS environment variable is required when EVENT_BROKER=%s", BrokerKafka))
		}
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_TOPIC cannot be empty"))
		}
	case BrokerRabbitMQ:
		if c.RabbitMQURL == "" {
			errs = append(errs, fmt.Errorf("RABBITMQ_URL environment variable is required when EVENT_BROKER=%s", BrokerRabbitMQ))
		}
		if c.RabbitMQExchange == "" {
			errs = append(errs, errors.New("RABBITMQ_EXCHANGE cannot be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("EVENT_BROKER must be %q, %q or %q, got %q", BrokerMemory, BrokerKafka, BrokerRabbitMQ, c.EventBroker))
	}

	if c.CustomerCacheTTL <= 0 {
		errs = append(errs, errors.New("CUSTOMER_CACHE_TTL must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
