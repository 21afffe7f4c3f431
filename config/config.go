package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"clover"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"3"`

	// Default max depth when neither the manifest nor the command line sets one
	DefaultMaxDepth int `env:"COMPILE_DEFAULT_MAX_DEPTH" env-default:"8"`
	// Suffix of the staging directory created next to the output root
	StagingSuffix string `env:"COMPILE_STAGING_SUFFIX" env-default:".staging"`
	// Write the Prometheus textfile here after each run, empty disables it
	MetricsTextfile string `env:"COMPILE_METRICS_TEXTFILE" env-default:""`

	// Tracing protocol: none, console, grpc or http
	TracingProtocol string `env:"TRACING_PROTOCOL" env-default:"none"`
	// OTLP collector endpoint
	TracingEndpoint string `env:"TRACING_ENDPOINT" env-default:"localhost:4317"`
	// Disable TLS towards the collector
	TracingInsecure bool `env:"TRACING_INSECURE" env-default:"true"`
	// Exporter timeout
	TracingTimeout time.Duration `env:"TRACING_TIMEOUT" env-default:"10s"`
	// Collector headers as key=value,key2=value2
	TracingHeaders string `env:"TRACING_HEADERS" env-default:""`

	// Kafka notifications are disabled when no topic is set
	KafkaBrokers      []string      `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaTopic        string        `env:"KAFKA_COMPILE_TOPIC" env-default:""`
	KafkaRequiredAcks int           `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string        `env:"KAFKA_COMPRESSION" env-default:"snappy"`
	KafkaWriteTimeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" env-default:"10s"`

	// The publish lock is disabled when no host is set
	RedisHost     string `env:"REDIS_HOST" env-default:""`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	// Lock expiry, longer than any promotion should take
	PublishLockTTL time.Duration `env:"PUBLISH_LOCK_TTL" env-default:"2m"`
	// How long to wait for another publisher to release the lock
	PublishLockTimeout time.Duration `env:"PUBLISH_LOCK_TIMEOUT" env-default:"30s"`
}

// Load reads an optional .env file and binds the environment into a Config
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}
	if cfg.DefaultMaxDepth < 0 {
		return nil, fmt.Errorf("COMPILE_DEFAULT_MAX_DEPTH must be 0 or more, got %d", cfg.DefaultMaxDepth)
	}

	return cfg, nil
}

// TracingEnabled reports whether spans should be exported
func (c *Config) TracingEnabled() bool {
	return c.TracingProtocol != "" && c.TracingProtocol != "none"
}

// KafkaEnabled reports whether compile events should be published
func (c *Config) KafkaEnabled() bool {
	return c.KafkaTopic != "" && len(c.KafkaBrokers) > 0
}

// RedisEnabled reports whether promotion should take the distributed publish lock
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}
