package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// NotifierConfig configures where compile events go
type NotifierConfig struct {
	Brokers []string
	Topic   string
	// RequiredAcks is 0 (none), 1 (leader) or -1 (all in-sync replicas)
	RequiredAcks int
	MaxAttempts  int
	WriteTimeout time.Duration
	// Compression is none, gzip, snappy, lz4 or zstd
	Compression string
}

// Validate reports the first setting that would prevent events from being published
func (c NotifierConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("broker addresses must not be empty")
		}
	}
	if c.Topic == "" {
		return fmt.Errorf("a topic is required")
	}
	switch c.RequiredAcks {
	case int(kafka.RequireNone), int(kafka.RequireOne), int(kafka.RequireAll):
	default:
		return fmt.Errorf("required acks must be 0, 1 or -1, got %d", c.RequiredAcks)
	}
	if _, err := c.codec(); err != nil {
		return err
	}
	return nil
}

// codec maps the configured compression name onto the writer setting
func (c NotifierConfig) codec() (kafka.Compression, error) {
	switch strings.ToLower(c.Compression) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", c.Compression)
	}
}

// withDefaults fills the settings a run can leave unset
func (c NotifierConfig) withDefaults() NotifierConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}
