// Package kafka publishes compile events.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/runcontext"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// messageWriter is the part of kafka.Writer the notifier uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Notifier publishes compile events to Kafka
type Notifier struct {
	writer messageWriter
	logger ectologger.Logger
	config NotifierConfig
	dial   func(ctx context.Context, network, address string) (*kafka.Conn, error)
}

// NewNotifier creates a new compile event notifier
func NewNotifier(config NotifierConfig, logger ectologger.Logger) (*Notifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid notifier config: %w", err)
	}
	config = config.withDefaults()
	compression, _ := config.codec()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            config.MaxAttempts,
		WriteTimeout:           config.WriteTimeout,
		Compression:            compression,
		RequiredAcks:           kafka.RequiredAcks(config.RequiredAcks),
		AllowAutoTopicCreation: true,
	}

	return &Notifier{
		writer: writer,
		logger: logger,
		config: config,
		dial:   kafka.DialContext,
	}, nil
}

// GetName implements startup.StartupDependency
func (n *Notifier) GetName() string {
	return "kafka"
}

// DependsOn implements startup.StartupDependency
func (n *Notifier) DependsOn() []string {
	return nil
}

// Start checks that a broker is reachable
func (n *Notifier) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var lastErr error
	for _, broker := range n.config.Brokers {
		conn, err := n.dial(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		n.logger.WithField("broker", broker).Info("Connected to Kafka")
		return nil
	}
	return fmt.Errorf("failed to reach a kafka broker: %w", lastErr)
}

// Stop flushes and closes the writer
func (n *Notifier) Stop(ctx context.Context) error {
	return n.Close()
}

// Notify publishes one compile event, keyed by run id
func (n *Notifier) Notify(ctx context.Context, event *CompileEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Notifier.Notify")
	defer span.End()

	if event.Type == "" {
		event.Type = EventCompileCompleted
	}
	if event.RunID == "" {
		event.RunID = runcontext.GetRunID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
		event.SpanID = tracing.GetSpanID(ctx)
	}

	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	headers := MessageHeaders{
		EventType:   event.Type,
		RunID:       event.RunID,
		TraceParent: tracing.GetTraceParent(ctx),
		TraceState:  tracing.GetTraceState(ctx),
	}
	if headers.TraceParent == "" && event.TraceID != "" {
		headers.TraceParent = fmt.Sprintf("00-%s-%s-01", event.TraceID, event.SpanID)
	}

	msg := kafka.Message{
		Key:     []byte(event.RunID),
		Value:   data,
		Headers: headers.ToKafkaHeaders(),
		Time:    event.Timestamp,
	}

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	n.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":  n.config.Topic,
		"run_id": event.RunID,
		"type":   event.Type,
	}).Debug("Published compile event")
	return nil
}

// Close closes the notifier
func (n *Notifier) Close() error {
	if err := n.writer.Close(); err != nil {
		return fmt.Errorf("failed to close notifier: %w", err)
	}
	n.logger.Info("Kafka notifier closed")
	return nil
}
