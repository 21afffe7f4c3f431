package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/runcontext"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newTestNotifier(t *testing.T, w *fakeWriter) *Notifier {
	t.Helper()
	n, err := NewNotifier(NotifierConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "compile-events",
		RequiredAcks: 1,
		Compression:  "snappy",
	}, ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {}))
	require.NoError(t, err)
	n.writer = w
	return n
}

func TestNewNotifier_Invalid(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	brokers := []string{"localhost:9092"}

	tests := []struct {
		name   string
		config NotifierConfig
	}{
		{name: "no brokers", config: NotifierConfig{Topic: "t"}},
		{name: "blank broker", config: NotifierConfig{Brokers: []string{" "}, Topic: "t"}},
		{name: "no topic", config: NotifierConfig{Brokers: brokers}},
		{name: "bad acks", config: NotifierConfig{Brokers: brokers, Topic: "t", RequiredAcks: 2}},
		{name: "bad compression", config: NotifierConfig{Brokers: brokers, Topic: "t", Compression: "brotli"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNotifier(tt.config, logger)
			assert.Error(t, err)
		})
	}
}

func TestNotifierConfig_Defaults(t *testing.T) {
	cfg := NotifierConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "ZSTD"}
	require.NoError(t, cfg.Validate())

	codec, err := cfg.codec()
	require.NoError(t, err)
	assert.Equal(t, kafka.Zstd, codec)

	filled := cfg.withDefaults()
	assert.Equal(t, 3, filled.MaxAttempts)
	assert.Equal(t, 10*time.Second, filled.WriteTimeout)
}

func TestNotifier_Notify(t *testing.T) {
	w := &fakeWriter{}
	n := newTestNotifier(t, w)

	at := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	err := n.Notify(context.Background(), &CompileEvent{
		RunID:       "run-1",
		OutputRoot:  "/data/out",
		Documents:   2,
		Entities:    map[string]int{"author": 2},
		Fingerprint: "abc",
		Timestamp:   at,
		TraceID:     "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:      "00f067aa0ba902b7",
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "run-1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Empty(t, msg.Topic, "the writer carries the topic")

	headers := ExtractHeaders(msg.Headers)
	assert.Equal(t, EventCompileCompleted, headers.EventType)
	assert.Equal(t, "run-1", headers.RunID)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", headers.TraceParent)

	var event map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, "compile.completed", event["type"])
	assert.Equal(t, "/data/out", event["output_root"])
	assert.Equal(t, float64(2), event["documents"])
}

func TestNotifier_NotifyRunIDFromContext(t *testing.T) {
	w := &fakeWriter{}
	n := newTestNotifier(t, w)

	require.NoError(t, n.Notify(runcontext.SetRunID(context.Background(), "run-2"), &CompileEvent{}))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "run-2", string(w.messages[0].Key))
	assert.Empty(t, ExtractHeaders(w.messages[0].Headers).TraceParent, "no span, no traceparent")
}

func TestNotifier_NotifyFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	n := newTestNotifier(t, w)

	err := n.Notify(context.Background(), &CompileEvent{RunID: "run-1"})
	assert.ErrorContains(t, err, "broker down")
}

func TestNotifier_Stop(t *testing.T) {
	w := &fakeWriter{}
	n := newTestNotifier(t, w)

	require.NoError(t, n.Stop(context.Background()))
	assert.True(t, w.closed)
	assert.Equal(t, "kafka", n.GetName())
	assert.Empty(t, n.DependsOn())
}

func TestNotifier_StartUnreachable(t *testing.T) {
	n := newTestNotifier(t, &fakeWriter{})
	n.dial = func(ctx context.Context, network, address string) (*kafka.Conn, error) {
		return nil, errors.New("connection refused")
	}

	assert.ErrorContains(t, n.Start(context.Background()), "connection refused")
}

func TestMessageHeaders_SkipsEmpty(t *testing.T) {
	h := MessageHeaders{RunID: "r"}
	headers := h.ToKafkaHeaders()

	require.Len(t, headers, 1)
	assert.Equal(t, "run_id", headers[0].Key)
}
