package kafka

import (
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventCompileCompleted is sent after a run publishes its output
const EventCompileCompleted = "compile.completed"

// CompileEvent describes a published compile run
type CompileEvent struct {
	Type        string         `json:"type"`
	RunID       string         `json:"run_id"`
	OutputRoot  string         `json:"output_root"`
	Documents   int            `json:"documents"`
	Entities    map[string]int `json:"entities,omitempty"`
	Fingerprint string         `json:"fingerprint"`
	Warnings    int            `json:"warnings"`
	DurationMs  int64          `json:"duration_ms"`
	Timestamp   time.Time      `json:"timestamp"`

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// ToJSON serializes the event to JSON bytes
func (e *CompileEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// MessageHeaders contains Kafka message headers for filtering without decoding the value
type MessageHeaders struct {
	EventType   string
	RunID       string
	TraceParent string
	TraceState  string
}

// ToKafkaHeaders converts MessageHeaders to Kafka headers, skipping empty values
func (h *MessageHeaders) ToKafkaHeaders() []kafka.Header {
	headers := make([]kafka.Header, 0, 4)

	if h.EventType != "" {
		headers = append(headers, kafka.Header{Key: "event_type", Value: []byte(h.EventType)})
	}
	if h.RunID != "" {
		headers = append(headers, kafka.Header{Key: "run_id", Value: []byte(h.RunID)})
	}
	if h.TraceParent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(h.TraceParent)})
	}
	if h.TraceState != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(h.TraceState)})
	}

	return headers
}

// ExtractHeaders extracts MessageHeaders from Kafka headers
func ExtractHeaders(headers []kafka.Header) MessageHeaders {
	var mh MessageHeaders
	for _, h := range headers {
		switch h.Key {
		case "event_type":
			mh.EventType = string(h.Value)
		case "run_id":
			mh.RunID = string(h.Value)
		case "traceparent":
			mh.TraceParent = string(h.Value)
		case "tracestate":
			mh.TraceState = string(h.Value)
		}
	}
	return mh
}
