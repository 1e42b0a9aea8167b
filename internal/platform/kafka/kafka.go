// Package kafka builds segmentio/kafka-go readers and writers and carries
// trace context in message headers.
package kafka

import (
	"context"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ReaderConfig configures a consumer-group reader.
type ReaderConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// NewReader builds a consumer-group reader. Offsets are committed explicitly
// by the caller.
func NewReader(cfg ReaderConfig) (*kafkago.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("platform/kafka: brokers required")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("platform/kafka: topic and group id required")
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: 0,
	}), nil
}

// NewWriter builds a writer that hashes message keys so every event for one
// stock key lands on the same partition.
func NewWriter(brokers []string, topic string) (*kafkago.Writer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("platform/kafka: brokers and topic required")
	}
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		RequiredAcks: kafkago.RequireAll,
	}, nil
}

// Extract returns ctx enriched with the trace context found in headers.
func Extract(ctx context.Context, headers []kafkago.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// Inject appends the trace context of ctx to headers.
func Inject(ctx context.Context, headers []kafkago.Header) []kafkago.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for _, k := range carrier.Keys() {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(carrier.Get(k))})
	}
	return headers
}
