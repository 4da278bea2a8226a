package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"

	"github.com/tgmux/tgmux/audit"
)

const producerMaxRetries = 3

// Config names the Kafka destination for audit events.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Sink implements [audit.Sink] over a synchronous Kafka producer.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
}

// New dials the brokers and returns a ready sink.
func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic required")
	}

	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	// Local ack is enough for an advisory stream; the broker-side retries
	// cover transient partition moves.
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Retry.Max = producerMaxRetries
	sc.Producer.Return.Successes = true
	sc.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}
	return NewFromProducer(producer, cfg.Topic), nil
}

// NewFromProducer wraps an existing producer. The sink takes ownership and
// closes it in [Sink.Close].
func NewFromProducer(producer sarama.SyncProducer, topic string) *Sink {
	return &Sink{producer: producer, topic: topic}
}

// Emit publishes one event. Failures are logged and dropped.
func (s *Sink) Emit(ctx context.Context, event audit.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
		},
		Timestamp: time.Now(),
	}
	if key := partitionKey(event); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		log.Printf("tgmux: kafka audit publish %s failed: %v", event.EventType, err)
	}
}

// Close shuts the underlying producer down.
func (s *Sink) Close() error {
	return s.producer.Close()
}

// partitionKey keeps one session's events on one partition; events with no
// session (sweeps, pre-auth failures) fall back to the user id.
func partitionKey(event audit.Event) string {
	if event.SessionID != "" {
		return event.SessionID
	}
	return event.UserID
}
