// Package index mirrors reconciled profiles and posts into the search index.
// The relational store stays authoritative; index documents are rebuilt from
// it and shipped as events to a Kafka topic consumed by the search service.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/metrics"
)

// Document types
const (
	TypeProfile = "profile"
	TypePost    = "post"
)

// Operations carried by index events
const (
	OpUpsert        = "upsert"
	OpDelete        = "delete"
	OpDeleteByQuery = "delete_by_query"
)

// Document is one search index document keyed by type and id
type Document struct {
	Type   string                 `json:"type"`
	ID     uint                   `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// Key returns the document's index key
func (d Document) Key() string {
	return fmt.Sprintf("%s:%d", d.Type, d.ID)
}

// Event is the message written to the index topic
type Event struct {
	Op        string                 `json:"op"`
	Type      string                 `json:"type"`
	ID        uint                   `json:"id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Query     map[string]interface{} `json:"query,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink accepts index writes
type Sink interface {
	Upsert(ctx context.Context, docs ...Document) error
	Delete(ctx context.Context, docType string, id uint) error
	DeleteByQuery(ctx context.Context, docType string, query map[string]interface{}) error
}

// MessageWriter is the subset of *kafka.Writer the sink uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds Kafka configuration for the index topic
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewKafkaConfig reads KAFKA_BROKERS and KAFKA_INDEX_TOPIC
func NewKafkaConfig() (*KafkaConfig, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("No .env file found for Kafka config")
	}

	brokers := strings.Split(getEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}

	cfg := &KafkaConfig{
		Brokers: brokers,
		Topic:   getEnvOrDefault("KAFKA_INDEX_TOPIC", "profilegraph.index"),
	}
	if cfg.Topic == "" || len(cfg.Brokers) == 0 || cfg.Brokers[0] == "" {
		return nil, fmt.Errorf("KAFKA_BROKERS and KAFKA_INDEX_TOPIC are required")
	}
	return cfg, nil
}

// KafkaSink writes index events to a Kafka topic, keyed by document key so
// events for one document stay ordered on one partition
type KafkaSink struct {
	writer MessageWriter
	topic  string
	logger *logrus.Logger
}

// NewKafkaSink creates a sink with a synchronous kafka-go writer
func NewKafkaSink(cfg *KafkaConfig, logger *logrus.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaSinkFromWriter(writer, cfg.Topic, logger)
}

// NewKafkaSinkFromWriter wraps an existing writer
func NewKafkaSinkFromWriter(writer MessageWriter, topic string, logger *logrus.Logger) *KafkaSink {
	return &KafkaSink{writer: writer, topic: topic, logger: logger}
}

// Close closes the underlying writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Upsert adds or replaces documents
func (s *KafkaSink) Upsert(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	msgs := make([]kafka.Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := s.message(doc.Key(), Event{
			Op:        OpUpsert,
			Type:      doc.Type,
			ID:        doc.ID,
			Fields:    doc.Fields,
			Timestamp: now,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := s.write(ctx, msgs...); err != nil {
		return err
	}
	metrics.IndexOperations.WithLabelValues(docs[0].Type, OpUpsert).Add(float64(len(docs)))
	return nil
}

// Delete removes one document
func (s *KafkaSink) Delete(ctx context.Context, docType string, id uint) error {
	doc := Document{Type: docType, ID: id}
	msg, err := s.message(doc.Key(), Event{
		Op:        OpDelete,
		Type:      docType,
		ID:        id,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := s.write(ctx, msg); err != nil {
		return err
	}
	metrics.IndexOperations.WithLabelValues(docType, OpDelete).Inc()
	return nil
}

// DeleteByQuery removes every document of docType matching all query fields
func (s *KafkaSink) DeleteByQuery(ctx context.Context, docType string, query map[string]interface{}) error {
	if len(query) == 0 {
		return fmt.Errorf("refusing to delete every %s document", docType)
	}

	msg, err := s.message(docType+":query", Event{
		Op:        OpDeleteByQuery,
		Type:      docType,
		Query:     query,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := s.write(ctx, msg); err != nil {
		return err
	}
	metrics.IndexOperations.WithLabelValues(docType, OpDeleteByQuery).Inc()
	return nil
}

func (s *KafkaSink) message(key string, evt Event) (kafka.Message, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal index event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "op", Value: []byte(evt.Op)},
			{Key: "type", Value: []byte(evt.Type)},
		},
	}, nil
}

func (s *KafkaSink) write(ctx context.Context, msgs ...kafka.Message) error {
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.logger.WithError(err).WithField("topic", s.topic).Error("Failed to write index events to Kafka")
		return fmt.Errorf("failed to write %d index events: %w", len(msgs), err)
	}

	s.logger.WithFields(logrus.Fields{
		"topic":  s.topic,
		"events": len(msgs),
	}).Debug("Wrote index events")
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
