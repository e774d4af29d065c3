// Package events publishes relay lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/guleriaishita/speech-translation/internal/config"
	"github.com/guleriaishita/speech-translation/internal/observability/metrics"
)

// MessageEvent is emitted when a room message finishes processing.
type MessageEvent struct {
	RoomCode      string    `json:"room_code"`
	MessageID     string    `json:"message_id"`
	SenderID      string    `json:"sender_id"`
	SourceLang    string    `json:"source_lang"`
	Transcription string    `json:"transcription"`
	TargetLangs   []string  `json:"target_langs"`
	CompletedAt   time.Time `json:"completed_at"`
}

// JobEvent is emitted when an upload job reaches a terminal state.
type JobEvent struct {
	JobID       string    `json:"job_id"`
	State       string    `json:"state"`
	Filename    string    `json:"filename"`
	SourceLang  string    `json:"source_lang"`
	TargetLang  string    `json:"target_lang"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher publishes message and job events to separate Kafka topics.
type Publisher struct {
	writerMessages *kafka.Writer
	writerJobs     *kafka.Writer
	principal      string
	topicMessages  string
	topicJobs      string
	enabled        bool
	metrics        *metrics.Metrics
}

// New creates a Kafka publisher. When Kafka is disabled or no brokers are
// configured the publisher runs in log-only mode and publish calls succeed
// without a broker.
func New(cfg *config.KafkaConfig) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{enabled: false, metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:     cfg.Principal,
			topicMessages: cfg.TopicMessages,
			topicJobs:     cfg.TopicJobs,
			enabled:       false,
			metrics:       m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerMessages := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicMessages,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	writerJobs := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicJobs,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicMessages", cfg.TopicMessages).
		Str("topicJobs", cfg.TopicJobs).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerMessages: writerMessages,
		writerJobs:     writerJobs,
		principal:      cfg.Principal,
		topicMessages:  cfg.TopicMessages,
		topicJobs:      cfg.TopicJobs,
		enabled:        true,
		metrics:        m,
	}
}

// PublishMessage publishes a completed-message event keyed by room code.
func (p *Publisher) PublishMessage(ctx context.Context, event *MessageEvent) error {
	return p.publish(ctx, p.writerMessages, p.topicMessages, "message", event.RoomCode, event)
}

// PublishJob publishes a terminal job event keyed by job ID.
func (p *Publisher) PublishJob(ctx context.Context, event *JobEvent) error {
	return p.publish(ctx, p.writerJobs, p.topicJobs, "job", event.JobID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerMessages != nil {
		if e := p.writerMessages.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing messages writer")
			err = e
		}
	}
	if p.writerJobs != nil {
		if e := p.writerJobs.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing jobs writer")
			err = e
		}
	}
	return err
}
