// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Room metrics
	RoomsActive        prometheus.Gauge
	ParticipantsActive prometheus.Gauge
	ParticipantsJoined *prometheus.CounterVec

	// Frame metrics
	FramesRelayed    *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	AudioBytesIn     prometheus.Counter
	AudioBytesOut    prometheus.Counter
	MessagesRelayed  prometheus.Counter
	HistoryReplays   prometheus.Counter
	BroadcastLatency prometheus.Histogram

	// Job metrics
	JobsSubmitted prometheus.Counter
	JobsCompleted *prometheus.CounterVec
	JobDuration   prometheus.Histogram

	// Client metrics
	ChannelReconnects prometheus.Counter
	SegmentsScheduled prometheus.Counter
	SegmentsDropped   *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RoomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of rooms with at least one connected participant",
		}),
		ParticipantsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_active",
			Help:      "Number of currently connected participants",
		}),
		ParticipantsJoined: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participants_joined_total",
			Help:      "Total participants joined, by role",
		}, []string{"role"}),

		FramesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Total frames relayed to participants, by frame type",
		}, []string{"type"}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total inbound frames dropped, by reason",
		}, []string{"reason"}),
		AudioBytesIn: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_in_total",
			Help:      "Total audio bytes received from senders",
		}),
		AudioBytesOut: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_out_total",
			Help:      "Total synthesized audio bytes delivered to receivers",
		}),
		MessagesRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Total translated messages broadcast to rooms",
		}),
		HistoryReplays: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_replays_total",
			Help:      "Total message history replays served",
		}),
		BroadcastLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_latency_seconds",
			Help:      "Latency from utterance receipt to room broadcast",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		JobsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total upload jobs submitted",
		}),
		JobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total upload jobs reaching a terminal state, by state",
		}, []string{"state"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of upload jobs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		ChannelReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_reconnect_attempts_total",
			Help:      "Total transport channel reconnection attempts",
		}),
		SegmentsScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_scheduled_total",
			Help:      "Total audio segments scheduled for playback",
		}),
		SegmentsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_dropped_total",
			Help:      "Total audio segments dropped before playback, by reason",
		}, []string{"reason"}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordKafkaPublish records the outcome of a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, seconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(seconds)
}
