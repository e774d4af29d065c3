package events

import (
	"context"
	"testing"
	"time"

	"github.com/guleriaishita/speech-translation/internal/config"
)

func TestNew_NilConfig(t *testing.T) {
	p := New(nil)
	if p.enabled {
		t.Error("nil config should produce a disabled publisher")
	}
	if err := p.PublishJob(context.Background(), &JobEvent{JobID: "j1", State: "succeeded"}); err != nil {
		t.Errorf("disabled publish should succeed, got %v", err)
	}
}

func TestNew_DisabledConfig(t *testing.T) {
	p := New(&config.KafkaConfig{
		Enabled:       false,
		Brokers:       []string{"localhost:9092"},
		TopicMessages: "messages",
		TopicJobs:     "jobs",
	})
	if p.enabled {
		t.Error("publisher should be disabled when config says so")
	}
	if p.writerMessages != nil || p.writerJobs != nil {
		t.Error("disabled publisher should not create writers")
	}

	err := p.PublishMessage(context.Background(), &MessageEvent{
		RoomCode:    "ABC234",
		MessageID:   "m1",
		CompletedAt: time.Now(),
	})
	if err != nil {
		t.Errorf("log-only publish should succeed, got %v", err)
	}
}

func TestNew_NoBrokers(t *testing.T) {
	p := New(&config.KafkaConfig{Enabled: true})
	if p.enabled {
		t.Error("publisher should be disabled with no brokers")
	}
}

func TestClose_Disabled(t *testing.T) {
	p := New(nil)
	if err := p.Close(); err != nil {
		t.Errorf("closing a disabled publisher should succeed, got %v", err)
	}
}
