// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig holds process-wide identity settings.
type ServiceConfig struct {
	Principal string `yaml:"principal"`
	HTTPPort  string `yaml:"http_port"`
}

// RelayConfig holds websocket relay settings.
type RelayConfig struct {
	// WriteTimeout bounds a single frame write to a participant.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// SendBuffer is the per-participant outbound frame buffer.
	SendBuffer int `yaml:"send_buffer"`
	// UtteranceFlushBytes is the buffered-audio size at which a sender's
	// streamed chunks are treated as a complete utterance.
	UtteranceFlushBytes int `yaml:"utterance_flush_bytes"`
}

// ChannelConfig holds the client transport channel reconnection policy.
type ChannelConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
}

// UploadConfig holds upload validation limits.
type UploadConfig struct {
	MaxFileBytes int64    `yaml:"max_file_bytes"`
	AllowedExts  []string `yaml:"allowed_exts"`
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	TopicMessages string   `yaml:"topic_messages"`
	TopicJobs     string   `yaml:"topic_jobs"`
	Principal     string   `yaml:"principal"`
}

// PlaybackConfig holds audio output device settings for the client.
type PlaybackConfig struct {
	// PlayerCommand is the external player invoked per segment, e.g. "aplay -q".
	PlayerCommand string `yaml:"player_command"`
}

// ObservabilityConfig holds metrics/logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Configuration is the root configuration for both server and client binaries.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	Relay         RelayConfig         `yaml:"relay"`
	Channel       ChannelConfig       `yaml:"channel"`
	Upload        UploadConfig        `yaml:"upload"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if set), then environment overrides.
func Load() (*Configuration, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal: "svc-speech-relay",
			HTTPPort:  "8080",
		},
		Relay: RelayConfig{
			WriteTimeout:        10 * time.Second,
			SendBuffer:          64,
			UtteranceFlushBytes: 160 * 1024,
		},
		Channel: ChannelConfig{
			MaxReconnectAttempts: 5,
			ReconnectDelay:       2 * time.Second,
		},
		Upload: UploadConfig{
			MaxFileBytes: 25 * 1024 * 1024,
			AllowedExts:  []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm"},
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			TopicMessages: "session.message.completed",
			TopicJobs:     "upload.job.completed",
		},
		Playback: PlaybackConfig{
			PlayerCommand: "aplay -q",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			MetricsAddr: ":9090",
		},
	}
}

func (c *Configuration) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Configuration) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)

	c.Relay.WriteTimeout = envOrDefaultDuration("RELAY_WRITE_TIMEOUT", c.Relay.WriteTimeout)
	c.Relay.SendBuffer = envOrDefaultInt("RELAY_SEND_BUFFER", c.Relay.SendBuffer)
	c.Relay.UtteranceFlushBytes = envOrDefaultInt("RELAY_UTTERANCE_FLUSH_BYTES", c.Relay.UtteranceFlushBytes)

	c.Channel.MaxReconnectAttempts = envOrDefaultInt("CHANNEL_MAX_RECONNECT_ATTEMPTS", c.Channel.MaxReconnectAttempts)
	c.Channel.ReconnectDelay = envOrDefaultDuration("CHANNEL_RECONNECT_DELAY", c.Channel.ReconnectDelay)

	c.Upload.MaxFileBytes = envOrDefaultInt64("UPLOAD_MAX_FILE_BYTES", c.Upload.MaxFileBytes)
	if v := os.Getenv("UPLOAD_ALLOWED_EXTS"); v != "" {
		c.Upload.AllowedExts = splitAndTrim(v)
	}

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitAndTrim(v)
	}
	c.Kafka.TopicMessages = envOrDefault("KAFKA_TOPIC_MESSAGES", c.Kafka.TopicMessages)
	c.Kafka.TopicJobs = envOrDefault("KAFKA_TOPIC_JOBS", c.Kafka.TopicJobs)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Playback.PlayerCommand = envOrDefault("PLAYBACK_PLAYER_COMMAND", c.Playback.PlayerCommand)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", c.Observability.MetricsAddr)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
