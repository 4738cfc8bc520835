// Package events publishes settled turns to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"parley/internal/domain"
	"parley/internal/observability/logging"
	"parley/internal/observability/metrics"
)

const (
	modeKafka   = "kafka"
	modeLogOnly = "log"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per settled turn, keyed by session id. With
// Kafka disabled it only logs.
type Publisher struct {
	writer  messageWriter
	topic   string
	enabled bool
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// TurnEvent is the published payload.
type TurnEvent struct {
	SessionID      string  `json:"session_id"`
	TurnID         string  `json:"turn_id"`
	InputMethod    string  `json:"input_method"`
	Message        string  `json:"message"`
	Confidence     float64 `json:"confidence"`
	Response       string  `json:"response,omitempty"`
	MediaURL       string  `json:"media_url,omitempty"`
	Outcome        string  `json:"outcome"`
	ErrorKind      string  `json:"error_kind,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	RequestedAt    string  `json:"requested_at"`
	RespondedAt    string  `json:"responded_at"`
	ResponseTimeMS int64   `json:"response_time_ms"`
	ServerTimeMS   int64   `json:"server_time_ms,omitempty"`
}

func New(cfg Config, m *metrics.Metrics) *Publisher {
	logger := logging.WithComponent("events")
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{topic: cfg.Topic, metrics: m, logger: logger}
	}
	if cfg.Topic == "" {
		cfg.Topic = "parley.turns"
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka turn publisher initialized")

	return newWithWriter(writer, cfg.Topic, m, logger)
}

func newWithWriter(writer messageWriter, topic string, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	return &Publisher{writer: writer, topic: topic, enabled: true, metrics: m, logger: logger}
}

// Enabled reports whether messages reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

func (p *Publisher) PublishTurn(ctx context.Context, sessionID string, record domain.TurnRecord) error {
	payload, err := json.Marshal(newTurnEvent(sessionID, record))
	if err != nil {
		p.logger.Error().Err(err).Str("turnId", record.ID).Msg("Failed to marshal turn event")
		return err
	}

	p.logger.Debug().
		Str("topic", p.topic).
		Str("sessionId", sessionID).
		RawJSON("payload", payload).
		Msg("Publishing turn")

	if !p.enabled || p.writer == nil {
		p.metrics.RecordPublish(modeLogOnly, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("turn." + string(record.Outcome.Kind))},
			{Key: "inputMethod", Value: []byte(record.User.Source)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("topic", p.topic).Str("turnId", record.ID).Msg("Failed to write to Kafka")
		p.metrics.RecordPublish(modeKafka, err)
		return err
	}
	p.metrics.RecordPublish(modeKafka, nil)
	return nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}

func newTurnEvent(sessionID string, record domain.TurnRecord) TurnEvent {
	event := TurnEvent{
		SessionID:      sessionID,
		TurnID:         record.ID,
		InputMethod:    string(record.User.Source),
		Message:        record.User.Text,
		Confidence:     record.User.Confidence,
		Response:       record.BotReply,
		MediaURL:       record.MediaURL,
		Outcome:        string(record.Outcome.Kind),
		RequestedAt:    record.RequestedAt.UTC().Format(time.RFC3339Nano),
		RespondedAt:    record.RespondedAt.UTC().Format(time.RFC3339Nano),
		ResponseTimeMS: record.ResponseTime.Milliseconds(),
		ServerTimeMS:   record.ServerTiming.Milliseconds(),
	}
	if record.Outcome.Err != nil {
		event.ErrorKind = string(record.Outcome.Err.Kind)
		event.ErrorMessage = record.Outcome.Err.Message
	}
	return event
}
