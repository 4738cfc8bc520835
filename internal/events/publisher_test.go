package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
	"parley/internal/observability/metrics"
)

func sampleRecord() domain.TurnRecord {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return domain.TurnRecord{
		ID:           "turn-1",
		User:         domain.Utterance{Text: "what is ai", Confidence: 0.8, Source: domain.InputSourceVoice, CommittedAt: at},
		BotReply:     "A field of computer science.",
		RequestedAt:  at,
		RespondedAt:  at.Add(1500 * time.Millisecond),
		Outcome:      domain.Outcome{Kind: domain.OutcomeOK},
		ResponseTime: 1500 * time.Millisecond,
		ServerTiming: 1200 * time.Millisecond,
	}
}

func TestNewDisabledMode(t *testing.T) {
	for _, cfg := range []Config{
		{Enabled: false, Brokers: []string{"localhost:9092"}},
		{Enabled: true},
	} {
		p := New(cfg, nil)
		require.False(t, p.Enabled())
		require.Nil(t, p.writer)
		require.NoError(t, p.PublishTurn(context.Background(), "s1", sampleRecord()))
		require.NoError(t, p.Close())
	}
}

func TestNewEnabledBuildsWriter(t *testing.T) {
	p := New(Config{Enabled: true, Brokers: []string{"localhost:9092"}}, nil)
	require.True(t, p.Enabled())
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	require.Equal(t, "parley.turns", w.Topic)
	require.NoError(t, p.Close())
}

func TestPublishTurnWritesKeyedMessage(t *testing.T) {
	writer := &fakeWriter{}
	m := metrics.New(prometheus.NewRegistry())
	p := newWithWriter(writer, "turns", m, zerolog.Nop())

	require.NoError(t, p.PublishTurn(context.Background(), "sess-1", sampleRecord()))

	msgs := writer.snapshot()
	require.Len(t, msgs, 1)
	require.Equal(t, "sess-1", string(msgs[0].Key))
	require.Equal(t, "eventType", msgs[0].Headers[0].Key)
	require.Equal(t, "turn.ok", string(msgs[0].Headers[0].Value))

	var event TurnEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &event))
	require.Equal(t, "turn-1", event.TurnID)
	require.Equal(t, "voice", event.InputMethod)
	require.Equal(t, int64(1500), event.ResponseTimeMS)
	require.Equal(t, int64(1200), event.ServerTimeMS)
	require.Empty(t, event.ErrorKind)

	require.Equal(t, 1.0, testutil.ToFloat64(m.PublishTotal.WithLabelValues("kafka")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.PublishErrors))
}

func TestPublishTurnReportsWriterError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	m := metrics.New(prometheus.NewRegistry())
	p := newWithWriter(writer, "turns", m, zerolog.Nop())

	record := sampleRecord()
	record.Outcome = domain.Outcome{Kind: domain.OutcomeFailed, Err: &domain.DispatchError{Kind: domain.DispatchTimeout}}
	require.EqualError(t, p.PublishTurn(context.Background(), "sess-1", record), "broker down")
	require.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors))
}

func TestNewTurnEventCarriesFailure(t *testing.T) {
	record := sampleRecord()
	record.BotReply = ""
	record.Outcome = domain.Outcome{Kind: domain.OutcomeFailed, Err: &domain.DispatchError{Kind: domain.DispatchServerStatus, StatusCode: 503, Message: "down"}}

	event := newTurnEvent("s", record)
	require.Equal(t, "failed", event.Outcome)
	require.Equal(t, "server_status", event.ErrorKind)
	require.Equal(t, "down", event.ErrorMessage)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func (f *fakeWriter) snapshot() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}
