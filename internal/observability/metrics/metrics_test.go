package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordTurnUpdatesCountersAndGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordDispatchStart()
	require.Equal(t, 1.0, testutil.ToFloat64(m.TurnsInFlight))

	m.RecordTurn("text", "ok", 250*time.Millisecond)
	require.Equal(t, 0.0, testutil.ToFloat64(m.TurnsInFlight))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("text", "ok")))
	require.Equal(t, 1, testutil.CollectAndCount(m.ResponseTime))
}

func TestRecordCaptureCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordCycleStart()
	m.RecordRetry()
	m.RecordRetry()
	m.RecordCommit()
	m.RecordRecognitionError("no_speech")

	require.Equal(t, 1.0, testutil.ToFloat64(m.CaptureCycles))
	require.Equal(t, 2.0, testutil.ToFloat64(m.CaptureRetries))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CaptureCommits))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RecognitionErrors.WithLabelValues("no_speech")))
}

func TestRecordPublishCountsErrors(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordPublish("kafka", nil)
	m.RecordPublish("kafka", errors.New("broker down"))

	require.Equal(t, 2.0, testutil.ToFloat64(m.PublishTotal.WithLabelValues("kafka")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrors))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordCycleStart()
		m.RecordTurn("voice", "failed", time.Second)
		m.RecordBusy("submit")
		m.RecordInvariantViolation()
		m.RecordPublish("log", nil)
	})
}
