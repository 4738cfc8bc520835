package ports

import (
	"context"
	"io"

	"parley/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider session. Events carries
// interim/final/error recognition events and closes when the session ends.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.RecognitionEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// PermissionGate grants or denies microphone access. A denial is returned
// as a *domain.RecognitionError.
type PermissionGate interface {
	RequestAudioAccess(ctx context.Context) error
}

// RecognitionSession is one capture cycle of a streaming recognizer.
// Events closes after the ended event.
type RecognitionSession interface {
	Events() <-chan domain.RecognitionEvent
	// Stop ends audio input and lets pending results drain.
	Stop() error
	// Abort tears the session down immediately.
	Abort() error
}

// Recognizer starts recognition sessions.
type Recognizer interface {
	Start(ctx context.Context) (RecognitionSession, error)
}

// Responder sends one user turn to the remote assistant. Non-2xx replies
// come back as *domain.DispatchError; undecodable bodies wrap
// domain.ErrMalformedReply. Cancelling ctx must abort the transport.
type Responder interface {
	PostTurn(ctx context.Context, envelope domain.TurnEnvelope) (domain.TurnReply, error)
}

// HistorySource reads persisted turns, oldest first.
type HistorySource interface {
	FetchRecent(ctx context.Context, limit int) ([]domain.TurnRecord, error)
}

// HealthProbe reports whether the responder is reachable.
type HealthProbe interface {
	Health(ctx context.Context) (bool, error)
}

// TurnPublisher emits settled turns to an external stream.
type TurnPublisher interface {
	PublishTurn(ctx context.Context, sessionID string, record domain.TurnRecord) error
}

// EventSink emits controller state to the UI. Implementations must not call
// back into the controller.
type EventSink interface {
	PresentationChanged(state domain.PresentationState)
	LiveTranscript(text string)
	TurnRecorded(record domain.TurnRecord)
	Notice(notice domain.Notice)
}
