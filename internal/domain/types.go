package domain

import (
	"strings"
	"time"
)

// MaxMessageLength bounds typed and spoken input accepted for dispatch.
const MaxMessageLength = 2000

// InputSource tags where an utterance came from.
type InputSource string

const (
	InputSourceVoice InputSource = "voice"
	InputSourceText  InputSource = "text"
)

// Utterance is a committed unit of user input ready for dispatch.
type Utterance struct {
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"`
	Source      InputSource `json:"source"`
	CommittedAt time.Time   `json:"committedAt"`
}

// NewUtterance trims text and clamps confidence into [0,1].
func NewUtterance(text string, confidence float64, source InputSource, at time.Time) (Utterance, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Utterance{}, ErrEmptyUtterance
	}
	if len([]rune(trimmed)) > MaxMessageLength {
		return Utterance{}, ErrMessageTooLong
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Utterance{Text: trimmed, Confidence: confidence, Source: source, CommittedAt: at}, nil
}

// NewTextUtterance builds an utterance from typed input. Typed input is fully confident.
func NewTextUtterance(text string, at time.Time) (Utterance, error) {
	return NewUtterance(text, 1.0, InputSourceText, at)
}

// OutcomeKind classifies how a dispatched turn resolved.
type OutcomeKind string

const (
	OutcomeOK        OutcomeKind = "ok"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the resolution of one dispatch. Err is set only for failures.
type Outcome struct {
	Kind OutcomeKind    `json:"kind"`
	Err  *DispatchError `json:"error,omitempty"`
}

func OutcomeOf(err *DispatchError) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeOK}
	}
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// TurnRecord is one resolved turn. Never mutated once appended to history.
type TurnRecord struct {
	ID           string        `json:"id"`
	User         Utterance     `json:"user"`
	BotReply     string        `json:"botReply,omitempty"`
	MediaURL     string        `json:"mediaUrl,omitempty"`
	RequestedAt  time.Time     `json:"requestedAt"`
	RespondedAt  time.Time     `json:"respondedAt"`
	Outcome      Outcome       `json:"outcome"`
	ResponseTime time.Duration `json:"responseTime"`
	ServerTiming time.Duration `json:"serverTiming,omitempty"`
}

// DisplayResponseTime prefers the responder's own timing when it reported one.
func (r TurnRecord) DisplayResponseTime() time.Duration {
	if r.ServerTiming > 0 {
		return r.ServerTiming
	}
	return r.ResponseTime
}

// TurnEnvelope is the request body sent to the remote responder.
type TurnEnvelope struct {
	Message         string      `json:"message"`
	Confidence      float64     `json:"confidence"`
	InputMethod     InputSource `json:"input_method"`
	SessionID       string      `json:"session_id"`
	ClientTimestamp time.Time   `json:"timestamp"`
}

// TurnReply is the decoded responder payload. SessionID is the id the
// responder keeps conversation context under.
type TurnReply struct {
	Success      bool
	Response     string
	MediaURL     string
	Error        string
	SessionID    string
	ServerTiming time.Duration
}

// CaptureStateKind enumerates the listening lifecycle.
type CaptureStateKind string

const (
	CaptureIdle               CaptureStateKind = "idle"
	CaptureAwaitingPermission CaptureStateKind = "awaiting_permission"
	CaptureListening          CaptureStateKind = "listening"
	CaptureRetrying           CaptureStateKind = "retrying"
	CaptureCommitting         CaptureStateKind = "committing"
)

// CaptureState is the single capture lifecycle value. Retries counts
// consecutive no-speech retries in the current activation.
type CaptureState struct {
	Kind    CaptureStateKind `json:"kind"`
	Retries int              `json:"retries"`
}

func (s CaptureState) IsIdle() bool { return s.Kind == "" || s.Kind == CaptureIdle }

// DispatchStateKind enumerates the request lifecycle.
type DispatchStateKind string

const (
	DispatchIdle     DispatchStateKind = "idle"
	DispatchInFlight DispatchStateKind = "in_flight"
	DispatchSettling DispatchStateKind = "settling"
)

// DispatchState is the single request lifecycle value.
type DispatchState struct {
	Kind      DispatchStateKind `json:"kind"`
	RequestID string            `json:"requestId,omitempty"`
}

func (s DispatchState) IsIdle() bool { return s.Kind == "" || s.Kind == DispatchIdle }

// PresentationState is what the UI renders.
type PresentationState string

const (
	PresentationIdle       PresentationState = "idle"
	PresentationListening  PresentationState = "listening"
	PresentationProcessing PresentationState = "processing"
)

// RecognitionEventKind identifies recognizer stream events.
type RecognitionEventKind string

const (
	RecognitionStarted RecognitionEventKind = "started"
	RecognitionInterim RecognitionEventKind = "interim"
	RecognitionFinal   RecognitionEventKind = "final"
	RecognitionFailed  RecognitionEventKind = "error"
	RecognitionEnded   RecognitionEventKind = "ended"
)

// Raw recognizer error codes.
const (
	RawCodeNoSpeech     = "no-speech"
	RawCodeAudioCapture = "audio-capture"
	RawCodeNotAllowed   = "not-allowed"
	RawCodeNetwork      = "network"
	RawCodeAborted      = "aborted"
)

// RecognitionEvent is one event from a streaming recognizer. Confidence is
// meaningful only when HasConfidence is set.
type RecognitionEvent struct {
	Kind          RecognitionEventKind `json:"kind"`
	Text          string               `json:"text,omitempty"`
	Confidence    float64              `json:"confidence,omitempty"`
	HasConfidence bool                 `json:"hasConfidence,omitempty"`
	Code          string               `json:"code,omitempty"`
	Detail        string               `json:"detail,omitempty"`
}

// NoticeLevel separates quiet notices from errors.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible, non-fatal message.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// Status summarizes controller state for the UI.
type Status struct {
	SessionID       string            `json:"sessionId"`
	RemoteSessionID string            `json:"remoteSessionId,omitempty"`
	Presentation    PresentationState `json:"presentation"`
	Capture         CaptureState      `json:"capture"`
	Dispatch        DispatchState     `json:"dispatch"`
	HistoryLen      int               `json:"historyLen"`
}
