package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyBusy          = errors.New("controller is busy")
	ErrNotListening         = errors.New("no active listening cycle")
	ErrNoActiveRequest      = errors.New("no request in flight")
	ErrHistoryAlreadyActive = errors.New("history already has live turns")
	ErrEmptyUtterance       = errors.New("utterance is empty")
	ErrMessageTooLong       = fmt.Errorf("message exceeds %d characters", MaxMessageLength)
	ErrMalformedReply       = errors.New("malformed responder payload")
)

// RecognitionErrorCode is the normalized recognizer failure taxonomy.
type RecognitionErrorCode string

const (
	RecognitionNoSpeech          RecognitionErrorCode = "no_speech"
	RecognitionDeviceUnavailable RecognitionErrorCode = "device_unavailable"
	RecognitionPermissionDenied  RecognitionErrorCode = "permission_denied"
	RecognitionNetwork           RecognitionErrorCode = "network"
	RecognitionUserCancelled     RecognitionErrorCode = "user_cancelled"
	RecognitionUnknown           RecognitionErrorCode = "unknown"
)

// RecognitionError is a classified recognizer or permission failure. Raw
// keeps the recognizer's own code for Unknown.
type RecognitionError struct {
	Code   RecognitionErrorCode
	Raw    string
	Detail string
}

func (e *RecognitionError) Error() string {
	if e.Code == RecognitionUnknown && e.Raw != "" {
		return fmt.Sprintf("recognition failed: unknown(%s)", e.Raw)
	}
	if e.Detail != "" {
		return fmt.Sprintf("recognition failed: %s: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("recognition failed: %s", e.Code)
}

// Message is the user-facing text for the error.
func (e *RecognitionError) Message() string {
	switch e.Code {
	case RecognitionNoSpeech:
		return "No speech detected. Please try again."
	case RecognitionDeviceUnavailable:
		return "No microphone available."
	case RecognitionPermissionDenied:
		return "Microphone access was denied."
	case RecognitionNetwork:
		return "Speech recognition network error."
	case RecognitionUserCancelled:
		return "Listening cancelled."
	default:
		return "Speech recognition error."
	}
}

// DispatchErrorKind is the dispatch failure taxonomy.
type DispatchErrorKind string

const (
	DispatchServerLogic  DispatchErrorKind = "server_logic"
	DispatchServerStatus DispatchErrorKind = "server_status"
	DispatchNetwork      DispatchErrorKind = "network"
	DispatchTimeout      DispatchErrorKind = "timeout"
	DispatchAlreadyBusy  DispatchErrorKind = "already_busy"
)

// DispatchError describes why a turn failed. StatusCode is set for
// DispatchServerStatus only.
type DispatchError struct {
	Kind       DispatchErrorKind `json:"kind"`
	StatusCode int               `json:"statusCode,omitempty"`
	Message    string            `json:"message,omitempty"`
}

func (e *DispatchError) Error() string {
	switch e.Kind {
	case DispatchServerStatus:
		return fmt.Sprintf("responder returned status %d: %s", e.StatusCode, e.Message)
	case DispatchTimeout:
		return "request timed out"
	case DispatchAlreadyBusy:
		return ErrAlreadyBusy.Error()
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DispatchError) Is(target error) bool {
	return e.Kind == DispatchAlreadyBusy && target == ErrAlreadyBusy
}

// InvariantViolation reports a controller defect.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Detail
}
