package usecase

import (
	"errors"
	"strings"
	"time"

	"parley/internal/domain"
)

// normalized is the verdict for one recognizer event. At most one of
// utterance, failure, rejected and ended is set.
type normalized struct {
	live      string
	utterance *domain.Utterance
	failure   *domain.RecognitionError
	// rejected is a final transcript that cannot be dispatched.
	rejected error
	ended    bool
}

// transcriptNormalizer turns one recognizer session's events into a single
// committed utterance or a recognition error. Not safe for concurrent use;
// each capture cycle owns its own.
type transcriptNormalizer struct {
	now  func() time.Time
	live string
	done bool
}

func newTranscriptNormalizer(now func() time.Time) *transcriptNormalizer {
	if now == nil {
		now = time.Now
	}
	return &transcriptNormalizer{now: now}
}

func (n *transcriptNormalizer) Observe(event domain.RecognitionEvent) normalized {
	if n.done {
		return normalized{}
	}

	switch event.Kind {
	case domain.RecognitionInterim:
		text := strings.TrimSpace(event.Text)
		if text == "" || text == n.live {
			return normalized{}
		}
		n.live = text
		return normalized{live: text}
	case domain.RecognitionFinal:
		confidence := 0.0
		if event.HasConfidence {
			confidence = event.Confidence
		}
		utterance, err := domain.NewUtterance(event.Text, confidence, domain.InputSourceVoice, n.now())
		switch {
		case errors.Is(err, domain.ErrEmptyUtterance):
			// Whitespace-only finals are never committed; keep listening.
			return normalized{}
		case err != nil:
			n.done = true
			return normalized{rejected: err}
		}
		n.done = true
		n.live = utterance.Text
		return normalized{live: utterance.Text, utterance: &utterance}
	case domain.RecognitionFailed:
		n.done = true
		return normalized{failure: MapRecognitionCode(event.Code, event.Detail)}
	case domain.RecognitionEnded:
		n.done = true
		return normalized{ended: true}
	default:
		return normalized{}
	}
}

// MapRecognitionCode classifies a raw recognizer error code.
func MapRecognitionCode(raw string, detail string) *domain.RecognitionError {
	code := strings.ToLower(strings.TrimSpace(raw))
	err := &domain.RecognitionError{Raw: code, Detail: detail}
	switch code {
	case domain.RawCodeNoSpeech:
		err.Code = domain.RecognitionNoSpeech
	case domain.RawCodeAudioCapture:
		err.Code = domain.RecognitionDeviceUnavailable
	case domain.RawCodeNotAllowed, "service-not-allowed":
		err.Code = domain.RecognitionPermissionDenied
	case domain.RawCodeNetwork:
		err.Code = domain.RecognitionNetwork
	case domain.RawCodeAborted:
		err.Code = domain.RecognitionUserCancelled
	default:
		err.Code = domain.RecognitionUnknown
	}
	return err
}
