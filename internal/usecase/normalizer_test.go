package usecase

import (
	"errors"
	"strings"
	"testing"
	"time"

	"parley/internal/domain"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestNormalizerCommitsFirstNonEmptyFinal(t *testing.T) {
	t.Parallel()

	n := newTranscriptNormalizer(fixedNow)
	if out := n.Observe(domain.RecognitionEvent{Kind: domain.RecognitionStarted}); out.live != "" || out.utterance != nil {
		t.Fatalf("started must be silent, got %+v", out)
	}
	if out := n.Observe(domain.RecognitionEvent{Kind: domain.RecognitionInterim, Text: " hello "}); out.live != "hello" {
		t.Fatalf("expected live interim, got %+v", out)
	}
	if out := n.Observe(domain.RecognitionEvent{Kind: domain.RecognitionInterim, Text: "hello"}); out.live != "" {
		t.Fatalf("repeated interim must not re-emit, got %+v", out)
	}
	if out := n.Observe(domain.RecognitionEvent{Kind: domain.RecognitionFinal, Text: "  ", HasConfidence: true, Confidence: 0.9}); out.utterance != nil {
		t.Fatalf("whitespace final must not commit")
	}

	out := n.Observe(domain.RecognitionEvent{Kind: domain.RecognitionFinal, Text: " hello world ", HasConfidence: true, Confidence: 1.4})
	if out.utterance == nil {
		t.Fatalf("expected commit")
	}
	if out.utterance.Text != "hello world" || out.utterance.Confidence != 1 || out.utterance.Source != domain.InputSourceVoice {
		t.Fatalf("unexpected utterance: %+v", out.utterance)
	}
	if !out.utterance.CommittedAt.Equal(fixedNow()) {
		t.Fatalf("unexpected commit time: %v", out.utterance.CommittedAt)
	}

	if again := n.Observe(domain.RecognitionEvent{Kind: domain.RecognitionFinal, Text: "second"}); again.utterance != nil {
		t.Fatalf("at most one commit per session")
	}
}

func TestNormalizerRejectsOverlongFinal(t *testing.T) {
	t.Parallel()

	n := newTranscriptNormalizer(fixedNow)
	out := n.Observe(domain.RecognitionEvent{Kind: domain.RecognitionFinal, Text: strings.Repeat("a", domain.MaxMessageLength+1)})
	if out.utterance != nil || !errors.Is(out.rejected, domain.ErrMessageTooLong) {
		t.Fatalf("expected a rejected final, got %+v", out)
	}
	if after := n.Observe(domain.RecognitionEvent{Kind: domain.RecognitionEnded}); after.ended {
		t.Fatalf("a rejected final is terminal")
	}
}

func TestNormalizerMissingConfidenceIsZero(t *testing.T) {
	t.Parallel()

	out := newTranscriptNormalizer(fixedNow).Observe(domain.RecognitionEvent{Kind: domain.RecognitionFinal, Text: "hi", Confidence: 0.5})
	if out.utterance == nil || out.utterance.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %+v", out.utterance)
	}
}

func TestNormalizerErrorAndEndAreTerminal(t *testing.T) {
	t.Parallel()

	n := newTranscriptNormalizer(fixedNow)
	out := n.Observe(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: "no-speech"})
	if out.failure == nil || out.failure.Code != domain.RecognitionNoSpeech {
		t.Fatalf("expected no-speech failure, got %+v", out)
	}
	if after := n.Observe(domain.RecognitionEvent{Kind: domain.RecognitionFinal, Text: "late"}); after.utterance != nil {
		t.Fatalf("final after error must be ignored")
	}

	ended := newTranscriptNormalizer(fixedNow).Observe(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
	if !ended.ended {
		t.Fatalf("expected ended verdict")
	}
}

func TestMapRecognitionCode(t *testing.T) {
	t.Parallel()

	cases := map[string]domain.RecognitionErrorCode{
		"no-speech":           domain.RecognitionNoSpeech,
		"audio-capture":       domain.RecognitionDeviceUnavailable,
		"not-allowed":         domain.RecognitionPermissionDenied,
		"service-not-allowed": domain.RecognitionPermissionDenied,
		"network":             domain.RecognitionNetwork,
		"aborted":             domain.RecognitionUserCancelled,
		" Network ":           domain.RecognitionNetwork,
		"language-missing":    domain.RecognitionUnknown,
	}
	for raw, want := range cases {
		got := MapRecognitionCode(raw, "detail")
		if got.Code != want {
			t.Fatalf("%q: expected %s, got %s", raw, want, got.Code)
		}
		if got.Detail != "detail" {
			t.Fatalf("%q: detail dropped", raw)
		}
	}
	if got := MapRecognitionCode("language-missing", ""); got.Raw != "language-missing" {
		t.Fatalf("unknown codes must keep the raw code, got %q", got.Raw)
	}
}
