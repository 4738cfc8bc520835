package deepgram

import (
	"strings"

	"parley/internal/domain"
)

// utteranceBuilder joins is_final segments until Deepgram reports the end of
// speech. Deepgram finalizes long speech in several segments before
// speech_final, so a segment alone is only a piece of the utterance. Owned by
// the read loop.
type utteranceBuilder struct {
	segments  []string
	confSum   float64
	confCount int
}

// Observe folds one message and returns the event to forward, if any.
// Interim text and finalized segments surface as interim events carrying
// the whole utterance so far; speech_final and UtteranceEnd emit one final.
func (b *utteranceBuilder) Observe(response listenResponse) (domain.RecognitionEvent, bool) {
	switch {
	case strings.EqualFold(response.Type, "UtteranceEnd"):
		return b.Flush()
	case response.Type != "" && !strings.EqualFold(response.Type, "Results"):
		return domain.RecognitionEvent{}, false
	}

	alt, hasText := topAlternative(response)
	text := strings.TrimSpace(alt.Transcript)

	if !response.IsFinal && !response.SpeechFinal {
		if !hasText {
			return domain.RecognitionEvent{}, false
		}
		return domain.RecognitionEvent{Kind: domain.RecognitionInterim, Text: b.join(text)}, true
	}

	if hasText {
		b.segments = append(b.segments, text)
		if alt.Confidence != nil {
			b.confSum += *alt.Confidence
			b.confCount++
		}
	}
	if response.SpeechFinal {
		return b.Flush()
	}
	if !hasText {
		return domain.RecognitionEvent{}, false
	}
	return domain.RecognitionEvent{Kind: domain.RecognitionInterim, Text: b.join("")}, true
}

// Flush emits the pending segments as one final and resets the builder.
func (b *utteranceBuilder) Flush() (domain.RecognitionEvent, bool) {
	if len(b.segments) == 0 {
		return domain.RecognitionEvent{}, false
	}
	event := domain.RecognitionEvent{Kind: domain.RecognitionFinal, Text: b.join("")}
	if b.confCount > 0 {
		event.Confidence = b.confSum / float64(b.confCount)
		event.HasConfidence = true
	}
	*b = utteranceBuilder{}
	return event, true
}

func (b *utteranceBuilder) join(tail string) string {
	parts := b.segments
	if tail != "" {
		parts = append(parts[:len(parts):len(parts)], tail)
	}
	return strings.Join(parts, " ")
}
