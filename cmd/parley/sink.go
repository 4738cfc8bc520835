package main

import (
	"fmt"
	"io"
	"sync"

	"parley/internal/domain"
)

// consoleSink renders controller events as terminal lines.
type consoleSink struct {
	mu   sync.Mutex
	out  io.Writer
	live string
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out}
}

func (s *consoleSink) PresentationChanged(state domain.PresentationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state != domain.PresentationListening {
		s.live = ""
	}
	switch state {
	case domain.PresentationListening:
		fmt.Fprintln(s.out, "  [listening]")
	case domain.PresentationProcessing:
		fmt.Fprintln(s.out, "  [thinking]")
	}
}

func (s *consoleSink) LiveTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == s.live {
		return
	}
	s.live = text
	fmt.Fprintf(s.out, "  ~ %s\n", text)
}

func (s *consoleSink) TurnRecorded(record domain.TurnRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.out, formatTurn(record))
}

func (s *consoleSink) Notice(notice domain.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "  (%s) %s\n", notice.Level, notice.Message)
}

func formatTurn(record domain.TurnRecord) string {
	marker := ">"
	if record.User.Source == domain.InputSourceVoice {
		marker = "🎤"
	}
	var reply string
	switch record.Outcome.Kind {
	case domain.OutcomeOK:
		reply = record.BotReply
	case domain.OutcomeCancelled:
		reply = "[cancelled]"
	default:
		reply = "[failed] " + record.Outcome.Err.Error()
	}
	return fmt.Sprintf("%s %s\n< %s (%.2fs)\n", marker, record.User.Text, reply, record.DisplayResponseTime().Seconds())
}
