package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"parley/internal/domain"
)

func TestFormatTurn(t *testing.T) {
	t.Parallel()

	ok := formatTurn(domain.TurnRecord{
		User:         domain.Utterance{Text: "hi", Source: domain.InputSourceText},
		BotReply:     "hello",
		Outcome:      domain.Outcome{Kind: domain.OutcomeOK},
		ResponseTime: 500 * time.Millisecond,
	})
	if ok != "> hi\n< hello (0.50s)\n" {
		t.Fatalf("unexpected ok line: %q", ok)
	}

	failed := formatTurn(domain.TurnRecord{
		User:    domain.Utterance{Text: "hi", Source: domain.InputSourceText},
		Outcome: domain.OutcomeOf(&domain.DispatchError{Kind: domain.DispatchTimeout}),
	})
	if !strings.Contains(failed, "[failed] request timed out") {
		t.Fatalf("unexpected failed line: %q", failed)
	}

	cancelled := formatTurn(domain.TurnRecord{Outcome: domain.Outcome{Kind: domain.OutcomeCancelled}})
	if !strings.Contains(cancelled, "[cancelled]") {
		t.Fatalf("unexpected cancelled line: %q", cancelled)
	}
}

func TestConsoleSinkDeduplicatesLiveTranscript(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	sink := newConsoleSink(&out)
	sink.PresentationChanged(domain.PresentationListening)
	sink.LiveTranscript("hel")
	sink.LiveTranscript("hel")
	sink.LiveTranscript("hello")
	sink.PresentationChanged(domain.PresentationIdle)
	sink.Notice(domain.Notice{Level: domain.NoticeInfo, Message: "Listening cancelled."})

	want := "  [listening]\n  ~ hel\n  ~ hello\n  (info) Listening cancelled.\n"
	if out.String() != want {
		t.Fatalf("unexpected output:\n%q\nwant\n%q", out.String(), want)
	}
}

func TestREPLQuitsOnCommandAndEOF(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := runREPL(context.Background(), nil, strings.NewReader(""), &out); err != nil {
		t.Fatalf("unexpected EOF error: %v", err)
	}
	if quit := handleLine(context.Background(), nil, "/quit", &out); !quit {
		t.Fatalf("expected /quit to end the loop")
	}
	if quit := handleLine(context.Background(), nil, "", &out); quit {
		t.Fatalf("blank line must not quit")
	}
}
