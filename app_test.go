package main

import (
	"errors"
	"testing"
	"time"

	"parley/internal/config"
	"parley/internal/domain"
)

func TestPresentationMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.PresentationState]string{
		domain.PresentationIdle:       "Ready",
		domain.PresentationListening:  "Listening...",
		domain.PresentationProcessing: "Thinking...",
	}
	for state, want := range cases {
		state := state
		want := want
		t.Run(string(state), func(t *testing.T) {
			t.Parallel()
			if got := presentationMessage(state); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := presentationMessage("unknown"); got != "" {
		t.Fatalf("expected empty message for unknown state, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.SubmitText("hi"); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from SubmitText, got %v", err)
	}
	if err := app.StopListening(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from StopListening, got %v", err)
	}
	if _, err := app.CopyLastReply(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from CopyLastReply, got %v", err)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("expected error runtime info, got %+v", info)
	}
}

func TestUninitializedAppIsQuiet(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if got := app.GetStatus(); got.Presentation != domain.PresentationIdle {
		t.Fatalf("expected idle status, got %+v", got)
	}
	if got := app.GetHistory(); got != nil {
		t.Fatalf("expected no history, got %+v", got)
	}
	app.PresentationChanged(domain.PresentationListening)
	app.LiveTranscript("hello")
	app.TurnRecorded(domain.TurnRecord{})
	app.Notice(domain.Notice{Message: "ignored"})
}

func TestRuntimeInfoFollowsRecognizer(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Deepgram.Language = "en"
	info := runtimeInfo(cfg)
	if info["recognizer"] != config.RecognizerDeepgram || info["model"] != "nova-2" || info["language"] != "en" {
		t.Fatalf("unexpected deepgram info: %+v", info)
	}

	cfg.Recognizer.Provider = config.RecognizerGoogle
	cfg.Google.Model = "latest_short"
	info = runtimeInfo(cfg)
	if info["model"] != "latest_short" || info["language"] != "en-US" {
		t.Fatalf("unexpected google info: %+v", info)
	}
	if _, ok := info["apiKey"]; ok {
		t.Fatalf("runtime info must not expose credentials")
	}
}

func TestTurnPayload(t *testing.T) {
	t.Parallel()

	ok := turnPayload(domain.TurnRecord{
		ID:           "t1",
		User:         domain.Utterance{Text: "hi", Source: domain.InputSourceVoice},
		BotReply:     "hello",
		Outcome:      domain.Outcome{Kind: domain.OutcomeOK},
		ResponseTime: 1500 * time.Millisecond,
		ServerTiming: 250 * time.Millisecond,
	})
	if ok["bot"] != "hello" || ok["inputMethod"] != "voice" || ok["responseTime"] != "0.25s" {
		t.Fatalf("unexpected payload: %+v", ok)
	}
	if _, has := ok["error"]; has {
		t.Fatalf("ok turn must not carry an error")
	}

	failed := turnPayload(domain.TurnRecord{
		User:         domain.Utterance{Text: "hi", Source: domain.InputSourceText},
		Outcome:      domain.OutcomeOf(&domain.DispatchError{Kind: domain.DispatchTimeout}),
		ResponseTime: 2 * time.Second,
	})
	if failed["outcome"] != "failed" || failed["error"] == "" || failed["responseTime"] != "2.00s" {
		t.Fatalf("unexpected failed payload: %+v", failed)
	}
}
