package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"parley/internal/bootstrap"
	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/observability/logging"
	"parley/internal/usecase"
)

const (
	eventPresentation = "parley:presentation"
	eventTranscript   = "parley:transcript"
	eventTurn         = "parley:turn"
	eventNotice       = "parley:notice"

	shutdownTimeout = 5 * time.Second
)

var errNoReply = errors.New("no reply to copy")

// App is the Wails application root. It is also the controller's event sink.
type App struct {
	ctx context.Context

	services   *bootstrap.Services
	controller *usecase.TurnController
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a)
	if err != nil {
		a.bootErr = err
		a.Notice(domain.Notice{Level: domain.NoticeError, Code: "startup", Message: "Startup failed: " + err.Error()})
		return
	}

	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller
	a.PresentationChanged(domain.PresentationIdle)

	go func() {
		report, err := services.Startup(ctx)
		logger := logging.WithComponent("app")
		if err != nil {
			logger.Error().Err(err).Msg("Startup checks failed")
			a.Notice(domain.Notice{Level: domain.NoticeError, Code: "startup", Message: err.Error()})
			return
		}
		logger.Info().Bool("reachable", report.Reachable).Int("hydrated", report.Hydrated).Msg("Startup checks finished")
		if report.Hydrated > 0 {
			for _, record := range a.controller.History() {
				a.TurnRecorded(record)
			}
		}
	}()
}

func (a *App) shutdown(context.Context) {
	if a.services == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.services.Close(ctx); err != nil {
		logger := logging.WithComponent("app")
		logger.Warn().Err(err).Msg("Shutdown incomplete")
	}
}

// StartListening activates the microphone for one utterance.
func (a *App) StartListening() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StartListening(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopListening ends speech input and sends the utterance heard so far.
func (a *App) StopListening() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.StopListening(); err != nil && !errors.Is(err, domain.ErrNotListening) {
		return err
	}
	return nil
}

// CancelListening stops the microphone without sending anything.
func (a *App) CancelListening() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.CancelListening(); err != nil && !errors.Is(err, domain.ErrNotListening) {
		return err
	}
	return nil
}

// Cancel is the single cancel button: it stops listening or aborts the
// pending request, whichever is active.
func (a *App) Cancel() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.Cancel(); err != nil && !errors.Is(err, domain.ErrNoActiveRequest) {
		return err
	}
	return nil
}

// SubmitText sends a typed message and returns the settled turn.
func (a *App) SubmitText(text string) (domain.TurnRecord, error) {
	if err := a.requireReady(); err != nil {
		return domain.TurnRecord{}, err
	}
	return a.controller.Submit(a.ctx, text)
}

// CancelRequest aborts the in-flight request.
func (a *App) CancelRequest() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.CancelRequest(); err != nil && !errors.Is(err, domain.ErrNoActiveRequest) {
		return err
	}
	return nil
}

// CopyLastReply puts the newest assistant reply on the clipboard.
func (a *App) CopyLastReply() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	reply, ok := a.controller.LastReply()
	if !ok {
		return "", errNoReply
	}
	if err := runtime.ClipboardSetText(a.ctx, reply); err != nil {
		a.Notice(domain.Notice{Level: domain.NoticeError, Code: "clipboard", Message: "Clipboard write failed."})
		return "", err
	}
	a.Notice(domain.Notice{Level: domain.NoticeInfo, Code: "reply_copied", Message: "Reply copied to clipboard."})
	return reply, nil
}

// GetStatus returns the current controller status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		return domain.Status{Presentation: domain.PresentationIdle}
	}
	return a.controller.Status()
}

// GetHistory returns the session log oldest first.
func (a *App) GetHistory() []domain.TurnRecord {
	if a.controller == nil {
		return nil
	}
	return a.controller.History()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	return runtimeInfo(a.cfg)
}

func runtimeInfo(cfg config.Config) map[string]string {
	info := map[string]string{
		"apiBase":          cfg.API.BaseURL,
		"recognizer":       cfg.Recognizer.Provider,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"retryLimit":       strconv.Itoa(cfg.Capture.RetryLimit),
		"configFile":       cfg.Source,
	}
	switch cfg.Recognizer.Provider {
	case config.RecognizerGoogle:
		info["model"] = cfg.Google.Model
		info["language"] = cfg.Google.Language
	default:
		info["model"] = cfg.Deepgram.Model
		info["language"] = cfg.Deepgram.Language
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// PresentationChanged emits the idle/listening/processing state.
func (a *App) PresentationChanged(state domain.PresentationState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventPresentation, map[string]string{
		"state":   string(state),
		"message": presentationMessage(state),
	})
}

// LiveTranscript emits the in-progress transcript.
func (a *App) LiveTranscript(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscript, map[string]string{"text": text})
}

// TurnRecorded emits a settled turn.
func (a *App) TurnRecorded(record domain.TurnRecord) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTurn, turnPayload(record))
}

// Notice emits a user-visible message.
func (a *App) Notice(notice domain.Notice) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventNotice, notice)
}

func presentationMessage(state domain.PresentationState) string {
	switch state {
	case domain.PresentationIdle:
		return "Ready"
	case domain.PresentationListening:
		return "Listening..."
	case domain.PresentationProcessing:
		return "Thinking..."
	default:
		return ""
	}
}

func turnPayload(record domain.TurnRecord) map[string]any {
	payload := map[string]any{
		"id":           record.ID,
		"user":         record.User.Text,
		"inputMethod":  string(record.User.Source),
		"outcome":      string(record.Outcome.Kind),
		"bot":          record.BotReply,
		"responseTime": formatResponseTime(record.DisplayResponseTime()),
		"requestedAt":  record.RequestedAt,
	}
	if record.MediaURL != "" {
		payload["mediaUrl"] = record.MediaURL
	}
	if record.Outcome.Err != nil {
		payload["error"] = record.Outcome.Err.Error()
	}
	return payload
}

func formatResponseTime(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 2, 64) + "s"
}
