package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parley/internal/domain"
	"parley/internal/observability/logging"
	"parley/internal/ports"
)

const (
	defaultDrainTimeout = 3 * time.Second
	defaultCloseTimeout = 2 * time.Second
	eventBuffer         = 32
)

// Config tunes one recognizer.
type Config struct {
	Audio     ports.AudioConfig
	Streaming ports.StreamingConfig
	ChunkSize int
	// NoSpeechTimeout ends a session with a no-speech error when no
	// transcript arrives in time. Zero disables the timer.
	NoSpeechTimeout time.Duration
	// DrainTimeout bounds how long Stop waits for trailing results.
	DrainTimeout time.Duration
	CloseTimeout time.Duration
}

// Recognizer pairs a microphone with a streaming transcription provider.
// Each Start opens a fresh capture and provider stream.
type Recognizer struct {
	capture  ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      Config
	logger   zerolog.Logger
}

func NewRecognizer(capture ports.AudioCapture, provider ports.TranscriptionProvider, cfg Config) *Recognizer {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.Streaming.SampleRate <= 0 {
		cfg.Streaming.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Streaming.Channels <= 0 {
		cfg.Streaming.Channels = cfg.Audio.Channels
	}
	return &Recognizer{
		capture:  capture,
		provider: provider,
		cfg:      cfg,
		logger:   logging.WithComponent("recognizer"),
	}
}

func (r *Recognizer) Start(ctx context.Context) (ports.RecognitionSession, error) {
	audio, err := r.capture.Start(ctx, r.cfg.Audio)
	if err != nil {
		return nil, asRecognitionError(err, domain.RecognitionDeviceUnavailable, domain.RawCodeAudioCapture)
	}

	stream, err := r.provider.StartStreaming(ctx, r.cfg.Streaming)
	if err != nil {
		_ = audio.Stop()
		return nil, asRecognitionError(err, domain.RecognitionNetwork, domain.RawCodeNetwork)
	}

	s := &session{
		audio:    audio,
		stream:   stream,
		cfg:      r.cfg,
		logger:   r.logger,
		events:   make(chan domain.RecognitionEvent, eventBuffer),
		stopCh:   make(chan struct{}),
		abortCh:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

type session struct {
	audio  ports.AudioSession
	stream ports.StreamingSession
	cfg    Config
	logger zerolog.Logger

	events   chan domain.RecognitionEvent
	stopCh   chan struct{}
	abortCh  chan struct{}
	finished chan struct{}

	stopOnce  sync.Once
	abortOnce sync.Once
}

func (s *session) Events() <-chan domain.RecognitionEvent {
	return s.events
}

func (s *session) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

func (s *session) Abort() error {
	s.abortOnce.Do(func() { close(s.abortCh) })
	return nil
}

// run forwards provider results until the session commits, fails, ends or
// is torn down. A non-blank final ends the session.
func (s *session) run() {
	defer close(s.finished)
	defer close(s.events)
	defer s.teardown()

	pumpDone := make(chan error, 1)
	go func() { pumpDone <- pumpAudio(s.audio, s.stream, s.cfg.ChunkSize) }()

	if !s.emit(domain.RecognitionEvent{Kind: domain.RecognitionStarted}) {
		return
	}

	var noSpeech <-chan time.Time
	if s.cfg.NoSpeechTimeout > 0 {
		timer := time.NewTimer(s.cfg.NoSpeechTimeout)
		defer timer.Stop()
		noSpeech = timer.C
	}

	var drainTimer *time.Timer
	defer func() {
		if drainTimer != nil {
			drainTimer.Stop()
		}
	}()
	var drain <-chan time.Time
	stopCh := s.stopCh
	startDrain := func() {
		stopCh = nil
		noSpeech = nil
		_ = s.stream.CloseSend()
		if drainTimer == nil {
			drainTimer = time.NewTimer(s.cfg.DrainTimeout)
			drain = drainTimer.C
		}
	}

	results := s.stream.Events()
	for {
		select {
		case <-s.abortCh:
			return
		case <-stopCh:
			_ = s.audio.Stop()
			startDrain()
		case <-drain:
			s.emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
			return
		case <-noSpeech:
			s.emit(domain.RecognitionEvent{
				Kind:   domain.RecognitionFailed,
				Code:   domain.RawCodeNoSpeech,
				Detail: "no speech detected",
			})
			return
		case err := <-pumpDone:
			pumpDone = nil
			if err != nil && drain == nil {
				var recErr *domain.RecognitionError
				code, detail := domain.RawCodeAudioCapture, err.Error()
				if errors.As(err, &recErr) {
					code, detail = recErr.Raw, recErr.Detail
				}
				s.emit(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: code, Detail: detail})
				return
			}
			startDrain()
		case event, ok := <-results:
			if !ok {
				s.emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
				return
			}
			switch event.Kind {
			case domain.RecognitionStarted:
				continue
			case domain.RecognitionEnded:
				s.emit(event)
				return
			case domain.RecognitionInterim, domain.RecognitionFinal:
				if strings.TrimSpace(event.Text) != "" {
					noSpeech = nil
				}
			}
			if !s.emit(event) {
				return
			}
			if event.Kind == domain.RecognitionFailed {
				return
			}
			if event.Kind == domain.RecognitionFinal && strings.TrimSpace(event.Text) != "" {
				s.emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
				return
			}
		}
	}
}

func (s *session) emit(event domain.RecognitionEvent) bool {
	select {
	case <-s.abortCh:
		return false
	default:
	}
	select {
	case s.events <- event:
		return true
	case <-s.abortCh:
		return false
	}
}

func (s *session) teardown() {
	if err := s.audio.Stop(); err != nil {
		s.logger.Debug().Err(err).Msg("Audio stop reported error")
	}
	_ = s.stream.CloseSend()
	if err := waitForStream(s.stream, s.cfg.CloseTimeout); err != nil {
		s.logger.Debug().Err(err).Msg("Provider stream ended with error")
	}
	_ = s.stream.Close()
}

func asRecognitionError(err error, code domain.RecognitionErrorCode, raw string) *domain.RecognitionError {
	var recErr *domain.RecognitionError
	if errors.As(err, &recErr) {
		return recErr
	}
	return &domain.RecognitionError{Code: code, Raw: raw, Detail: err.Error()}
}

var _ ports.Recognizer = (*Recognizer)(nil)
