package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"parley/internal/domain"
)

type streamingSession struct {
	conn *websocket.Conn

	events chan domain.RecognitionEvent
	audio  chan []byte
	done   chan struct{}
	closed chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func newStreamingSession(ctx context.Context, conn *websocket.Conn) *streamingSession {
	s := &streamingSession{
		conn:   conn,
		events: make(chan domain.RecognitionEvent, 64),
		audio:  make(chan []byte, 32),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

// CloseSend asks Deepgram to flush pending results and close the stream.
func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.RecognitionEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil || isCloseError(err) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.setErr(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()

	var builder utteranceBuilder
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if isCloseError(err) {
				// Deepgram closes after flushing on CloseStream; segments
				// still pending form the utterance.
				if event, ok := builder.Flush(); ok {
					s.emit(event)
				}
				return
			}
			s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			s.emit(domain.RecognitionEvent{
				Kind:   domain.RecognitionFailed,
				Code:   domain.RawCodeNetwork,
				Detail: err.Error(),
			})
			return
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(message))
			s.emit(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: domain.RawCodeNetwork, Detail: message})
			return
		}

		if event, ok := builder.Observe(response); ok {
			if !s.emit(event) {
				return
			}
		}
	}
}

// emit blocks until the consumer takes the event or the session is closed.
func (s *streamingSession) emit(event domain.RecognitionEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.closed:
		return false
	}
}

type alternative struct {
	Transcript string   `json:"transcript"`
	Confidence *float64 `json:"confidence"`
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func topAlternative(response listenResponse) (alternative, bool) {
	if len(response.Channel.Alternatives) > 0 {
		alt := response.Channel.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) != "" {
			return alt, true
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		alt := response.Results.Channels[0].Alternatives[0]
		return alt, strings.TrimSpace(alt.Transcript) != ""
	}
	return alternative{}, false
}
