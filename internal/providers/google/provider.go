// Package google streams audio to Google Cloud Speech-to-Text.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"parley/internal/domain"
	"parley/internal/ports"
)

// Config selects language and model for recognition. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS.
type Config struct {
	LanguageCode string
	Model        string
}

type openFunc func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

// Provider implements ports.TranscriptionProvider on StreamingRecognize.
type Provider struct {
	cfg    Config
	open   openFunc
	client *speech.Client
}

func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	p := newProvider(cfg, func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
		return client.StreamingRecognize(ctx)
	})
	p.client = client
	return p, nil
}

func newProvider(cfg Config, open openFunc) *Provider {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	return &Provider{cfg: cfg, open: open}
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := p.open(streamCtx)
	if err != nil {
		cancel()
		return nil, &domain.RecognitionError{Code: domain.RecognitionNetwork, Raw: rawCode(err), Detail: err.Error()}
	}

	if err := stream.Send(configRequest(p.cfg, cfg)); err != nil {
		cancel()
		return nil, &domain.RecognitionError{Code: domain.RecognitionNetwork, Raw: rawCode(err), Detail: err.Error()}
	}

	s := &session{
		stream: stream,
		cancel: cancel,
		events: make(chan domain.RecognitionEvent, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func configRequest(providerCfg Config, streamCfg ports.StreamingConfig) *speechpb.StreamingRecognizeRequest {
	sampleRate := streamCfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := streamCfg.Channels
	if channels <= 0 {
		channels = 1
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:          parseAudioEncoding(streamCfg.Encoding),
					SampleRateHertz:   int32(sampleRate),
					AudioChannelCount: int32(channels),
					LanguageCode:      providerCfg.LanguageCode,
					Model:             providerCfg.Model,
				},
				InterimResults:  streamCfg.InterimResults,
				SingleUtterance: true,
			},
		},
	}
}

func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// rawCode maps a gRPC status onto the recognizer's raw error codes.
func rawCode(err error) string {
	switch status.Code(err) {
	case codes.Canceled:
		return domain.RawCodeAborted
	case codes.Unauthenticated, codes.PermissionDenied:
		return "service-not-allowed"
	case codes.OutOfRange:
		// Audio timeout: the stream carried no speech.
		return domain.RawCodeNoSpeech
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
		return domain.RawCodeNetwork
	default:
		return strings.ToLower(status.Code(err).String())
	}
}

type session struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc

	events chan domain.RecognitionEvent
	done   chan struct{}

	sendMu     sync.Mutex
	sendClosed bool

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
	})
}

func (s *session) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendClosed {
		return nil
	}
	s.sendClosed = true
	return s.stream.CloseSend()
}

func (s *session) Events() <-chan domain.RecognitionEvent {
	return s.events
}

func (s *session) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *session) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return s.waitErr()
}

func (s *session) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) readLoop() {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return
			}
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			s.emit(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: rawCode(err), Detail: status.Convert(err).Message()})
			return
		}

		if rpcErr := resp.GetError(); rpcErr != nil && rpcErr.GetCode() != int32(codes.OK) {
			err := status.ErrorProto(rpcErr)
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			s.emit(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Code: rawCode(err), Detail: rpcErr.GetMessage()})
			return
		}

		for _, result := range resp.GetResults() {
			if event, ok := toRecognitionEvent(result); ok {
				if !s.emit(event) {
					return
				}
			}
		}
	}
}

func (s *session) emit(event domain.RecognitionEvent) bool {
	select {
	case s.events <- event:
		return true
	case <-s.stream.Context().Done():
		return false
	}
}

func toRecognitionEvent(result *speechpb.StreamingRecognitionResult) (domain.RecognitionEvent, bool) {
	alts := result.GetAlternatives()
	if len(alts) == 0 {
		return domain.RecognitionEvent{}, false
	}
	text := strings.TrimSpace(alts[0].GetTranscript())
	if text == "" {
		return domain.RecognitionEvent{}, false
	}
	if !result.GetIsFinal() {
		return domain.RecognitionEvent{Kind: domain.RecognitionInterim, Text: text}, true
	}
	confidence := float64(alts[0].GetConfidence())
	return domain.RecognitionEvent{
		Kind:       domain.RecognitionFinal,
		Text:       text,
		Confidence: confidence,
		// Google reports 0 when confidence was not computed.
		HasConfidence: confidence > 0,
	}, true
}

var _ ports.TranscriptionProvider = (*Provider)(nil)
