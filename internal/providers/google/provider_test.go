package google

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"parley/internal/domain"
	"parley/internal/ports"
)

func TestConfigRequestDefaults(t *testing.T) {
	t.Parallel()

	req := configRequest(Config{LanguageCode: "en-GB"}, ports.StreamingConfig{InterimResults: true})
	sc := req.GetStreamingConfig()
	if sc == nil {
		t.Fatalf("expected streaming config as first request")
	}
	if sc.GetConfig().GetSampleRateHertz() != 16000 || sc.GetConfig().GetAudioChannelCount() != 1 {
		t.Fatalf("unexpected audio defaults: %+v", sc.GetConfig())
	}
	if sc.GetConfig().GetLanguageCode() != "en-GB" || !sc.GetInterimResults() || !sc.GetSingleUtterance() {
		t.Fatalf("unexpected streaming config: %+v", sc)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	t.Parallel()

	cases := map[string]speechpb.RecognitionConfig_AudioEncoding{
		"LINEAR16": speechpb.RecognitionConfig_LINEAR16,
		"linear16": speechpb.RecognitionConfig_LINEAR16,
		"MULAW":    speechpb.RecognitionConfig_MULAW,
		"FLAC":     speechpb.RecognitionConfig_FLAC,
		"OGG_OPUS": speechpb.RecognitionConfig_OGG_OPUS,
		"":         speechpb.RecognitionConfig_LINEAR16,
		"bogus":    speechpb.RecognitionConfig_LINEAR16,
	}
	for input, want := range cases {
		if got := parseAudioEncoding(input); got != want {
			t.Fatalf("parseAudioEncoding(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestRawCode(t *testing.T) {
	t.Parallel()

	cases := map[codes.Code]string{
		codes.Canceled:         domain.RawCodeAborted,
		codes.Unauthenticated:  "service-not-allowed",
		codes.PermissionDenied: "service-not-allowed",
		codes.OutOfRange:       domain.RawCodeNoSpeech,
		codes.Unavailable:      domain.RawCodeNetwork,
		codes.InvalidArgument:  "invalidargument",
	}
	for code, want := range cases {
		if got := rawCode(status.Error(code, "x")); got != want {
			t.Fatalf("%s: expected %q, got %q", code, want, got)
		}
	}
}

func TestSessionForwardsResults(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	stream.responses <- &speechpb.StreamingRecognizeResponse{Results: []*speechpb.StreamingRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "what"}}},
	}}
	stream.responses <- &speechpb.StreamingRecognizeResponse{Results: []*speechpb.StreamingRecognitionResult{
		{IsFinal: true, Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "what is ai", Confidence: 0.75}}},
	}}

	p := newProvider(Config{}, stream.open)
	session, err := p.StartStreaming(context.Background(), ports.StreamingConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := session.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	interim := <-session.Events()
	final := <-session.Events()
	if interim.Kind != domain.RecognitionInterim || interim.Text != "what" {
		t.Fatalf("unexpected interim: %+v", interim)
	}
	if final.Kind != domain.RecognitionFinal || !final.HasConfidence || final.Confidence != float64(float32(0.75)) {
		t.Fatalf("unexpected final: %+v", final)
	}

	if err := session.CloseSend(); err != nil {
		t.Fatalf("close send failed: %v", err)
	}
	close(stream.responses)
	if err := session.Wait(); err != nil {
		t.Fatalf("expected clean end, got %v", err)
	}

	sent := stream.sentRequests()
	if len(sent) != 2 || sent[0].GetStreamingConfig() == nil || len(sent[1].GetAudioContent()) != 3 {
		t.Fatalf("unexpected requests: %+v", sent)
	}
	if err := session.SendAudio([]byte{4}); err == nil {
		t.Fatalf("expected send after close to fail")
	}
}

func TestSessionReportsStatusError(t *testing.T) {
	t.Parallel()

	stream := newFakeStream()
	stream.recvErr = status.Error(codes.OutOfRange, "Audio Timeout Error")
	close(stream.responses)

	session, err := newProvider(Config{}, stream.open).StartStreaming(context.Background(), ports.StreamingConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	select {
	case event := <-session.Events():
		if event.Kind != domain.RecognitionFailed || event.Code != domain.RawCodeNoSpeech || event.Detail != "Audio Timeout Error" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for error event")
	}
	if err := session.Wait(); status.Code(err) != codes.OutOfRange {
		t.Fatalf("expected OutOfRange, got %v", err)
	}
}

func TestStartStreamingOpenFailure(t *testing.T) {
	t.Parallel()

	open := func(context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
		return nil, status.Error(codes.Unavailable, "no route")
	}
	_, err := newProvider(Config{}, open).StartStreaming(context.Background(), ports.StreamingConfig{})
	var recErr *domain.RecognitionError
	if !errors.As(err, &recErr) || recErr.Code != domain.RecognitionNetwork || recErr.Raw != domain.RawCodeNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}

type fakeStream struct {
	grpc.ClientStream

	ctx       context.Context
	responses chan *speechpb.StreamingRecognizeResponse
	recvErr   error

	mu   sync.Mutex
	sent []*speechpb.StreamingRecognizeRequest
}

func newFakeStream() *fakeStream {
	return &fakeStream{responses: make(chan *speechpb.StreamingRecognizeResponse, 8)}
}

func (f *fakeStream) open(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
	f.ctx = ctx
	return f, nil
}

func (f *fakeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	select {
	case resp, ok := <-f.responses:
		if !ok {
			if f.recvErr != nil {
				return nil, f.recvErr
			}
			return nil, io.EOF
		}
		return resp, nil
	case <-f.ctx.Done():
		return nil, status.Error(codes.Canceled, "context canceled")
	}
}

func (f *fakeStream) CloseSend() error { return nil }

func (f *fakeStream) Context() context.Context { return f.ctx }

func (f *fakeStream) sentRequests() []*speechpb.StreamingRecognizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*speechpb.StreamingRecognizeRequest, len(f.sent))
	copy(out, f.sent)
	return out
}
