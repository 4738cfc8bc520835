package speech

import (
	"errors"
	"io"
	"os"
	"time"

	"parley/internal/domain"
	"parley/internal/ports"
)

const minChunkSize = 256

// pumpAudio copies microphone chunks into the provider until the audio
// source ends. It returns nil on EOF.
func pumpAudio(audio ports.AudioSession, stream ports.StreamingSession, chunkSize int) error {
	if chunkSize < minChunkSize {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				return &domain.RecognitionError{
					Code:   domain.RecognitionNetwork,
					Raw:    domain.RawCodeNetwork,
					Detail: "failed to stream audio: " + sendErr.Error(),
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return &domain.RecognitionError{
				Code:   domain.RecognitionDeviceUnavailable,
				Raw:    domain.RawCodeAudioCapture,
				Detail: "audio capture error: " + err.Error(),
			}
		}
	}
}

// waitForStream waits for the provider to finish, forcing it closed after
// timeout.
func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
