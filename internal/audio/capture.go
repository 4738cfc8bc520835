package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parley/internal/domain"
	"parley/internal/observability/logging"
	"parley/internal/ports"
)

const (
	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
	probeLength  = "0.1"
)

// Capture records microphone PCM through an ffmpeg child process. It is both
// the recognizer's audio source and the session's permission gate.
type Capture struct {
	command string
	cfg     ports.AudioConfig
	logger  zerolog.Logger
}

func NewCapture(command string, cfg ports.AudioConfig) *Capture {
	if strings.TrimSpace(command) == "" {
		command = "ffmpeg"
	}
	return &Capture{
		command: command,
		cfg:     withDefaults(cfg),
		logger:  logging.WithComponent("audio"),
	}
}

// RequestAudioAccess opens the input device for a fraction of a second and
// discards the samples. Failures come back as *domain.RecognitionError.
func (c *Capture) RequestAudioAccess(ctx context.Context) error {
	args := append(inputArgs(c.cfg), "-t", probeLength, "-f", "null", "-")
	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn().Err(err).Str("stderr", trimOutput(stderr.String())).Msg("Microphone probe failed")
		return classifyFailure(err, stderr.String())
	}
	return nil
}

// Start launches a capture process. A zero-valued cfg falls back to the
// device configured at construction.
func (c *Capture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = merge(c.cfg, cfg)
	args := append(inputArgs(cfg),
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	)

	cmd := exec.CommandContext(ctx, c.command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyFailure(err, "")
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		out := stderr.String()
		if err == nil {
			err = errors.New("ffmpeg exited before capture started")
		}
		return nil, classifyFailure(err, out)
	case <-time.After(startupGrace):
	}

	c.logger.Debug().
		Str("format", cfg.InputFormat).
		Str("device", cfg.InputDevice).
		Int("sampleRate", cfg.SampleRate).
		Msg("Audio capture started")

	return &session{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type session struct {
	stdout io.ReadCloser
	stderr *lockedBuffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *session) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *session) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg so it flushes, then kills it after a grace period.
func (s *session) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = ignoreExitStatus(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = ignoreExitStatus(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil {
			if out := trimOutput(s.stderr.String()); out != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, out)
			}
		}
	})
	return s.stopErr
}

// classifyFailure maps a failed ffmpeg run onto a recognition error.
func classifyFailure(err error, stderr string) *domain.RecognitionError {
	detail := trimOutput(stderr)
	if detail == "" {
		detail = err.Error()
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return &domain.RecognitionError{
			Code:   domain.RecognitionDeviceUnavailable,
			Raw:    domain.RawCodeAudioCapture,
			Detail: "ffmpeg not available: " + err.Error(),
		}
	}

	lower := strings.ToLower(stderr)
	for _, marker := range []string{"permission denied", "operation not permitted", "access denied", "not authorized"} {
		if strings.Contains(lower, marker) {
			return &domain.RecognitionError{
				Code:   domain.RecognitionPermissionDenied,
				Raw:    domain.RawCodeNotAllowed,
				Detail: detail,
			}
		}
	}
	return &domain.RecognitionError{
		Code:   domain.RecognitionDeviceUnavailable,
		Raw:    domain.RawCodeAudioCapture,
		Detail: detail,
	}
}

func inputArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
	}
}

func withDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func merge(base, override ports.AudioConfig) ports.AudioConfig {
	if override.SampleRate > 0 {
		base.SampleRate = override.SampleRate
	}
	if override.Channels > 0 {
		base.Channels = override.Channels
	}
	if override.InputFormat != "" {
		base.InputFormat = override.InputFormat
	}
	if override.InputDevice != "" {
		base.InputDevice = override.InputDevice
	}
	return base
}

func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		s = s[len(s)-512:]
	}
	return s
}

// lockedBuffer lets the exec copier goroutine and Stop share stderr.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var (
	_ ports.AudioCapture   = (*Capture)(nil)
	_ ports.PermissionGate = (*Capture)(nil)
)
