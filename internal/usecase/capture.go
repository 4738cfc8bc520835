package usecase

import (
	"context"
	"errors"

	"parley/internal/domain"
	"parley/internal/ports"
)

// captureCycle identifies one activation of the recognizer. Events from a
// cycle that is no longer c.listening are discarded.
type captureCycle struct {
	token  uint64
	cancel context.CancelFunc

	// Guarded by the controller's mu.
	session  ports.RecognitionSession
	stopping bool
}

type listenResult struct {
	stale     bool
	utterance *domain.Utterance
	failure   *domain.RecognitionError
	rejected  error
}

// StartListening begins a capture cycle and returns once it is registered.
// Permission, recognition and the dispatch of a committed utterance run in
// the background; ctx bounds all of them.
func (c *TurnController) StartListening(ctx context.Context) error {
	c.mu.Lock()
	if !c.capture.IsIdle() || !c.dispatch.IsIdle() {
		busy := c.busyStateLocked()
		c.unlock()
		c.rejectBusy("listen", busy)
		return domain.ErrAlreadyBusy
	}
	c.cycle++
	cycleCtx, cancel := context.WithCancel(ctx)
	cycle := &captureCycle{token: c.cycle, cancel: cancel}
	c.listening = cycle
	c.capture = domain.CaptureState{Kind: domain.CaptureAwaitingPermission}
	c.syncLocked()
	c.unlock()

	c.metrics.RecordCycleStart()
	c.logger.Debug().Uint64("cycle", cycle.token).Msg("Capture cycle started")

	go c.runCycle(ctx, cycleCtx, cycle)
	return nil
}

// CancelListening ends the active capture cycle immediately. Late
// recognizer events for that cycle are dropped.
func (c *TurnController) CancelListening() error {
	c.mu.Lock()
	cycle := c.listening
	if cycle == nil {
		c.unlock()
		return domain.ErrNotListening
	}
	c.listening = nil
	c.capture = domain.CaptureState{Kind: domain.CaptureIdle}
	c.syncLocked()
	c.unlock()

	cycle.cancel()
	c.logger.Info().Uint64("cycle", cycle.token).Msg("Listening cancelled")
	c.notify(domain.NoticeInfo, "listening_cancelled", "Listening cancelled.")
	return nil
}

// StopListening ends audio input for the active cycle and keeps the session
// open until the recognizer delivers its trailing final. A cycle that has not
// reached the recognizer yet stops as soon as its session starts.
func (c *TurnController) StopListening() error {
	c.mu.Lock()
	cycle := c.listening
	if cycle == nil {
		c.unlock()
		return domain.ErrNotListening
	}
	if cycle.stopping {
		c.unlock()
		return nil
	}
	cycle.stopping = true
	session := cycle.session
	c.unlock()

	c.logger.Debug().Uint64("cycle", cycle.token).Msg("Listening stopped, draining recognizer")
	if session != nil {
		if err := session.Stop(); err != nil {
			c.logger.Warn().Err(err).Uint64("cycle", cycle.token).Msg("Recognizer stop failed")
		}
	}
	return nil
}

func (c *TurnController) runCycle(parent context.Context, ctx context.Context, cycle *captureCycle) {
	defer cycle.cancel()

	if err := c.permission.RequestAudioAccess(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.endCycle(cycle, asRecognitionError(err, "permission"))
		return
	}

	retries := 0
	for {
		if !c.enterCapture(cycle, domain.CaptureState{Kind: domain.CaptureListening, Retries: retries}) {
			return
		}

		result := c.listenOnce(ctx, cycle)
		switch {
		case result.stale:
			return
		case result.utterance != nil:
			c.commit(parent, cycle, *result.utterance)
			return
		case result.rejected != nil:
			c.rejectCycle(cycle, result.rejected)
			return
		case result.failure != nil && result.failure.Code == domain.RecognitionNoSpeech && retries < c.cfg.RetryLimit && !c.isStopping(cycle):
			retries++
			if !c.enterCapture(cycle, domain.CaptureState{Kind: domain.CaptureRetrying, Retries: retries}) {
				return
			}
			c.metrics.RecordRetry()
			c.logger.Debug().Uint64("cycle", cycle.token).Int("retry", retries).Msg("No speech detected, retrying")
			if !sleepCtx(ctx, c.cfg.RetryBackoff) {
				return
			}
		default:
			c.endCycle(cycle, result.failure)
			return
		}
	}
}

// listenOnce runs one recognizer session until it commits, fails or ends.
func (c *TurnController) listenOnce(ctx context.Context, cycle *captureCycle) listenResult {
	session, err := c.recognizer.Start(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return listenResult{stale: true}
		}
		return listenResult{failure: asRecognitionError(err, "start")}
	}
	defer func() { _ = session.Abort() }()
	if !c.attachSession(cycle, session) {
		return listenResult{stale: true}
	}
	defer c.detachSession(cycle)

	normalizer := newTranscriptNormalizer(c.now)
	events := session.Events()
	for {
		select {
		case <-ctx.Done():
			return listenResult{stale: true}
		case event, ok := <-events:
			if !ok {
				return listenResult{}
			}
			out := normalizer.Observe(event)
			if out.live != "" && !c.emitLive(cycle, out.live) {
				return listenResult{stale: true}
			}
			switch {
			case out.utterance != nil:
				return listenResult{utterance: out.utterance}
			case out.failure != nil:
				return listenResult{failure: out.failure}
			case out.rejected != nil:
				return listenResult{rejected: out.rejected}
			case out.ended:
				return listenResult{}
			}
		}
	}
}

// attachSession makes session stoppable through StopListening. A stop that
// arrived before the session started is applied here.
func (c *TurnController) attachSession(cycle *captureCycle, session ports.RecognitionSession) bool {
	c.mu.Lock()
	if c.listening != cycle {
		c.unlock()
		return false
	}
	cycle.session = session
	stopping := cycle.stopping
	c.unlock()
	if stopping {
		if err := session.Stop(); err != nil {
			c.logger.Warn().Err(err).Uint64("cycle", cycle.token).Msg("Recognizer stop failed")
		}
	}
	return true
}

func (c *TurnController) detachSession(cycle *captureCycle) {
	c.mu.Lock()
	defer c.unlock()
	cycle.session = nil
}

func (c *TurnController) isStopping(cycle *captureCycle) bool {
	c.mu.Lock()
	defer c.unlock()
	return cycle.stopping
}

func (c *TurnController) enterCapture(cycle *captureCycle, state domain.CaptureState) bool {
	c.mu.Lock()
	defer c.unlock()
	if c.listening != cycle {
		return false
	}
	c.capture = state
	c.syncLocked()
	return true
}

func (c *TurnController) emitLive(cycle *captureCycle, text string) bool {
	c.mu.Lock()
	defer c.unlock()
	if c.listening != cycle {
		return false
	}
	c.events.LiveTranscript(text)
	return true
}

// commit hands the utterance to the dispatcher. Capture returns to Idle and
// dispatch enters InFlight in the same critical section.
func (c *TurnController) commit(parent context.Context, cycle *captureCycle, utterance domain.Utterance) {
	c.mu.Lock()
	if c.listening != cycle {
		c.unlock()
		return
	}
	c.capture = domain.CaptureState{Kind: domain.CaptureCommitting}
	c.listening = nil
	if !c.dispatch.IsIdle() {
		c.capture = domain.CaptureState{Kind: domain.CaptureIdle}
		c.syncLocked()
		c.unlock()
		c.violation(&domain.InvariantViolation{Detail: "voice commit while dispatch active"})
		return
	}
	c.capture = domain.CaptureState{Kind: domain.CaptureIdle}
	req := c.beginDispatchLocked(parent, utterance)
	sessionID := c.envelopeSessionIDLocked()
	c.unlock()

	c.metrics.RecordCommit()
	c.logger.Info().
		Uint64("cycle", cycle.token).
		Float64("confidence", utterance.Confidence).
		Msg("Voice utterance committed")

	_, _ = c.runDispatch(req, sessionID)
}

// endCycle returns capture to Idle and surfaces the terminal result. A nil
// failure means the recognizer ended without a usable transcript.
func (c *TurnController) endCycle(cycle *captureCycle, failure *domain.RecognitionError) {
	c.mu.Lock()
	if c.listening != cycle {
		c.unlock()
		return
	}
	c.listening = nil
	c.capture = domain.CaptureState{Kind: domain.CaptureIdle}
	c.syncLocked()
	c.unlock()

	logger := c.logger.With().Uint64("cycle", cycle.token).Logger()
	switch {
	case failure == nil:
		logger.Info().Msg("Recognizer ended without a transcript")
		c.notify(domain.NoticeInfo, "no_transcript", "No transcript captured.")
	case failure.Code == domain.RecognitionUserCancelled:
		logger.Info().Msg("Recognition aborted")
		c.notify(domain.NoticeInfo, string(failure.Code), failure.Message())
	default:
		c.metrics.RecordRecognitionError(string(failure.Code))
		logger.Warn().Err(failure).Str("code", string(failure.Code)).Msg("Recognition failed")
		c.notify(domain.NoticeError, string(failure.Code), failure.Message())
	}
}

// rejectCycle ends a cycle whose transcript cannot be dispatched.
func (c *TurnController) rejectCycle(cycle *captureCycle, err error) {
	c.mu.Lock()
	if c.listening != cycle {
		c.unlock()
		return
	}
	c.listening = nil
	c.capture = domain.CaptureState{Kind: domain.CaptureIdle}
	c.syncLocked()
	c.unlock()

	c.logger.Warn().Err(err).Uint64("cycle", cycle.token).Msg("Voice transcript rejected")
	c.notify(domain.NoticeWarning, "invalid_input", inputMessage(err))
}

func asRecognitionError(err error, raw string) *domain.RecognitionError {
	var recErr *domain.RecognitionError
	if errors.As(err, &recErr) {
		return recErr
	}
	return &domain.RecognitionError{Code: domain.RecognitionUnknown, Raw: raw, Detail: err.Error()}
}
