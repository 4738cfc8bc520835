package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"parley/internal/domain"
)

// inFlightRequest is the cancellation handle of the single outstanding
// request. cancelled is guarded by the controller's mu.
type inFlightRequest struct {
	id          string
	utterance   domain.Utterance
	requestedAt time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	cancelled   bool
}

// Submit dispatches typed text as one turn and blocks until it resolves.
func (c *TurnController) Submit(ctx context.Context, text string) (domain.TurnRecord, error) {
	utterance, err := domain.NewTextUtterance(text, c.now())
	if err != nil {
		c.notify(domain.NoticeWarning, "invalid_input", inputMessage(err))
		return domain.TurnRecord{}, err
	}
	return c.Dispatch(ctx, utterance)
}

// Dispatch sends a committed utterance and blocks until it resolves. A
// second call while a request is in flight is rejected with a
// DispatchAlreadyBusy error and the utterance is dropped. Failed turns
// return the record together with the *domain.DispatchError.
func (c *TurnController) Dispatch(ctx context.Context, utterance domain.Utterance) (domain.TurnRecord, error) {
	c.mu.Lock()
	if !c.dispatch.IsIdle() || !c.capture.IsIdle() {
		busy := c.busyStateLocked()
		c.unlock()
		c.rejectBusy("submit", busy)
		return domain.TurnRecord{}, &domain.DispatchError{Kind: domain.DispatchAlreadyBusy}
	}
	req := c.beginDispatchLocked(ctx, utterance)
	sessionID := c.envelopeSessionIDLocked()
	c.unlock()
	return c.runDispatch(req, sessionID)
}

// CancelRequest aborts the in-flight request. Cancelling a request that is
// already cancelled is a no-op.
func (c *TurnController) CancelRequest() error {
	c.mu.Lock()
	req := c.inFlight
	if req == nil {
		c.unlock()
		return domain.ErrNoActiveRequest
	}
	if req.cancelled {
		c.unlock()
		return nil
	}
	req.cancelled = true
	c.unlock()

	req.cancel()
	c.logger.Info().Str("requestId", req.id).Msg("Request cancellation requested")
	return nil
}

// beginDispatchLocked moves dispatch to InFlight with a fresh handle.
// Callers hold mu and have checked both states.
func (c *TurnController) beginDispatchLocked(parent context.Context, utterance domain.Utterance) *inFlightRequest {
	var ctx context.Context
	var cancel context.CancelFunc
	if c.cfg.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, c.cfg.RequestTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	req := &inFlightRequest{
		id:          uuid.NewString(),
		utterance:   utterance,
		requestedAt: c.now(),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.inFlight = req
	c.dispatch = domain.DispatchState{Kind: domain.DispatchInFlight, RequestID: req.id}
	c.syncLocked()
	return req
}

func (c *TurnController) runDispatch(req *inFlightRequest, sessionID string) (domain.TurnRecord, error) {
	defer c.releaseDispatch(req)
	c.metrics.RecordDispatchStart()

	logger := c.logger.With().
		Str("requestId", req.id).
		Str("inputMethod", string(req.utterance.Source)).
		Logger()
	logger.Debug().Msg("Dispatching turn")

	envelope := domain.TurnEnvelope{
		Message:         req.utterance.Text,
		Confidence:      req.utterance.Confidence,
		InputMethod:     req.utterance.Source,
		SessionID:       sessionID,
		ClientTimestamp: req.requestedAt,
	}
	reply, sendErr := c.responder.PostTurn(req.ctx, envelope)
	if sendErr == nil {
		c.adoptRemoteSession(reply.SessionID)
	}

	respondedAt := c.now()
	if respondedAt.Before(req.requestedAt) {
		respondedAt = req.requestedAt
	}

	outcome := c.classify(req, reply, sendErr)
	record := domain.TurnRecord{
		ID:           req.id,
		User:         req.utterance,
		RequestedAt:  req.requestedAt,
		RespondedAt:  respondedAt,
		Outcome:      outcome,
		ResponseTime: respondedAt.Sub(req.requestedAt),
	}
	if outcome.Kind == domain.OutcomeOK {
		record.BotReply = strings.TrimSpace(reply.Response)
		record.MediaURL = reply.MediaURL
		record.ServerTiming = reply.ServerTiming
	}

	c.settle(req, record)

	c.metrics.RecordTurn(string(req.utterance.Source), string(outcome.Kind), record.ResponseTime)
	switch outcome.Kind {
	case domain.OutcomeOK:
		logger.Info().Dur("responseTime", record.ResponseTime).Msg("Turn completed")
		return record, nil
	case domain.OutcomeCancelled:
		logger.Info().Msg("Turn cancelled")
		c.notify(domain.NoticeInfo, "request_cancelled", "Request cancelled.")
		return record, nil
	default:
		logger.Warn().Err(outcome.Err).Str("kind", string(outcome.Err.Kind)).Msg("Turn failed")
		c.notify(domain.NoticeError, string(outcome.Err.Kind), dispatchMessage(outcome.Err))
		return record, outcome.Err
	}
}

// classify maps the responder result onto a turn outcome. A user
// cancellation wins over any late reply.
func (c *TurnController) classify(req *inFlightRequest, reply domain.TurnReply, err error) domain.Outcome {
	c.mu.Lock()
	cancelled := req.cancelled
	c.unlock()
	if cancelled {
		return domain.Outcome{Kind: domain.OutcomeCancelled}
	}

	if err == nil {
		if reply.Success && strings.TrimSpace(reply.Response) != "" {
			return domain.OutcomeOf(nil)
		}
		message := strings.TrimSpace(reply.Error)
		if message == "" {
			if reply.Success {
				message = "responder returned an empty reply"
			} else {
				message = "responder reported a failure"
			}
		}
		return domain.OutcomeOf(&domain.DispatchError{Kind: domain.DispatchServerLogic, Message: message})
	}

	var dispatchErr *domain.DispatchError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(req.ctx.Err(), context.DeadlineExceeded):
		return domain.OutcomeOf(&domain.DispatchError{Kind: domain.DispatchTimeout})
	case errors.As(err, &dispatchErr):
		return domain.OutcomeOf(dispatchErr)
	case errors.Is(err, domain.ErrMalformedReply):
		return domain.OutcomeOf(&domain.DispatchError{Kind: domain.DispatchServerLogic, Message: err.Error()})
	case errors.Is(err, context.Canceled):
		return domain.Outcome{Kind: domain.OutcomeCancelled}
	default:
		return domain.OutcomeOf(&domain.DispatchError{Kind: domain.DispatchNetwork, Message: err.Error()})
	}
}

// settle drops the cancellation handle, appends the record and publishes it.
func (c *TurnController) settle(req *inFlightRequest, record domain.TurnRecord) {
	c.mu.Lock()
	if c.inFlight == req {
		c.inFlight = nil
	}
	c.dispatch = domain.DispatchState{Kind: domain.DispatchSettling, RequestID: req.id}
	c.syncLocked()
	c.unlock()
	req.cancel()

	c.history.Append(record)
	c.events.TurnRecorded(record)
	c.publish(record)
}

// releaseDispatch returns dispatch to Idle. It runs on every path,
// including a panicking responder.
func (c *TurnController) releaseDispatch(req *inFlightRequest) {
	req.cancel()
	c.mu.Lock()
	defer c.unlock()
	if c.inFlight == req {
		c.inFlight = nil
	}
	if c.dispatch.RequestID == req.id {
		c.dispatch = domain.DispatchState{Kind: domain.DispatchIdle}
		c.syncLocked()
	}
}

// adoptRemoteSession keeps the responder's session id for later turns.
func (c *TurnController) adoptRemoteSession(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	changed := c.remoteSessionID != id
	c.remoteSessionID = id
	c.unlock()
	if changed {
		c.logger.Debug().Str("remoteSessionId", id).Msg("Responder session adopted")
	}
}

func (c *TurnController) publish(record domain.TurnRecord) {
	if c.publisher == nil {
		return
	}
	c.publishWG.Add(1)
	go func() {
		defer c.publishWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.publisher.PublishTurn(ctx, c.sessionID, record); err != nil {
			c.logger.Error().Err(err).Str("requestId", record.ID).Msg("Failed to publish turn")
		}
	}()
}

func dispatchMessage(err *domain.DispatchError) string {
	switch err.Kind {
	case domain.DispatchServerLogic:
		if err.Message != "" {
			return err.Message
		}
		return "The assistant could not answer."
	case domain.DispatchServerStatus:
		if err.Message != "" {
			return err.Message
		}
		return "The assistant returned an error."
	case domain.DispatchTimeout:
		return "The request timed out."
	case domain.DispatchNetwork:
		return "Could not reach the assistant."
	default:
		return err.Error()
	}
}

func inputMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyUtterance):
		return "Message cannot be empty."
	case errors.Is(err, domain.ErrMessageTooLong):
		return "Message is too long."
	default:
		return err.Error()
	}
}
