package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parley/internal/domain"
	"parley/internal/history"
	"parley/internal/observability/logging"
	"parley/internal/observability/metrics"
	"parley/internal/ports"
)

const (
	defaultRetryLimit   = 3
	defaultRetryBackoff = time.Second
	publishTimeout      = 10 * time.Second
)

// Config controls capture retries, request timeouts and invariant checks.
type Config struct {
	// RetryLimit bounds consecutive no-speech retries per activation.
	RetryLimit   int
	RetryBackoff time.Duration
	// RequestTimeout of zero disables the dispatch timeout.
	RequestTimeout time.Duration
	// StrictInvariants panics on invariant violations (development builds).
	StrictInvariants bool
	// SessionID is generated when empty.
	SessionID string
}

// Option customizes a TurnController.
type Option func(*TurnController)

func WithHistory(store *history.Store) Option {
	return func(c *TurnController) { c.history = store }
}

func WithPublisher(publisher ports.TurnPublisher) Option {
	return func(c *TurnController) { c.publisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *TurnController) { c.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *TurnController) { c.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(c *TurnController) { c.now = now }
}

// TurnController coordinates speech capture and turn dispatch for one
// session. The capture and dispatch states are only ever changed together
// under mu, so the UI never observes a partial transition.
type TurnController struct {
	permission ports.PermissionGate
	recognizer ports.Recognizer
	responder  ports.Responder
	events     ports.EventSink
	history    *history.Store
	publisher  ports.TurnPublisher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
	cfg        Config
	sessionID  string

	mu        sync.Mutex
	capture   domain.CaptureState
	dispatch  domain.DispatchState
	shown     domain.PresentationState
	cycle     uint64
	listening *captureCycle
	inFlight  *inFlightRequest

	// remoteSessionID is the responder's id for this conversation, learned
	// from its first reply.
	remoteSessionID string

	// fault is a strict-mode violation raised once mu is released.
	fault error

	publishWG sync.WaitGroup
}

func NewTurnController(
	permission ports.PermissionGate,
	recognizer ports.Recognizer,
	responder ports.Responder,
	events ports.EventSink,
	cfg Config,
	opts ...Option,
) *TurnController {
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	} else if cfg.RetryLimit == 0 {
		cfg.RetryLimit = defaultRetryLimit
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	c := &TurnController{
		permission: permission,
		recognizer: recognizer,
		responder:  responder,
		events:     events,
		cfg:        cfg,
		sessionID:  cfg.SessionID,
		now:        time.Now,
		capture:    domain.CaptureState{Kind: domain.CaptureIdle},
		dispatch:   domain.DispatchState{Kind: domain.DispatchIdle},
		shown:      domain.PresentationIdle,
		logger:     logging.WithSession("controller", cfg.SessionID),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.history == nil {
		c.history = history.NewStore()
	}
	return c
}

// SessionID returns the controller's own opaque id.
func (c *TurnController) SessionID() string {
	return c.sessionID
}

// envelopeSessionIDLocked is the id sent to the responder: its own id once
// issued, the controller id before that.
func (c *TurnController) envelopeSessionIDLocked() string {
	if c.remoteSessionID != "" {
		return c.remoteSessionID
	}
	return c.sessionID
}

// History returns the session's turn log in append order.
func (c *TurnController) History() []domain.TurnRecord {
	return c.history.Records()
}

// LastReply returns the newest successful bot reply.
func (c *TurnController) LastReply() (string, bool) {
	return c.history.LastReply()
}

// Status returns a consistent snapshot of controller state.
func (c *TurnController) Status() domain.Status {
	c.mu.Lock()
	defer c.unlock()
	return domain.Status{
		SessionID:       c.sessionID,
		RemoteSessionID: c.remoteSessionID,
		Presentation:    c.shown,
		Capture:         c.capture,
		Dispatch:        c.dispatch,
		HistoryLen:      c.history.Len(),
	}
}

// HydrateHistory replaces the session log with persisted turns. It fails
// with ErrHistoryAlreadyActive once a live turn has been recorded.
func (c *TurnController) HydrateHistory(ctx context.Context, source ports.HistorySource, limit int) error {
	records, err := source.FetchRecent(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	if err := c.history.LoadExternal(records); err != nil {
		return err
	}
	c.logger.Info().Int("turns", len(records)).Msg("History hydrated")
	return nil
}

// Cancel is the UI cancel action: it stops listening if a capture cycle is
// active, otherwise it cancels the in-flight request.
func (c *TurnController) Cancel() error {
	if err := c.CancelListening(); err == nil {
		return nil
	}
	return c.CancelRequest()
}

// Wait blocks until background turn publishes finish.
func (c *TurnController) Wait() {
	c.publishWG.Wait()
}

// syncLocked checks the exclusion invariant and emits a presentation change.
// Callers hold mu and release it with unlock.
func (c *TurnController) syncLocked() {
	state, err := Reconcile(c.capture, c.dispatch)
	if err == nil && !c.capture.IsIdle() && !c.dispatch.IsIdle() {
		err = &domain.InvariantViolation{
			Detail: fmt.Sprintf("capture %s overlaps dispatch %s", c.capture.Kind, c.dispatch.Kind),
		}
	}
	if err != nil {
		c.recordViolation(err)
		if c.cfg.StrictInvariants && c.fault == nil {
			c.fault = err
		}
	}
	if state != c.shown {
		c.shown = state
		c.events.PresentationChanged(state)
	}
}

// unlock releases mu, then panics with a strict-mode violation recorded
// while it was held.
func (c *TurnController) unlock() {
	fault := c.fault
	c.fault = nil
	c.mu.Unlock()
	if fault != nil {
		panic(fault)
	}
}

// violation reports a defect found without mu held.
func (c *TurnController) violation(err error) {
	c.recordViolation(err)
	if c.cfg.StrictInvariants {
		panic(err)
	}
}

func (c *TurnController) recordViolation(err error) {
	c.metrics.RecordInvariantViolation()
	c.logger.Error().Err(err).Msg("Controller invariant violated")
}

// busyStateLocked names what blocks a new action. Callers hold mu.
func (c *TurnController) busyStateLocked() string {
	if !c.capture.IsIdle() {
		return "listening"
	}
	return "dispatching"
}

func (c *TurnController) rejectBusy(action, busy string) {
	c.metrics.RecordBusy(action)
	c.logger.Warn().Str("action", action).Str("busy", busy).Msg("Action refused while controller is busy")
	message := "Please wait for the current request to finish."
	if busy == "listening" {
		message = "Finish or cancel listening first."
	}
	c.notify(domain.NoticeWarning, "already_busy", message)
}

func (c *TurnController) notify(level domain.NoticeLevel, code string, message string) {
	c.events.Notice(domain.Notice{Level: level, Code: code, Message: message})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
