// Package remote talks to the chat backend over HTTP: turn submission,
// persisted history and the health endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"parley/internal/domain"
	"parley/internal/ports"
)

const (
	DefaultBaseURL       = "http://localhost:5000"
	DefaultHealthTimeout = 3 * time.Second
	MaxHistoryLimit      = 500

	maxBodyBytes      = 1 << 20
	historyTimeLayout = "2006-01-02 15:04:05"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// WithHealthTimeout bounds the health probe.
func WithHealthTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.healthTimeout = timeout
		}
	}
}

// WithLocation sets the zone history timestamps are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// Client implements the responder, history source and health probe.
type Client struct {
	baseURL       string
	http          *http.Client
	healthTimeout time.Duration
	loc           *time.Location
}

func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:       baseURL,
		http:          http.DefaultClient,
		healthTimeout: DefaultHealthTimeout,
		loc:           time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type chatRequest struct {
	Message     string  `json:"message"`
	Confidence  float64 `json:"confidence"`
	InputMethod string  `json:"input_method"`
	SessionID   string  `json:"session_id"`
	Timestamp   string  `json:"timestamp"`
}

type chatResponse struct {
	Success      bool            `json:"success"`
	Response     string          `json:"response"`
	MediaURL     string          `json:"media_url"`
	Error        string          `json:"error"`
	SessionID    string          `json:"session_id"`
	ResponseTime json.RawMessage `json:"response_time"`
}

// PostTurn sends one turn to POST /api/chat.
func (c *Client) PostTurn(ctx context.Context, env domain.TurnEnvelope) (domain.TurnReply, error) {
	body, err := json.Marshal(chatRequest{
		Message:     env.Message,
		Confidence:  env.Confidence,
		InputMethod: string(env.InputMethod),
		SessionID:   env.SessionID,
		Timestamp:   env.ClientTimestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		return domain.TurnReply{}, errors.Wrap(err, "marshal turn")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return domain.TurnReply{}, errors.Wrap(err, "create chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, payload, err := c.do(req)
	if err != nil {
		return domain.TurnReply{}, errors.Wrap(err, "post turn")
	}
	if status < 200 || status > 299 {
		return domain.TurnReply{}, &domain.DispatchError{
			Kind:       domain.DispatchServerStatus,
			StatusCode: status,
			Message:    statusMessage(status, payload),
		}
	}

	var resp chatResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return domain.TurnReply{}, errors.Wrapf(domain.ErrMalformedReply, "decode chat reply: %v", err)
	}
	return domain.TurnReply{
		Success:      resp.Success,
		Response:     resp.Response,
		MediaURL:     resp.MediaURL,
		Error:        resp.Error,
		SessionID:    strings.TrimSpace(resp.SessionID),
		ServerTiming: parseResponseTime(resp.ResponseTime),
	}, nil
}

type historyResponse struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	History []historyEntry `json:"history"`
	Count   int            `json:"count"`
}

type historyEntry struct {
	ID           json.RawMessage `json:"id"`
	Timestamp    string          `json:"timestamp"`
	User         string          `json:"user"`
	Bot          string          `json:"bot"`
	SessionID    string          `json:"session_id"`
	InputMethod  string          `json:"input_method"`
	ResponseTime json.RawMessage `json:"response_time"`
}

// FetchRecent reads GET /api/history and returns turns oldest first.
func (c *Client) FetchRecent(ctx context.Context, limit int) ([]domain.TurnRecord, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/history?limit="+strconv.Itoa(limit), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create history request")
	}
	req.Header.Set("Accept", "application/json")

	status, payload, err := c.do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch history")
	}
	if status < 200 || status > 299 {
		return nil, &domain.DispatchError{
			Kind:       domain.DispatchServerStatus,
			StatusCode: status,
			Message:    statusMessage(status, payload),
		}
	}

	var resp historyResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errors.Wrapf(domain.ErrMalformedReply, "decode history: %v", err)
	}
	if !resp.Success {
		message := strings.TrimSpace(resp.Error)
		if message == "" {
			message = "history request failed"
		}
		return nil, &domain.DispatchError{Kind: domain.DispatchServerLogic, Message: message}
	}

	records := make([]domain.TurnRecord, 0, len(resp.History))
	// The backend lists newest first.
	for i := len(resp.History) - 1; i >= 0; i-- {
		records = append(records, c.toRecord(resp.History[i]))
	}
	return records, nil
}

func (c *Client) toRecord(entry historyEntry) domain.TurnRecord {
	at, err := time.ParseInLocation(historyTimeLayout, strings.TrimSpace(entry.Timestamp), c.loc)
	if err != nil {
		at = time.Time{}
	}
	timing := parseResponseTime(entry.ResponseTime)

	source := domain.InputSourceText
	if strings.EqualFold(entry.InputMethod, string(domain.InputSourceVoice)) {
		source = domain.InputSourceVoice
	}

	return domain.TurnRecord{
		ID: strings.Trim(string(entry.ID), `"`),
		User: domain.Utterance{
			Text:        entry.User,
			Source:      source,
			CommittedAt: at,
		},
		BotReply:     entry.Bot,
		RequestedAt:  at,
		RespondedAt:  at.Add(timing),
		Outcome:      domain.Outcome{Kind: domain.OutcomeOK},
		ResponseTime: timing,
		ServerTiming: timing,
	}
}

// Health probes GET /health within the configured bound. Any non-2xx
// status reports unreachable without an error.
func (c *Client) Health(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, errors.Wrap(err, "create health request")
	}
	status, _, err := c.do(req)
	if err != nil {
		return false, errors.Wrap(err, "health probe")
	}
	return status >= 200 && status <= 299, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "read response body")
	}
	return resp.StatusCode, payload, nil
}

// statusMessage extracts a human readable message from an error body:
// error, then message, then the compact JSON, then the raw text.
func statusMessage(status int, body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return http.StatusText(status)
	}
	if !json.Valid(trimmed) {
		return string(trimmed)
	}

	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err == nil {
		for _, key := range []string{"error", "message"} {
			if text, ok := fields[key].(string); ok && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}

// parseResponseTime accepts "1.23s", "1.23" or a bare number of seconds.
func parseResponseTime(raw json.RawMessage) time.Duration {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	if d, err := time.ParseDuration(text); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(strings.TrimSuffix(text, "s"), 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

var (
	_ ports.Responder     = (*Client)(nil)
	_ ports.HistorySource = (*Client)(nil)
	_ ports.HealthProbe   = (*Client)(nil)
)
