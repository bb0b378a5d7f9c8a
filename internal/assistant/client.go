// ABOUTME: Client for the generative-response backend
// ABOUTME: Submits user text and polls for the reply with a bounded attempt budget

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for the two generation failure modes. Callers distinguish
// them with errors.Is; both abort the respond attempt.
var (
	ErrGenerationFailed  = errors.New("assistant: generation failed")
	ErrGenerationTimeout = errors.New("assistant: generation timed out")
)

// Reply is a completed generative response. SessionHandle is the backend's
// conversational-context reference; callers pass it back on the next turn
// for the same conversation and must never share it across conversations.
type Reply struct {
	Text          string
	SessionHandle string
}

// Client talks to the generative-response backend. Responses are produced
// asynchronously: a query submission returns a request id which is then
// polled until the reply is ready.
type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	pollInterval time.Duration
	maxAttempts  int
	logger       *slog.Logger
}

// Options configures an assistant client.
type Options struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxAttempts  int
}

// NewClient creates an assistant client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.PollInterval
	if interval == 0 {
		interval = 2 * time.Second
	}
	attempts := opts.MaxAttempts
	if attempts == 0 {
		attempts = 30
	}
	return &Client{
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		http:         &http.Client{Timeout: 15 * time.Second},
		pollInterval: interval,
		maxAttempts:  attempts,
		logger:       logger.With("component", "assistant"),
	}
}

type submitRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
}

type pollResponse struct {
	Status    string `json:"status"` // pending, complete, failed
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// Respond sends the user's text to the backend and waits for the generated
// reply. sessionHandle may be empty for a fresh conversation; the returned
// Reply carries the handle to use on the next turn. Returns
// ErrGenerationFailed on backend error and ErrGenerationTimeout once the
// poll budget is exhausted.
func (c *Client) Respond(ctx context.Context, sessionHandle, userText string) (Reply, error) {
	submitted, err := c.submit(ctx, sessionHandle, userText)
	if err != nil {
		return Reply{}, err
	}

	c.logger.Debug("query submitted",
		"request_id", submitted.RequestID,
		"session_id", submitted.SessionID)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Reply{}, fmt.Errorf("%w: %v", ErrGenerationTimeout, ctx.Err())
		case <-ticker.C:
		}

		status, err := c.poll(ctx, submitted.RequestID)
		if err != nil {
			return Reply{}, err
		}

		switch status.Status {
		case "complete":
			handle := status.SessionID
			if handle == "" {
				handle = submitted.SessionID
			}
			return Reply{Text: status.Reply, SessionHandle: handle}, nil
		case "failed":
			return Reply{}, fmt.Errorf("%w: %s", ErrGenerationFailed, status.Error)
		case "pending":
			// keep polling
		default:
			return Reply{}, fmt.Errorf("%w: unexpected status %q", ErrGenerationFailed, status.Status)
		}
	}

	return Reply{}, fmt.Errorf("%w: no reply after %d attempts", ErrGenerationTimeout, c.maxAttempts)
}

func (c *Client) submit(ctx context.Context, sessionHandle, userText string) (*submitResponse, error) {
	body, err := json.Marshal(submitRequest{SessionID: sessionHandle, Text: userText})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/queries", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: submitting query: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: submit returned status %d: %s", ErrGenerationFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding submit response: %v", ErrGenerationFailed, err)
	}
	if out.RequestID == "" {
		return nil, fmt.Errorf("%w: submit response missing request_id", ErrGenerationFailed)
	}
	return &out, nil
}

func (c *Client) poll(ctx context.Context, requestID string) (*pollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/queries/"+requestID, nil)
	if err != nil {
		return nil, fmt.Errorf("creating poll request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: polling query: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: poll returned status %d", ErrGenerationFailed, resp.StatusCode)
	}

	var out pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding poll response: %v", ErrGenerationFailed, err)
	}
	return &out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
