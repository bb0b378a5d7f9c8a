// ABOUTME: REST client for the chat platform's conversation API
// ABOUTME: The platform is the source of truth for conversation assignment

package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Conversation is the slice of the platform's conversation resource the
// broker cares about. AssigneeID is empty when the conversation is
// unassigned.
type Conversation struct {
	ID         string
	AssigneeID string
	Status     string
}

// Client talks to the chat platform's account-scoped REST API.
type Client struct {
	baseURL   string
	accountID string
	apiToken  string
	http      *http.Client
	logger    *slog.Logger
}

// Options configures a platform client.
type Options struct {
	BaseURL   string
	AccountID string
	APIToken  string
	Timeout   time.Duration
}

// NewClient creates a platform API client. Timeout bounds every call.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		accountID: opts.AccountID,
		apiToken:  opts.APIToken,
		http:      &http.Client{Timeout: timeout},
		logger:    logger.With("component", "platform"),
	}
}

// conversationResponse mirrors the platform's conversation JSON. The
// assignee appears under meta on reads.
type conversationResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Meta   struct {
		Assignee *struct {
			ID int64 `json:"id"`
		} `json:"assignee"`
	} `json:"meta"`
}

// GetConversation fetches the current conversation resource, including who
// it is assigned to.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var resp conversationResponse
	path := fmt.Sprintf("/api/v1/accounts/%s/conversations/%s", c.accountID, conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Conversation{}, fmt.Errorf("fetching conversation %s: %w", conversationID, err)
	}

	conv := Conversation{
		ID:     strconv.FormatInt(resp.ID, 10),
		Status: resp.Status,
	}
	if resp.ID == 0 {
		conv.ID = conversationID
	}
	if resp.Meta.Assignee != nil {
		conv.AssigneeID = strconv.FormatInt(resp.Meta.Assignee.ID, 10)
	}
	return conv, nil
}

// SetConversationAssignee assigns the conversation to the given agent and
// sets its status.
func (c *Client) SetConversationAssignee(ctx context.Context, conversationID, agentID, status string) error {
	body := map[string]any{
		"assignee_id": agentID,
		"status":      status,
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/conversations/%s/assignments", c.accountID, conversationID)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("assigning conversation %s to agent %s: %w", conversationID, agentID, err)
	}
	return nil
}

// PostMessage sends an outgoing message into the conversation on behalf of
// the given agent.
func (c *Client) PostMessage(ctx context.Context, conversationID, text, senderAgentID string) error {
	body := map[string]any{
		"content":      text,
		"message_type": "outgoing",
	}
	if senderAgentID != "" {
		body["sender_id"] = senderAgentID
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/conversations/%s/messages", c.accountID, conversationID)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("posting message to conversation %s: %w", conversationID, err)
	}
	return nil
}

// do executes one API call. Non-2xx responses become errors carrying the
// status code and a truncated body; the broker treats timeouts and API
// errors uniformly as "could not confirm/mutate".
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("api_access_token", c.apiToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling platform API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("platform API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
