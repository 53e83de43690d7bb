// ABOUTME: HTTP client for the chat backend, implementing the chat.Backend interface.
// ABOUTME: Plain JSON request/response for CRUD and lifecycle calls, SSE bodies for streaming exchanges.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389-research/parley/chat"
	"github.com/2389-research/parley/wire"
)

// DefaultTimeout bounds plain request/response calls. Streaming requests
// carry no client timeout; their lifetime is the stream's.
const DefaultTimeout = 30 * time.Second

// Client talks to the chat backend over HTTP.
type Client struct {
	baseURL   string
	authToken string

	// httpClient serves request/response calls with a bounded timeout.
	httpClient *http.Client
	// streamClient serves SSE requests and must not time out mid-stream;
	// cancellation is context-driven.
	streamClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the request/response timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the request/response HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Client for the backend at baseURL. The auth token, if
// nonempty, is sent as a bearer credential on every request.
func NewClient(baseURL, authToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		authToken:    authToken,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newRequest builds a request with auth and content headers applied.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doJSON executes a request/response call and decodes the 2xx body into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return newStatusError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// openStream executes a streaming call and fails fast on a non-2xx status
// before any frame is yielded.
func (c *Client) openStream(ctx context.Context, method, path string, body any) (chat.Stream, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		return nil, newStatusError(resp.StatusCode, raw)
	}
	return newFrameReader(resp.Body), nil
}

// SendFriendMessage opens a streaming direct-chat exchange.
func (c *Client) SendFriendMessage(ctx context.Context, friendID int64, req wire.SendMessageRequest) (chat.Stream, error) {
	return c.openStream(ctx, http.MethodPost, fmt.Sprintf("/api/chat/%d/send", friendID), req)
}

// RegenerateMessage re-runs an assistant turn as a streaming exchange.
func (c *Client) RegenerateMessage(ctx context.Context, friendID, messageID int64, enableThinking bool) (chat.Stream, error) {
	body := struct {
		EnableThinking bool `json:"enable_thinking,omitempty"`
	}{EnableThinking: enableThinking}
	return c.openStream(ctx, http.MethodPost, fmt.Sprintf("/api/chat/%d/regenerate/%d", friendID, messageID), body)
}

// RecallMessage withdraws a user message server-side.
func (c *Client) RecallMessage(ctx context.Context, friendID, messageID int64) (wire.MessageRead, error) {
	var out wire.MessageRead
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/chat/%d/recall/%d", friendID, messageID), nil, &out)
	return out, err
}

// ListMessages pages backwards through a friend's history. skip counts
// rows already held from the newest end; zero means the newest page.
func (c *Client) ListMessages(ctx context.Context, friendID int64, skip, limit int) ([]wire.MessageRead, error) {
	var out []wire.MessageRead
	path := fmt.Sprintf("/api/chat/%d/messages?skip=%d&limit=%d", friendID, skip, limit)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ListSessions returns a friend's sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, friendID int64) ([]wire.ChatSession, error) {
	var out []wire.ChatSession
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/chat/%d/sessions", friendID), nil, &out)
	return out, err
}

// StartNewSession opens a fresh server-side session for a friend.
func (c *Client) StartNewSession(ctx context.Context, friendID int64) (wire.ChatSession, error) {
	var out wire.ChatSession
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/chat/%d/sessions", friendID), nil, &out)
	return out, err
}

// SendGroupMessage opens a streaming group exchange.
func (c *Client) SendGroupMessage(ctx context.Context, groupID int64, req wire.GroupSendRequest) (chat.Stream, error) {
	return c.openStream(ctx, http.MethodPost, fmt.Sprintf("/api/group/%d/send", groupID), req)
}

// ListGroupMessages pages backwards through a group's history.
func (c *Client) ListGroupMessages(ctx context.Context, groupID int64, skip, limit int) ([]wire.GroupMessageRead, error) {
	var out []wire.GroupMessageRead
	path := fmt.Sprintf("/api/group/%d/messages?skip=%d&limit=%d", groupID, skip, limit)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetGroupMessage fetches a single persisted group message.
func (c *Client) GetGroupMessage(ctx context.Context, groupID, messageID int64) (wire.GroupMessageRead, error) {
	var out wire.GroupMessageRead
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/group/%d/messages/%d", groupID, messageID), nil, &out)
	return out, err
}

// AutoDriveStart launches a run.
func (c *Client) AutoDriveStart(ctx context.Context, req wire.AutoDriveStartRequest) (wire.AutoDriveStateRead, error) {
	var out wire.AutoDriveStateRead
	err := c.doJSON(ctx, http.MethodPost, "/api/auto_drive/start", req, &out)
	return out, err
}

// AutoDrivePause suspends a run after the current turn.
func (c *Client) AutoDrivePause(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error) {
	return c.driveAction(ctx, "/api/auto_drive/pause", groupID)
}

// AutoDriveResume continues a paused run.
func (c *Client) AutoDriveResume(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error) {
	return c.driveAction(ctx, "/api/auto_drive/resume", groupID)
}

// AutoDriveStop ends a run.
func (c *Client) AutoDriveStop(ctx context.Context, groupID int64) (wire.AutoDriveStateRead, error) {
	return c.driveAction(ctx, "/api/auto_drive/stop", groupID)
}

func (c *Client) driveAction(ctx context.Context, path string, groupID int64) (wire.AutoDriveStateRead, error) {
	var out wire.AutoDriveStateRead
	err := c.doJSON(ctx, http.MethodPost, path, wire.AutoDriveActionRequest{GroupID: groupID}, &out)
	return out, err
}

// AutoDriveState fetches the group's run snapshot. A 404 means no active
// run and maps to a nil state without error.
func (c *Client) AutoDriveState(ctx context.Context, groupID int64) (*wire.AutoDriveStateRead, error) {
	var out wire.AutoDriveStateRead
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/auto_drive/state?group_id=%d", groupID), nil, &out)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// AutoDriveStream opens the group's long-lived run event subscription.
func (c *Client) AutoDriveStream(ctx context.Context, groupID int64) (chat.Stream, error) {
	return c.openStream(ctx, http.MethodGet, fmt.Sprintf("/api/auto_drive/stream?group_id=%d", groupID), nil)
}

// AutoDriveInterject injects a host message into a running discussion and
// returns the persisted message id.
func (c *Client) AutoDriveInterject(ctx context.Context, req wire.AutoDriveInterjectRequest) (int64, error) {
	var out struct {
		MessageID int64 `json:"message_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auto_drive/interject", req, &out); err != nil {
		return 0, err
	}
	return out.MessageID, nil
}

var _ chat.Backend = (*Client)(nil)
