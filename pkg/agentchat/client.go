package agentchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Client talks to the human-agent chat platform's REST API. A client is
// created and authenticated per call site; no session is cached across
// conversations, so a revoked agent account takes effect on the next
// handoff rather than whenever a pooled session happens to expire.
type Client struct {
	baseURL string
	http    *http.Client

	authToken string
	userID    string
}

// PostedMessage is the platform's acknowledgement of a posted message.
type PostedMessage struct {
	ID     string
	RoomID string
}

// NewClient returns an unauthenticated client for the given server.
func NewClient(serverURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: serverURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Login authenticates with per-call credentials and stores the resulting
// auth token and user id on the client.
func (c *Client) Login(ctx context.Context, user, password string) error {
	body := map[string]string{"user": user, "password": password}
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			AuthToken string `json:"authToken"`
			UserID    string `json:"userId"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/api/v1/login", body, &resp); err != nil {
		return errors.Wrap(err, "agent platform login")
	}
	if resp.Status != "success" || resp.Data.AuthToken == "" {
		return errors.Errorf("agent platform login rejected for user %s", user)
	}
	c.authToken = resp.Data.AuthToken
	c.userID = resp.Data.UserID
	return nil
}

// Me verifies the authenticated identity. The platform reports failures in
// the payload rather than the status line, so an `error` field is the
// signal to check.
func (c *Client) Me(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/me", nil)
	if err != nil {
		return "", errors.Wrap(err, "build me request")
	}
	c.authorize(req)
	raw, err := c.do(req)
	if err != nil {
		return "", err
	}
	var me struct {
		Username string `json:"username"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(raw, &me); err != nil {
		return "", errors.Wrap(err, "decode me response")
	}
	if me.Error != "" {
		return "", errors.Errorf("agent platform identity check failed: %s", me.Error)
	}
	return me.Username, nil
}

// PostMessage posts text to a channel (use "@name" for an agent's direct
// channel) and returns the message id and the room the platform resolved.
func (c *Client) PostMessage(ctx context.Context, channel, text string) (*PostedMessage, error) {
	body := map[string]string{"channel": channel, "text": text}
	var resp struct {
		Success bool `json:"success"`
		Message struct {
			ID     string `json:"_id"`
			RoomID string `json:"rid"`
		} `json:"message"`
	}
	if err := c.post(ctx, "/api/v1/chat.postMessage", body, &resp); err != nil {
		return nil, errors.Wrapf(err, "post message to %s", channel)
	}
	if !resp.Success {
		return nil, errors.Errorf("agent platform rejected message to %s", channel)
	}
	log.Debug().Str("channel", channel).Str("message_id", resp.Message.ID).Str("room_id", resp.Message.RoomID).Msg("posted message to agent platform")
	return &PostedMessage{ID: resp.Message.ID, RoomID: resp.Message.RoomID}, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
		req.Header.Set("X-User-Id", c.userID)
	}
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode response from %s", path)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, errors.Wrap(err, "read response body")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return buf.Bytes(), nil
}
