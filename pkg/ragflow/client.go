package ragflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Client talks to the RAGFlow-style AI backend: assistant lookup, session
// creation and streamed completions. Streaming responses go through the
// Ingestor in stream.go.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	// chatID caches the resolved assistant id for the client's lifetime.
	chatID string
}

// NewClient builds a client for the given backend. The default transport is
// used on purpose: completion streams are long-lived and must not carry a
// client-wide timeout; per-request deadlines come from the context.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

// ResolveAssistant looks up the assistant id by name and caches it.
func (c *Client) ResolveAssistant(ctx context.Context, name string) (string, error) {
	u := fmt.Sprintf("%s/api/v1/chats?name=%s", c.baseURL, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", errors.Wrap(err, "build assistant lookup request")
	}
	c.authorize(req)

	var resp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", errors.Errorf("assistant lookup failed: %s", resp.Message)
	}
	if len(resp.Data) == 0 {
		return "", errors.Errorf("no assistant named %q", name)
	}
	c.chatID = resp.Data[0].ID
	log.Debug().Str("assistant", name).Str("chat_id", c.chatID).Msg("resolved assistant")
	return c.chatID, nil
}

// CreateSession opens a new backend chat session for a user.
func (c *Client) CreateSession(ctx context.Context, userID string) (string, error) {
	if c.chatID == "" {
		return "", errors.New("assistant not resolved")
	}
	body, _ := json.Marshal(map[string]string{"name": "chat_session:" + userID})
	u := fmt.Sprintf("%s/api/v1/chats/%s/sessions", c.baseURL, c.chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build session request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	var resp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", errors.Errorf("create session failed: %s", resp.Message)
	}
	return resp.Data.ID, nil
}

// StreamCompletion asks a question and feeds the SSE response through an
// Ingestor, emitting token deltas to sink as they arrive. It returns the
// accumulated result (full text plus deduplicated citations) once the
// backend signals completion or the stream ends.
func (c *Client) StreamCompletion(ctx context.Context, question, sessionID, userID string, sink TokenSink) (*Answer, error) {
	if c.chatID == "" {
		return nil, errors.New("assistant not resolved")
	}
	body, _ := json.Marshal(map[string]interface{}{
		"question":   question,
		"stream":     true,
		"session_id": sessionID,
		"user_id":    userID,
	})
	u := fmt.Sprintf("%s/api/v1/chats/%s/completions", c.baseURL, c.chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "completion request")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("completion request: status %d", resp.StatusCode)
	}

	ing := NewIngestor(sink)
	if err := ing.Run(ctx, resp.Body); err != nil {
		return nil, err
	}
	return ing.Answer(), nil
}

// DocumentURL builds the download link for a cited document.
func (c *Client) DocumentURL(cit Citation) string {
	ext := ""
	if i := lastDot(cit.Name); i >= 0 {
		ext = cit.Name[i+1:]
	}
	return fmt.Sprintf("%s/document/%s?ext=%s&prefix=document", c.baseURL, cit.ID, url.QueryEscape(ext))
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode response from %s", req.URL.Path)
	}
	return nil
}
