// Package gateway is the HTTP client for the carpooling marketplace
// backend. The backend exposes two generations of messaging endpoints with
// diverging field names; every response is normalized into the canonical
// shapes from internal/chat before it leaves this package.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ridelink/ridechat/internal/chat"
)

const DefaultTimeout = 15 * time.Second

// APIError is a non-2xx backend response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

// Client talks to the marketplace REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the given API base URL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken updates the bearer token, e.g. after a session refresh.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Contacts fetches the conversation-partner directory.
func (c *Client) Contacts(ctx context.Context) ([]chat.Contact, error) {
	raw, err := c.do(ctx, http.MethodGet, "/messages/contacts", nil)
	if err != nil {
		return nil, err
	}

	var env struct {
		Contacts []json.RawMessage `json:"contacts"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode contacts: %w", err)
	}

	contacts := make([]chat.Contact, 0, len(env.Contacts))
	for _, rc := range env.Contacts {
		contact, err := chat.DecodeContact(rc)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

// ContactByID synthesizes a Contact from a user lookup, used when a
// conversation is opened for a peer the directory has not returned yet.
func (c *Client) ContactByID(ctx context.Context, id int64) (chat.Contact, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil)
	if err != nil {
		return chat.Contact{}, err
	}
	contact, err := chat.DecodeContact(raw)
	if err != nil {
		return chat.Contact{}, err
	}
	if contact.ID == 0 {
		contact.ID = id
	}
	return contact, nil
}

// Messages fetches the full message list for a conversation with peerID.
func (c *Client) Messages(ctx context.Context, peerID int64) ([]chat.Message, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/messages/%d", peerID), nil)
	if err != nil {
		return nil, err
	}

	var env struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	msgs := make([]chat.Message, 0, len(env.Messages))
	for _, rm := range env.Messages {
		msg, err := chat.DecodeMessage(rm)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Send writes a message to peerID. clientID is echoed back by current
// backends and used to correlate the optimistic entry.
func (c *Client) Send(ctx context.Context, peerID int64, body, clientID string) (chat.Message, error) {
	payload := map[string]any{
		"to_id":     peerID,
		"content":   body,
		"client_id": clientID,
	}
	raw, err := c.do(ctx, http.MethodPost, "/messages", payload)
	if err != nil {
		return chat.Message{}, err
	}

	msg, err := chat.DecodeMessage(raw)
	if err != nil {
		return chat.Message{}, err
	}
	if msg.ClientID == "" {
		msg.ClientID = clientID
	}
	return msg, nil
}

// MarkRead records that every message from fromID has been seen.
func (c *Client) MarkRead(ctx context.Context, fromID int64) error {
	_, err := c.do(ctx, http.MethodPost, "/messages/read", map[string]any{"from_id": fromID})
	return err
}

// AddContact registers userID as a conversation partner. Best effort: the
// messaging UI proceeds even when this fails, so callers typically only
// log the error.
func (c *Client) AddContact(ctx context.Context, userID int64) error {
	_, err := c.do(ctx, http.MethodPost, "/messages/contact", map[string]any{"user_id": userID})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}
