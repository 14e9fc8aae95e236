package coachlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Coachline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Note the default timeout
// does not fit routine generation; raise it (or set HTTPClient) when
// chatting with the routine agent.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     30 * time.Second,
	}
}

// Message represents one conversation entry.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// Conversation represents a conversation summary.
type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ChatResponse is the reply to a sent message.
type ChatResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversation_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SendMessage relays one chat turn to the named agent
// (reception, data, or routine).
func (c *Client) SendMessage(ctx context.Context, text, agent, conversationID string) (ChatResponse, error) {
	body := map[string]any{
		"text":  text,
		"agent": agent,
	}
	if conversationID != "" {
		body["conversation_id"] = conversationID
	}
	var resp ChatResponse
	err := c.do(ctx, http.MethodPost, "v0/chat/messages", body, &resp)
	return resp, err
}

// Conversations lists the caller's conversations, newest first.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var resp []Conversation
	err := c.do(ctx, http.MethodGet, "v0/chat/conversations", nil, &resp)
	return resp, err
}

// Messages lists a conversation's messages, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var resp []Message
	endpoint := fmt.Sprintf("v0/chat/conversations/%s/messages", url.PathEscape(conversationID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
