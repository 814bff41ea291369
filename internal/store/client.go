// Package store implements the chat.MessageStore collaborator against the
// chat server's REST API: bulk page fetch on open, durable persistence for
// optimistic sends.
package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/skillbay/chatsync/internal/chat"
	"github.com/skillbay/chatsync/internal/proto"
	"github.com/skillbay/chatsync/internal/transport"
)

const defaultTimeout = 15 * time.Second

// Client is a REST message store over HTTP with bearer-token auth.
type Client struct {
	base     string
	token    string
	pageSize int
	http     *http.Client
}

// NewClient builds a store client for the given API base URL, for example
// "http://localhost:8080". pageSize bounds each FetchPage request; zero
// leaves the page size to the server.
func NewClient(base, token string, pageSize int) *Client {
	return &Client{
		base:     base,
		token:    token,
		pageSize: pageSize,
		http:     &http.Client{Timeout: defaultTimeout},
	}
}

type pageResponse struct {
	Messages []proto.WireMessage `json:"messages"`
}

// SendRequest is the POST body for persisting a message.
type SendRequest struct {
	Text      string `json:"text,omitempty"`
	Kind      string `json:"kind"`
	ImageName string `json:"imageName,omitempty"`
	ImageMIME string `json:"imageMime,omitempty"`
	ImageData string `json:"imageData,omitempty"` // base64
}

// FetchPage returns the most recent page of messages for a conversation.
func (c *Client) FetchPage(ctx context.Context, conversationID string) ([]chat.Message, error) {
	endpoint := fmt.Sprintf("%s/api/chats/%s/messages", c.base, url.PathEscape(conversationID))
	if c.pageSize > 0 {
		endpoint += fmt.Sprintf("?limit=%d", c.pageSize)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError("fetch page", resp)
	}

	var page pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	messages := make([]chat.Message, 0, len(page.Messages))
	for _, wire := range page.Messages {
		messages = append(messages, transport.MessageFromWire(wire))
	}
	return messages, nil
}

// SendMessage persists a message and returns the acknowledged record with
// its server-assigned durable identity and timestamp.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string, kind chat.Kind, att *chat.Attachment) (chat.Message, error) {
	body := SendRequest{Text: text, Kind: string(kind)}
	if att != nil {
		body.ImageName = att.Name
		body.ImageMIME = att.MIME
		body.ImageData = base64.StdEncoding.EncodeToString(att.Data)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return chat.Message{}, fmt.Errorf("marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/chats/%s/messages", c.base, url.PathEscape(conversationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return chat.Message{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return chat.Message{}, apiError("send message", resp)
	}

	var wire proto.WireMessage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return chat.Message{}, fmt.Errorf("decode send response: %w", err)
	}
	return transport.MessageFromWire(wire), nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}

func apiError(op string, resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("%s: %s (status %d)", op, apiErr.Error, resp.StatusCode)
	}
	return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
}
