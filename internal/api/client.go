// Package api is the HTTP client for the marketplace message API. It is the
// degraded path the chat core uses while the socket is down, plus the
// surrounding account and conversation-list calls.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tradelane/marketchat/internal/chatcore"
	"github.com/tradelane/marketchat/internal/session"
)

var ErrUnauthorized = errors.New("api: authorization required")

type Client struct {
	base string
	http *http.Client
	sess *session.Provider
}

func New(baseURL string, sess *session.Provider) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
		sess: sess,
	}
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar,omitempty"`
}

type message struct {
	ID        int64  `json:"id"`
	Sender    int64  `json:"sender"`
	Recipient int64  `json:"recipient"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	IsRead    bool   `json:"is_read"`
}

type LastMessage struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ChatSummary is one row of the conversation list feed: partner profile,
// last message preview and unread count. Read-only on the client.
type ChatSummary struct {
	User
	LastMessage *LastMessage `json:"last_message"`
	UnreadCount int          `json:"unread_count"`
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{"username": username, "password": password}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out, false); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) Register(ctx context.Context, username, password, firstName, lastName string) (string, error) {
	body := map[string]string{
		"username": username, "password": password,
		"first_name": firstName, "last_name": lastName,
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/register", body, &out, false); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/users/me", nil, &u, true)
	return u, err
}

func (c *Client) User(ctx context.Context, id int64) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil, &u, true)
	return u, err
}

// Chats fetches the conversation summaries.
func (c *Client) Chats(ctx context.Context) ([]ChatSummary, error) {
	var out []ChatSummary
	err := c.do(ctx, http.MethodGet, "/messages/chats", nil, &out, true)
	return out, err
}

// History fetches the ordered message list with a partner. The server marks
// the partner's unread messages read as a side effect.
func (c *Client) History(ctx context.Context, partnerID int64) ([]chatcore.Message, error) {
	var raw []message
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/messages/chat/%d", partnerID), nil, &raw, true); err != nil {
		return nil, err
	}
	out := make([]chatcore.Message, 0, len(raw))
	for _, m := range raw {
		out = append(out, toCore(m))
	}
	return out, nil
}

// Send posts a message over REST and returns the confirmed server copy.
func (c *Client) Send(ctx context.Context, partnerID int64, content string) (chatcore.Message, error) {
	body := map[string]any{"recipient": partnerID, "content": content}
	var raw message
	if err := c.do(ctx, http.MethodPost, "/messages/send", body, &raw, true); err != nil {
		return chatcore.Message{}, err
	}
	return toCore(raw), nil
}

func (c *Client) Edit(ctx context.Context, messageID int64, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/messages/%d", messageID), body, nil, true)
}

func (c *Client) Delete(ctx context.Context, messageID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/messages/%d", messageID), nil, nil, true)
}

// Upload stores a file and returns the URL to embed in message content.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	token, err := c.sess.Token()
	if err != nil {
		return "", ErrUnauthorized
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api: upload failed: %s", resp.Status)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := c.sess.Token()
		if err != nil {
			return ErrUnauthorized
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("api: %s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("api: %s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func toCore(m message) chatcore.Message {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, m.Timestamp)
	}
	return chatcore.Message{
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: t,
		Read:      m.IsRead,
		Status:    chatcore.StatusConfirmed,
	}
}
