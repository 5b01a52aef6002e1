package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/config"
	"github.com/nortia-app/chatsync/internal/session"
	"go.uber.org/zap"
)

// StatusError reports a non-2xx response from the CRUD collaborator.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rest: %s returned %d", e.Path, e.Code)
}

// Client consumes the REST endpoints owned by the excluded CRUD layer. Only
// the chat-list fetch retries, under a bounded doubling-delay policy; every
// other call is a single attempt whose error the caller handles.
type Client struct {
	base   string
	http   *http.Client
	tokens session.TokenSource
	retry  config.Retry
	logger *zap.Logger
}

// New creates a REST client for the given base URL.
func New(baseURL string, tokens session.TokenSource, retry config.Retry, logger *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimSuffix(baseURL, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		tokens: tokens,
		retry:  retry,
		logger: logger,
	}
}

// Chats fetches the full chat list. Transient failures are retried with a
// doubling delay, capped in both attempts and delay by the retry policy.
func (c *Client) Chats(ctx context.Context) ([]*chat.Chat, error) {
	delay := c.retry.InitialDelay()
	maxDelay := c.retry.MaxDelay()

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		var chats []*chat.Chat
		err := c.do(ctx, http.MethodGet, "/chats", nil, &chats)
		if err == nil {
			return chats, nil
		}
		lastErr = err
		if c.logger != nil {
			c.logger.Warn("chat list fetch failed",
				zap.Int("attempt", attempt), zap.Error(err))
		}
		if attempt == c.retry.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, fmt.Errorf("fetch chats after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

// ChatByID fetches one chat by its server identifier.
func (c *Client) ChatByID(ctx context.Context, id string) (*chat.Chat, error) {
	var out chat.Chat
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type olderResponse struct {
	Messages []*chat.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

// OlderMessages fetches the page of messages older than the given timestamp.
// The second return value reports whether the server has more to give.
func (c *Client) OlderMessages(ctx context.Context, chatID string, before int64, limit int) ([]*chat.Message, bool, error) {
	path := fmt.Sprintf("/chats/%s/messages/older?before=%s&limit=%d",
		url.PathEscape(chatID), strconv.FormatInt(before, 10), limit)
	var out olderResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, false, err
	}
	return out.Messages, out.HasMore, nil
}

// MessagesForChats fetches the latest messages for many chats in one call.
// The daemon uses it to hydrate the refreshed chat list without one round
// trip per conversation.
func (c *Client) MessagesForChats(ctx context.Context, chatIDs []string) (map[string][]*chat.Message, error) {
	path := "/chats/messages?ids=" + url.QueryEscape(strings.Join(chatIDs, ","))
	out := make(map[string][]*chat.Message)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, v any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		req.Header.Set("Authorization", "Bearer "+c.tokens.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Path: path}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
