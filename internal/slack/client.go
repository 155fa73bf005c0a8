package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://slack.com/api"
	// maxAttempts caps the retry envelope: one initial call plus up to
	// three retries (1s, 2s, 4s backoff unless Retry-After says otherwise).
	maxAttempts = 4
)

// Client is a Web API client for one bot token. All calls go through the
// relay's retry envelope; message writes are additionally paced by a rate
// limiter.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	backoffBase time.Duration
	sleep       func(context.Context, time.Duration) error
	retryHook   func(method string, delay time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithPostRate changes the pacing applied to message writes.
func WithPostRate(limit rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, burst) }
}

// WithRetryHook registers fn to run before each retry sleep, typically to
// feed a counter.
func WithRetryHook(fn func(method string, delay time.Duration)) Option {
	return func(c *Client) { c.retryHook = fn }
}

// NewClient returns a client for the given bot token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:       token,
		baseURL:     defaultBaseURL,
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(1), 3),
		backoffBase: time.Second,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call runs one API method through the retry envelope, decoding the response
// into out when non-nil.
func (c *Client) call(ctx context.Context, method string, params url.Values, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := c.callOnce(ctx, method, params, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			// Transport failures are not part of the retry envelope.
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		var delay time.Duration
		switch {
		case apiErr.RetryAfter > 0:
			delay = apiErr.RetryAfter
		case apiErr.Retryable():
			delay = c.backoffBase << attempt
		default:
			return err
		}
		if c.retryHook != nil {
			c.retryHook(method, delay)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func (c *Client) callOnce(ctx context.Context, method string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var envelope struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			// Hard rate limits can come back without a JSON body.
			return &APIError{Method: method, StatusCode: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header)}
		}
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !envelope.OK {
		return &APIError{
			Method:     method,
			Code:       envelope.Error,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
		}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: decode payload: %w", method, err)
		}
	}
	return nil
}

// AuthTest identifies the token's bot user.
func (c *Client) AuthTest(ctx context.Context) (*AuthIdentity, error) {
	var id AuthIdentity
	if err := c.call(ctx, "auth.test", url.Values{}, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// PostMessage posts to a channel and returns the new message ts.
func (c *Client) PostMessage(ctx context.Context, p PostMessageParams) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("channel", p.Channel)
	params.Set("text", p.Text)
	if p.ThreadTS != "" {
		params.Set("thread_ts", p.ThreadTS)
	}
	if p.Attachments != "" {
		params.Set("attachments", p.Attachments)
	}

	var resp struct {
		TS string `json:"ts"`
	}
	if err := c.call(ctx, "chat.postMessage", params, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}

// UpdateMessage rewrites the text of a previously posted message.
func (c *Client) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("channel", channel)
	params.Set("ts", ts)
	params.Set("text", text)
	return c.call(ctx, "chat.update", params, nil)
}

// ConversationInfo fetches channel metadata.
func (c *Client) ConversationInfo(ctx context.Context, channelID string) (*Channel, error) {
	params := url.Values{}
	params.Set("channel", channelID)

	var resp struct {
		Channel Channel `json:"channel"`
	}
	if err := c.call(ctx, "conversations.info", params, &resp); err != nil {
		return nil, err
	}
	return &resp.Channel, nil
}

// ConversationHistory reads messages from a channel.
func (c *Client) ConversationHistory(ctx context.Context, p HistoryParams) ([]HistoryMessage, error) {
	params := url.Values{}
	params.Set("channel", p.Channel)
	if p.Latest != "" {
		params.Set("latest", p.Latest)
	}
	if p.Limit > 0 {
		params.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Inclusive {
		params.Set("inclusive", "true")
	}

	var resp struct {
		Messages []HistoryMessage `json:"messages"`
	}
	if err := c.call(ctx, "conversations.history", params, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ListConversations returns one page of channels plus the next cursor, empty
// when the listing is complete.
func (c *Client) ListConversations(ctx context.Context, p ListParams) ([]Channel, string, error) {
	params := url.Values{}
	if p.Types != "" {
		params.Set("types", p.Types)
	}
	if p.Limit > 0 {
		params.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Cursor != "" {
		params.Set("cursor", p.Cursor)
	}

	var resp struct {
		Channels         []Channel `json:"channels"`
		ResponseMetadata struct {
			NextCursor string `json:"next_cursor"`
		} `json:"response_metadata"`
	}
	if err := c.call(ctx, "conversations.list", params, &resp); err != nil {
		return nil, "", err
	}
	return resp.Channels, resp.ResponseMetadata.NextCursor, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
