package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/scripe/tweetsync/pkg/config"
	"github.com/scripe/tweetsync/pkg/logging"
	"github.com/scripe/tweetsync/pkg/telemetry"
)

const maxBodyBytes = 16 << 20

// Page is one page of posts or replies.
type Page struct {
	Records           []Record
	ContinuationToken string
}

var (
	recordKeys = []string{"results", "tweets", "replies", "data"}
	tokenKeys  = []string{"continuation_token", "cursor", "next_cursor"}
)

// Client calls the content API. Every request goes through the Scheduler.
type Client struct {
	baseURL    string
	apiKey     string
	host       string
	keyHeader  string
	hostHeader string

	scheduler  *Scheduler
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a content API client. A nil httpClient uses
// http.DefaultClient.
func NewClient(cfg *config.UpstreamConfig, scheduler *Scheduler, httpClient *http.Client) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("upstream url is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("request scheduler is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		host:       cfg.Host,
		keyHeader:  cfg.KeyHeader,
		hostHeader: cfg.HostHeader,
		scheduler:  scheduler,
		httpClient: httpClient,
		logger:     logging.WithComponent("upstream-client"),
	}
	if c.keyHeader == "" {
		c.keyHeader = "X-RapidAPI-Key"
	}
	if c.hostHeader == "" {
		c.hostHeader = "X-RapidAPI-Host"
	}
	if c.host == "" {
		if u, err := url.Parse(c.baseURL); err == nil {
			c.host = u.Host
		}
	}

	c.logger.Info("Upstream client initialized", zap.String("url", c.baseURL))
	return c, nil
}

// UserID resolves a handle to the provider's user id.
func (c *Client) UserID(ctx context.Context, handle string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "upstream.user_details")
	defer span.End()
	span.SetAttributes(attribute.String("handle", handle))

	payload, err := c.get(ctx, "/user/details", url.Values{"username": {handle}})
	if err != nil {
		return "", fmt.Errorf("failed to get user details for %s: %w", handle, err)
	}

	rec, ok := asMap(payload)
	if !ok {
		return "", fmt.Errorf("%w: user details is not an object", ErrMalformedResponse)
	}
	id := Record(rec).String("user_id", "id_str", "rest_id", "id", "data.user_id")
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, handle)
	}
	return id, nil
}

// Timeline fetches the first page of a user's own posts.
func (c *Client) Timeline(ctx context.Context, handle, userID string, limit int) (*Page, error) {
	ctx, span := telemetry.StartSpan(ctx, "upstream.user_tweets")
	defer span.End()
	span.SetAttributes(attribute.String("handle", handle), attribute.Int("limit", limit))

	q := timelineQuery(handle, userID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	payload, err := c.get(ctx, "/user/tweets", q)
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline for %s: %w", handle, err)
	}
	return decodePage(payload)
}

// TimelineContinuation fetches the timeline page behind token.
func (c *Client) TimelineContinuation(ctx context.Context, handle, userID, token string) (*Page, error) {
	ctx, span := telemetry.StartSpan(ctx, "upstream.user_tweets_continuation")
	defer span.End()
	span.SetAttributes(attribute.String("handle", handle))

	q := timelineQuery(handle, userID)
	q.Set("continuation_token", token)
	payload, err := c.get(ctx, "/user/tweets/continuation", q)
	if err != nil {
		return nil, fmt.Errorf("failed to continue timeline for %s: %w", handle, err)
	}
	return decodePage(payload)
}

// Replies fetches the first page of replies to a post.
func (c *Client) Replies(ctx context.Context, postID string) (*Page, error) {
	ctx, span := telemetry.StartSpan(ctx, "upstream.tweet_replies")
	defer span.End()
	span.SetAttributes(attribute.String("post_id", postID))

	payload, err := c.get(ctx, "/tweet/replies", url.Values{"tweet_id": {postID}})
	if err != nil {
		return nil, fmt.Errorf("failed to get replies for %s: %w", postID, err)
	}
	return decodePage(payload)
}

// RepliesContinuation fetches the reply page behind token.
func (c *Client) RepliesContinuation(ctx context.Context, postID, token string) (*Page, error) {
	ctx, span := telemetry.StartSpan(ctx, "upstream.tweet_replies_continuation")
	defer span.End()
	span.SetAttributes(attribute.String("post_id", postID))

	q := url.Values{"tweet_id": {postID}, "continuation_token": {token}}
	payload, err := c.get(ctx, "/tweet/replies/continuation", q)
	if err != nil {
		return nil, fmt.Errorf("failed to continue replies for %s: %w", postID, err)
	}
	return decodePage(payload)
}

func timelineQuery(handle, userID string) url.Values {
	q := url.Values{
		"username":        {handle},
		"include_replies": {"false"},
		"include_pinned":  {"false"},
	}
	if userID != "" {
		q.Set("user_id", userID)
	}
	return q
}

// get submits one GET to the scheduler. The full URL is the failure cache key.
func (c *Client) get(ctx context.Context, path string, query url.Values) (interface{}, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	resp, err := c.scheduler.Submit(ctx, target, func(ctx context.Context) (*Response, error) {
		return c.do(ctx, target)
	})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (c *Client) do(ctx context.Context, target string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.keyHeader, c.apiKey)
	}
	if c.host != "" {
		req.Header.Set(c.hostHeader, c.host)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp.Payload); err != nil {
		c.logger.Warn("Malformed upstream response", zap.String("url", target), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return resp, nil
}

// decodePage accepts a bare array or an object carrying the records under
// one of several keys.
func decodePage(payload interface{}) (*Page, error) {
	page := &Page{}

	switch v := payload.(type) {
	case []interface{}:
		page.Records = toRecords(v)
		return page, nil
	case map[string]interface{}:
		rec := Record(v)
		for _, key := range recordKeys {
			if list, ok := rec[key].([]interface{}); ok {
				page.Records = toRecords(list)
				break
			}
		}
		page.ContinuationToken = rec.String(tokenKeys...)
		return page, nil
	}

	return nil, fmt.Errorf("%w: unexpected page payload %T", ErrMalformedResponse, payload)
}

func toRecords(list []interface{}) []Record {
	out := make([]Record, 0, len(list))
	for _, item := range list {
		if m, ok := asMap(item); ok {
			out = append(out, Record(m))
		}
	}
	return out
}
