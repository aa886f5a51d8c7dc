// Package ifood is the HTTP client for the iFood merchant events API.
package ifood

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	pollPath = "/events/v1.0/events:polling"
	ackPath  = "/events/v1.0/events/acknowledgment"

	// MaxAckBatch 上游单次确认的事件数上限
	MaxAckBatch = 2000

	maxResponseBody = 4 * 1024 * 1024
)

// Config for the upstream client.
type Config struct {
	BaseURL     string
	EventTypes  []string
	Categories  string
	ProxyURL    string
	UserAgent   string
	PollTimeout time.Duration
	AckTimeout  time.Duration
}

// Option customizes the underlying fasthttp client.
type Option func(*fasthttp.Client)

// WithDial replaces the dialer, used by tests with an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *fasthttp.Client) { c.Dial = dial }
}

// Client talks to the events API. Safe for concurrent use.
type Client struct {
	http     *fasthttp.Client
	pollURL  string
	ackURL   string
	ua       string
	pollWait time.Duration
	ackWait  time.Duration
}

// NewClient builds the client; a proxy_url with socks5:// or http:// is honored.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("ifood base url is empty")
	}

	q := url.Values{}
	if len(cfg.EventTypes) > 0 {
		q.Set("types", strings.Join(cfg.EventTypes, ","))
	}
	if cfg.Categories != "" {
		q.Set("categories", cfg.Categories)
	}
	pollURL := base + pollPath
	if enc := q.Encode(); enc != "" {
		// url.Values 会转义逗号，上游要求原样
		pollURL += "?" + strings.ReplaceAll(enc, "%2C", ",")
	}

	hc := &fasthttp.Client{
		Name:                     "OrderRelay",
		MaxConnsPerHost:          256,
		MaxIdleConnDuration:      90 * time.Second,
		MaxResponseBodySize:      maxResponseBody,
		NoDefaultUserAgentHeader: true,
	}
	if cfg.ProxyURL != "" {
		dial, err := proxyDialer(cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
		hc.Dial = dial
	}
	for _, opt := range opts {
		opt(hc)
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = "OrderRelay/1.0"
	}
	return &Client{
		http:     hc,
		pollURL:  pollURL,
		ackURL:   base + ackPath,
		ua:       ua,
		pollWait: orDefault(cfg.PollTimeout, 10*time.Second),
		ackWait:  orDefault(cfg.AckTimeout, 10*time.Second),
	}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// PollResult is the outcome of one GET events:polling call.
type PollResult struct {
	Events     []Event
	StatusCode int
	Latency    time.Duration
	// Rejected counts entries without a usable id
	Rejected int
}

// Poll fetches new events for the merchant set.
// 204 and an empty body both mean "no events".
func (c *Client) Poll(ctx context.Context, token string, merchantIDs []string) (*PollResult, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.pollURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	c.setCommonHeaders(req, token)
	req.Header.Set("x-polling-merchants", strings.Join(merchantIDs, ","))

	latency, err := c.do(ctx, req, resp, c.pollWait, "poll")
	result := &PollResult{Latency: latency}
	if err != nil {
		return result, err
	}
	result.StatusCode = resp.StatusCode()

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNoContent:
		return result, nil
	default:
		return result, newAPIError("poll", resp)
	}

	events, rejected, err := DecodeEvents(resp.Body())
	if err != nil {
		return result, fmt.Errorf("poll: decode response: %w", err)
	}
	result.Events = events
	result.Rejected = rejected
	return result, nil
}

// AckResult is the outcome of one acknowledgment POST.
type AckResult struct {
	StatusCode int
	Latency    time.Duration
	// Failed maps event id → upstream reason for ids the upstream rejected
	Failed map[string]string
	Raw    string
}

type ackItem struct {
	ID string `json:"id"`
}

// Acknowledge confirms receipt of up to MaxAckBatch events.
func (c *Client) Acknowledge(ctx context.Context, token string, ids []string) (*AckResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("acknowledge: no event ids")
	}
	if len(ids) > MaxAckBatch {
		return nil, fmt.Errorf("acknowledge: %d ids exceeds limit %d", len(ids), MaxAckBatch)
	}

	items := make([]ackItem, len(ids))
	for i, id := range ids {
		items[i] = ackItem{ID: id}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("acknowledge: marshal: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.ackURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	c.setCommonHeaders(req, token)
	req.SetBody(body)

	latency, err := c.do(ctx, req, resp, c.ackWait, "acknowledge")
	result := &AckResult{Latency: latency}
	if err != nil {
		return result, err
	}
	result.StatusCode = resp.StatusCode()

	result.Raw = truncate(string(resp.Body()), 2048)
	if resp.StatusCode() != fasthttp.StatusOK && resp.StatusCode() != fasthttp.StatusAccepted {
		return result, newAPIError("acknowledge", resp)
	}
	result.Failed = decodeAckFailures(resp.Body())
	return result, nil
}

func (c *Client) setCommonHeaders(req *fasthttp.Request, token string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Cache-Control", "no-cache")
}

// do runs the request with the earlier of ctx's deadline and now+timeout.
func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration, endpoint string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, &TransportError{Endpoint: endpoint, Err: err}
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	err := c.http.DoDeadline(req, resp, deadline)
	latency := time.Since(start)
	if err != nil {
		return latency, &TransportError{Endpoint: endpoint, Err: err}
	}
	return latency, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
