package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/texican/chess-tracker/internal/httpapi"
	"github.com/texican/chess-tracker/internal/service/sessions"
	"github.com/valyala/fasthttp"
)

// StatusError is a non-2xx answer from the tracker.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracker api error: status=%d body=%s", e.Status, truncate(e.Body, 512))
}

// Client talks to a running tracker over its HTTP API.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithHTTPClient swaps the underlying fasthttp client, e.g. to dial an in-memory listener.
func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts a match. Submissions are not idempotent, so they are never retried.
func (c *Client) Submit(ctx context.Context, in sessions.MatchInput) (*httpapi.SubmitView, error) {
	var out httpapi.SubmitView
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/matches", in, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Sessions(ctx context.Context) ([]httpapi.SessionView, error) {
	var out []httpapi.SessionView
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/sessions", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SessionPlayers(ctx context.Context, sessionID string) ([]httpapi.PlayerView, error) {
	var out []httpapi.PlayerView
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/sessions/"+sessionID+"/players", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// Recompute rebuilds one session; recomputation is idempotent and safe to retry.
func (c *Client) Recompute(ctx context.Context, sessionID string) (*httpapi.ReconcileView, error) {
	var out httpapi.ReconcileView
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/sessions/"+sessionID+"/recompute", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RecomputeAll(ctx context.Context) (*httpapi.BulkView, error) {
	var out httpapi.BulkView
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/sessions/recompute", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMatch(ctx context.Context, row int) (*httpapi.ReconcileView, error) {
	var out httpapi.ReconcileView
	if err := c.doJSON(ctx, fasthttp.MethodDelete, "/api/matches/"+strconv.Itoa(row), nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			lastErr = &StatusError{Status: status, Body: string(resp.Body())}
			if !shouldRetryStatus(status) {
				return lastErr
			}
		} else {
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// 100ms, 200ms, 400ms ... capped at 3.2s
func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case fasthttp.StatusInternalServerError, fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable, fasthttp.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
