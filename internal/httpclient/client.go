package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"storefront-live/internal/logging"
)

const DefaultTimeout = 10 * time.Second

// Call describes one logical request. It is copied, never shared, so a replay
// can carry Retried=true without touching the caller's value.
type Call struct {
	Method  string
	Path    string
	Body    any
	Header  http.Header
	Retried bool
}

func (c Call) MarkRetried() Call {
	c.Retried = true
	return c
}

type CallOption func(*Call)

func WithHeader(key, value string) CallOption {
	return func(c *Call) {
		if c.Header == nil {
			c.Header = make(http.Header)
		}
		c.Header.Set(key, value)
	}
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// RequestHook runs right before a request hits the network.
type RequestHook func(req *http.Request, call Call) error

// ResponseHook sees the outcome of a call and may replace it.
type ResponseHook func(ctx context.Context, call Call, resp *Response, err error) (*Response, error)

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Jar       http.CookieJar
	Transport http.RoundTripper
	Logger    *slog.Logger
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger

	mu        sync.RWMutex
	onRequest []RequestHook
	onResp    []ResponseHook
}

func New(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	jar := opts.Jar
	if jar == nil {
		j, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		jar = j
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Jar:       jar,
			Transport: opts.Transport,
		},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logging.OrDiscard(opts.Logger),
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Jar() http.CookieJar { return c.httpClient.Jar }

func (c *Client) OnRequest(h RequestHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRequest = append(c.onRequest, h)
}

func (c *Client) OnResponse(h ResponseHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResp = append(c.onResp, h)
}

func (c *Client) Request(ctx context.Context, method, path string, body any, opts ...CallOption) (*Response, error) {
	call := Call{Method: method, Path: path, Body: body}
	for _, opt := range opts {
		opt(&call)
	}
	return c.Do(ctx, call)
}

func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.Request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return resp.Decode(result)
}

// Do sends the call and then runs every response hook in registration order.
func (c *Client) Do(ctx context.Context, call Call) (*Response, error) {
	c.mu.RLock()
	before := append([]RequestHook(nil), c.onRequest...)
	after := append([]ResponseHook(nil), c.onResp...)
	c.mu.RUnlock()

	resp, err := c.send(ctx, call, before)
	for _, h := range after {
		resp, err = h(ctx, call, resp, err)
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, call Call, hooks []RequestHook) (*Response, error) {
	var bodyReader io.Reader
	if call.Body != nil {
		data, err := json.Marshal(call.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, c.baseURL+call.Path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for _, h := range hooks {
		if err := h(req, call); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	raw, err := c.httpClient.Do(req)
	if err != nil {
		kind := KindNetwork
		if isTimeout(err) {
			kind = KindTimeout
		}
		c.logger.Debug("http request failed", "method", call.Method, "path", call.Path, "kind", kind, "err", err)
		return nil, &HTTPError{Kind: kind, Method: call.Method, Path: call.Path, Err: err}
	}
	defer raw.Body.Close()

	data, err := io.ReadAll(raw.Body)
	if err != nil {
		kind := KindNetwork
		if isTimeout(err) {
			kind = KindTimeout
		}
		return nil, &HTTPError{Kind: kind, Method: call.Method, Path: call.Path, Err: err}
	}
	resp := &Response{StatusCode: raw.StatusCode, Header: raw.Header, Body: data}
	c.logger.Debug("http request", "method", call.Method, "path", call.Path, "status", raw.StatusCode,
		"retried", call.Retried, "elapsed", time.Since(started))

	if raw.StatusCode < 200 || raw.StatusCode >= 300 {
		return resp, &HTTPError{Kind: KindStatus, Method: call.Method, Path: call.Path, StatusCode: raw.StatusCode, Body: data}
	}
	return resp, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
