// Package counsel streams answers from the hosted AI career counsellor.
//
// A Call posts one query and yields the decoded response text chunk by chunk.
// An Accumulator decides after every chunk whether the text so far is prose or a
// complete JSON recommendation, and a Guard bounds the whole exchange in time and
// lets the caller abort it.
package counsel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 64 << 10

// errStopped marks a stream abandoned by its consumer.
var errStopped = errors.New("counsel: consumer stopped reading")

// Request is the body posted to the counselling endpoint.
type Request struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// Callbacks receive a call's output. OnError fires at most once, OnEnd exactly once and last.
type Callbacks struct {
	OnChunk func(chunk string)
	OnError func(err error)
	OnEnd   func()
}

// ClientConfig holds configuration for the counselling client.
type ClientConfig struct {
	Endpoint   string
	Timeout    time.Duration
	Streaming  bool
	ReadBuffer int
	Headers    http.Header
}

// DefaultClientConfig returns a streaming configuration for endpoint.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:   endpoint,
		Timeout:    DefaultCounselTimeout,
		Streaming:  true,
		ReadBuffer: 4096,
	}
}

// Client opens counselling calls against one endpoint.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client. A nil httpClient gets a client without a cookie
// jar, so requests never carry credentials; deadlines come from each call's Guard.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCounselTimeout
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Endpoint returns the URL calls are posted to.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint
}

// CallOption customises a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout  time.Duration
	headers  http.Header
	buffered bool
}

// WithTimeout overrides the client's deadline for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithHeader adds an extra request header.
func WithHeader(key, value string) CallOption {
	return func(o *callOptions) {
		if o.headers == nil {
			o.headers = make(http.Header)
		}
		o.headers.Add(key, value)
	}
}

// WithBuffered reads the whole response before delivering it as one chunk.
func WithBuffered() CallOption {
	return func(o *callOptions) { o.buffered = true }
}

// Open prepares a call. Nothing is sent until Chunks or Run is used.
func (c *Client) Open(req Request, opts ...CallOption) *Call {
	o := callOptions{timeout: c.cfg.Timeout, buffered: !c.cfg.Streaming}
	for _, opt := range opts {
		opt(&o)
	}
	return &Call{client: c, req: req, opts: o, guard: NewGuard(o.timeout)}
}

// Call is one counselling request. It is single-use.
type Call struct {
	client *Client
	req    Request
	opts   callOptions
	guard  *Guard
}

// Cancel aborts the call. Pending reads return promptly and no further chunks are delivered.
func (c *Call) Cancel() {
	c.guard.Cancel()
}

// State returns the call's guard state.
func (c *Call) State() State {
	return c.guard.State()
}

// Chunks sends the request and yields decoded text chunks in receipt order.
// A failure is yielded once, as the last element, with an empty chunk.
// Breaking out of the loop cancels the call.
func (c *Call) Chunks(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, err := c.guard.Start(ctx)
		if err != nil {
			yield("", err)
			return
		}

		final := c.stream(ctx, yield)
		state := c.guard.Finish(final)
		if final != nil && !errors.Is(final, errStopped) {
			c.client.logger.Debug("Counsel stream ended with error", "session_id", c.req.SessionID, "state", state.String(), "error", final)
			yield("", final)
		}
	}
}

// Run drives the call through callbacks and returns the guard's final state.
func (c *Call) Run(ctx context.Context, cb Callbacks) State {
	var streamErr error
	for chunk, err := range c.Chunks(ctx) {
		if err != nil {
			streamErr = err
			break
		}
		if cb.OnChunk != nil {
			cb.OnChunk(chunk)
		}
	}
	if streamErr != nil && cb.OnError != nil {
		cb.OnError(streamErr)
	}
	if cb.OnEnd != nil {
		cb.OnEnd()
	}
	return c.guard.State()
}

func (c *Call) stream(ctx context.Context, yield func(string, error) bool) error {
	resp, err := c.send(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.client.logger.Debug("Failed to close counsel response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.client.logger.Warn("Counsel endpoint returned error status", "status", resp.StatusCode, "session_id", c.req.SessionID)
		return &RemoteError{Kind: KindHTTP, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var dec utf8Decoder
	emit := func(text string) error {
		if text == "" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return c.guard.Err(err)
		}
		if !yield(text, nil) {
			c.guard.Cancel()
			return errStopped
		}
		return nil
	}

	if c.opts.buffered {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return c.guard.Err(&RemoteError{Kind: KindTransport, Err: fmt.Errorf("read response body: %w", err)})
		}
		text, err := dec.Decode(body)
		if err != nil {
			return err
		}
		if err := dec.Flush(); err != nil {
			return err
		}
		return emit(text)
	}

	buf := make([]byte, c.client.cfg.ReadBuffer)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			text, err := dec.Decode(buf[:n])
			if err != nil {
				return err
			}
			if err := emit(text); err != nil {
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			return dec.Flush()
		}
		if readErr != nil {
			return c.guard.Err(&RemoteError{Kind: KindTransport, Err: fmt.Errorf("read response stream: %w", readErr)})
		}
	}
}

func (c *Call) send(ctx context.Context) (*http.Response, error) {
	body, err := json.Marshal(c.req)
	if err != nil {
		return nil, fmt.Errorf("encode counsel request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.client.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build counsel request: %w", err)
	}
	for key, values := range c.client.cfg.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	for key, values := range c.opts.headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/plain")

	resp, err := c.client.http.Do(httpReq)
	if err != nil {
		return nil, c.guard.Err(&RemoteError{Kind: KindTransport, Err: err})
	}
	return resp, nil
}
