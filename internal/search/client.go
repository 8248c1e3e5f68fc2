// Package search passes job, course and scholarship searches and resume analysis
// through to their hosted collaborators.
package search

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/careerflow/internal/counsel"
	"github.com/ashureev/careerflow/internal/observability"
	"golang.org/x/sync/singleflight"
)

// Kind selects a search collaborator.
type Kind string

const (
	KindJobs         Kind = "jobs"
	KindCourses      Kind = "courses"
	KindScholarships Kind = "scholarships"
)

const (
	maxResponseBody = 2 << 20
	resumeLabel     = "resume"
	cachePrefix     = "careerflow:search:"
)

var (
	// ErrUnknownKind is returned for a kind that has no collaborator.
	ErrUnknownKind = errors.New("search: unknown kind")
	// ErrNotConfigured is returned when the collaborator's URL is not set.
	ErrNotConfigured = errors.New("search: collaborator not configured")
	// ErrInvalidResponse is returned when a collaborator answers with something other than JSON.
	ErrInvalidResponse = errors.New("search: collaborator returned invalid JSON")
)

// ParseKind validates a kind taken from a request path.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindJobs, KindCourses, KindScholarships:
		return k, nil
	default:
		return "", ErrUnknownKind
	}
}

// Query is the body forwarded to a search collaborator.
type Query struct {
	Query    string `json:"query"`
	Location string `json:"location,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Config holds collaborator endpoints and limits.
type Config struct {
	Endpoints map[Kind]string
	ResumeURL string
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// Client calls the search collaborators.
type Client struct {
	cfg     Config
	http    *http.Client
	cache   Cache
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient creates a client. cache and metrics may be nil.
func NewClient(cfg Config, httpClient *http.Client, cache Cache, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = counsel.DefaultSimpleTimeout
	}
	return &Client{cfg: cfg, http: httpClient, cache: cache, metrics: metrics, logger: logger}
}

// Search forwards q to the collaborator for kind and returns its JSON answer as is.
func (c *Client) Search(ctx context.Context, kind Kind, q Query) (json.RawMessage, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	endpoint := c.cfg.Endpoints[kind]
	if endpoint == "" {
		return nil, ErrNotConfigured
	}

	key := cacheKey(kind, q)
	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("Search cache read failed", "kind", kind, "error", err)
		} else if ok {
			c.metrics.SearchCacheHit(string(kind))
			return cached, nil
		}
	}

	// The shared fetch outlives any one caller; its own guard still bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		body, err := json.Marshal(q)
		if err != nil {
			return nil, fmt.Errorf("encode search query: %w", err)
		}
		result, err := c.do(fetchCtx, string(kind), func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			return req, nil
		})
		if err != nil {
			return nil, err
		}

		if c.cache != nil && c.cfg.CacheTTL > 0 {
			if err := c.cache.Set(fetchCtx, key, result, c.cfg.CacheTTL); err != nil {
				c.logger.Warn("Search cache write failed", "kind", kind, "error", err)
			}
		}
		return result, nil
	})

	select {
	case <-ctx.Done():
		return nil, counsel.ErrCancelled
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("Search request shared with concurrent caller", "kind", kind)
		}
		return res.Val.(json.RawMessage), nil
	}
}

// AnalyzeResume uploads a resume file to the analysis collaborator.
func (c *Client) AnalyzeResume(ctx context.Context, filename string, file io.Reader) (json.RawMessage, error) {
	if c.cfg.ResumeURL == "" {
		return nil, ErrNotConfigured
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy resume: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	return c.do(ctx, resumeLabel, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ResumeURL, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	})
}

// do runs one guarded request/response exchange.
func (c *Client) do(ctx context.Context, label string, build func(context.Context) (*http.Request, error)) (result json.RawMessage, err error) {
	guard := counsel.NewGuard(c.cfg.Timeout)
	ctx, err = guard.Start(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		state := guard.Finish(err)
		c.metrics.SearchCompleted(label, outcome(state))
		c.logger.Debug("Collaborator request finished", "kind", label, "state", state.String(), "duration", time.Since(start))
	}()

	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", label, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, guard.Err(&counsel.RemoteError{Kind: counsel.KindTransport, Err: err})
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close collaborator response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, guard.Err(&counsel.RemoteError{Kind: counsel.KindTransport, Err: err})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Collaborator returned error status", "kind", label, "status", resp.StatusCode)
		return nil, &counsel.RemoteError{Kind: counsel.KindHTTP, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if !json.Valid(body) {
		return nil, ErrInvalidResponse
	}
	return json.RawMessage(body), nil
}

func cacheKey(kind Kind, q Query) string {
	normalized := Query{
		Query:    strings.ToLower(strings.TrimSpace(q.Query)),
		Location: strings.ToLower(strings.TrimSpace(q.Location)),
		Limit:    q.Limit,
	}
	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return cachePrefix + string(kind) + ":" + hex.EncodeToString(sum[:])
}

func outcome(state counsel.State) string {
	switch state {
	case counsel.StateCompleted:
		return "ok"
	case counsel.StateTimedOut:
		return "timeout"
	case counsel.StateCancelled:
		return "cancelled"
	default:
		return "error"
	}
}
