// Package apiclient talks to the clinic REST API on behalf of the signed-in
// actor. The actor's session travels in the request context; the transport
// attaches its bearer token and expires it when the API answers 401.
package apiclient

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
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/clinic-portal/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
	"github.com/jwalitptl/clinic-portal/pkg/metrics"
)

const DefaultBaseURL = "http://localhost:8000/api"

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type Client struct {
	baseURL  string
	http     *http.Client
	cache    Cache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	breaker  *circuitbreaker.CircuitBreaker
	logger   zerolog.Logger
}

type Option func(*Client)

// WithCache enables the doctor directory cache.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBreaker fails calls fast while the API keeps erroring. Network errors
// and 5xx answers count as failures.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithTransport replaces the network transport under the auth interceptor.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = newAuthTransport(rt) }
}

func New(cfg Config, opts ...Option) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	c := &Client{
		baseURL: base,
		http: &http.Client{
			Timeout:   timeout,
			Transport: newAuthTransport(http.DefaultTransport),
		},
		cacheTTL: ttl,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNop()
	}
	return c
}

// request describes one API call. route is the path template used for
// metrics, path the concrete one.
type request struct {
	method      string
	route       string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	cacheable   bool
}

func (c *Client) newRequest(method, route, path string) *request {
	return &request{method: method, route: route, path: path}
}

func (r *request) withQuery(q url.Values) *request {
	r.query = q
	return r
}

func (r *request) withJSON(v any) (*request, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	r.body = bytes.NewReader(b)
	r.contentType = "application/json"
	return r, nil
}

func (r *request) cached() *request {
	r.cacheable = r.method == http.MethodGet
	return r
}

func (c *Client) url(r *request) string {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	return u
}

// send performs the call and returns the raw body of a successful answer.
func (c *Client) send(ctx context.Context, r *request) ([]byte, error) {
	key := ""
	if r.cacheable && c.cache != nil {
		key = "apiclient:" + c.url(r)
		if b, ok := c.cache.Get(ctx, key); ok {
			c.metrics.CacheLookups.WithLabelValues("hit").Inc()
			return b, nil
		}
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	resp, err := c.open(ctx, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Network(fmt.Errorf("read %s %s: %w", r.method, r.route, err))
	}

	if key != "" {
		c.cache.Set(ctx, key, body, c.cacheTTL)
	}
	return body, nil
}

// open performs the call and hands back a successful response with its body
// unread. Failed answers are turned into errors here.
func (c *Client) open(ctx context.Context, r *request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, c.url(r), r.body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			c.metrics.UpstreamRequests.WithLabelValues(r.method, r.route, "rejected").Inc()
			return nil, apperrors.Network(fmt.Errorf("%s %s: %w", r.method, r.route, err))
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if c.breaker != nil {
		if ctx.Err() != nil {
			// The caller gave up; that says nothing about the API.
			c.breaker.Release()
		} else {
			c.breaker.Record(err == nil && resp.StatusCode < http.StatusInternalServerError)
		}
	}
	c.metrics.UpstreamLatency.WithLabelValues(r.method, r.route).Observe(elapsed.Seconds())

	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(r.method, r.route, "error").Inc()
		c.logger.Warn().Err(err).Str("method", r.method).Str("route", r.route).Msg("clinic API unreachable")
		return nil, apperrors.Network(err)
	}
	c.metrics.UpstreamRequests.WithLabelValues(r.method, r.route, strconv.Itoa(resp.StatusCode)).Inc()

	event := c.logger.Debug()
	if resp.StatusCode >= http.StatusInternalServerError {
		event = c.logger.Warn()
	}
	event.Str("method", r.method).
		Str("route", r.route).
		Int("status", resp.StatusCode).
		Dur("latency", elapsed).
		Msg("clinic API call")

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, parseError(resp.StatusCode, body)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, r *request, out any) error {
	body, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	return decode(body, out)
}

func decode(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Internal(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// envelope is the loose shape of every message-carrying answer.
type envelope struct {
	Message string                     `json:"message"`
	Msg     string                     `json:"msg"`
	Errors  map[string]json.RawMessage `json:"errors"`
}

func (e envelope) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Msg
}

func (e envelope) fields() map[string][]string {
	if len(e.Errors) == 0 {
		return nil
	}
	out := make(map[string][]string, len(e.Errors))
	for k, raw := range e.Errors {
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			out[k] = list
			continue
		}
		var one string
		if err := json.Unmarshal(raw, &one); err == nil {
			out[k] = []string{one}
		}
	}
	return out
}

func parseError(status int, body []byte) error {
	var env envelope
	_ = json.Unmarshal(body, &env)
	msg := env.text()

	switch status {
	case http.StatusUnauthorized:
		e := apperrors.Unauthorized(nil)
		if msg != "" {
			e.Message = msg
		}
		return e
	case http.StatusNotFound:
		e := apperrors.NotFound("Record", nil)
		e.Status = status
		if msg != "" {
			e.Message = msg
		}
		e.Fields = env.fields()
		return e
	}
	return apperrors.Rejected(status, msg, env.fields())
}

// bareMsg reports whether body is a {"msg": ...} object, which the API sends
// in place of an empty list or a missing record.
func bareMsg(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return "", false
	}
	raw, ok := probe["msg"]
	if !ok || len(probe) != 1 {
		return "", false
	}
	var msg string
	_ = json.Unmarshal(raw, &msg)
	return msg, true
}

func notFound(resource, msg string) error {
	e := apperrors.NotFound(resource, nil)
	e.Status = http.StatusNotFound
	if msg != "" {
		e.Message = msg
	}
	return e
}

func get[T any](ctx context.Context, c *Client, r *request) (T, error) {
	var out T
	err := c.do(ctx, r, &out)
	return out, err
}

// message runs a call whose answer only carries a message.
func (c *Client) message(ctx context.Context, r *request) (string, error) {
	var env envelope
	if err := c.do(ctx, r, &env); err != nil {
		return "", err
	}
	return env.text(), nil
}

func idPath(format string, id int64) string {
	return fmt.Sprintf(format, id)
}
