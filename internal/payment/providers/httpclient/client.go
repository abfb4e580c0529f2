package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Config controls the per-provider HTTP client and circuit breaker.
type Config struct {
	Timeout             time.Duration
	MaxHalfOpenRequests uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

func DefaultConfig() Config {
	return Config{
		Timeout:             15 * time.Second,
		MaxHalfOpenRequests: 1,
		Interval:            time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.MaxHalfOpenRequests == 0 {
		c.MaxHalfOpenRequests = defaults.MaxHalfOpenRequests
	}
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaults.OpenTimeout
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	return c
}

// Request describes one vendor call.
type Request struct {
	Method    string
	URL       string
	Header    http.Header
	JSON      any
	Form      url.Values
	BasicUser string
	BasicPass string
	Bearer    string
}

// Response is a fully read vendor response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Map decodes the body into an untyped bag for audit; failures yield nil.
func (r *Response) Map() map[string]any {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(r.Body, &out); err != nil {
		return map[string]any{"body": string(r.Body)}
	}
	return out
}

// Client wraps vendor HTTP calls in a circuit breaker and a client span.
type Client struct {
	provider domain.ProviderID
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	tracer   trace.Tracer
	log      *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func New(provider domain.ProviderID, cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		provider: provider,
		http:     &http.Client{Timeout: cfg.Timeout},
		tracer:   otel.Tracer("paygate/providers"),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("providers.http").With(zap.String("provider", provider.String()))

	failures := cfg.ConsecutiveFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-provider-" + provider.String(),
		MaxRequests: cfg.MaxHalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// errServerStatus marks a 5xx response as a breaker failure while keeping the body.
type errServerStatus struct {
	resp *Response
}

func (e *errServerStatus) Error() string {
	return fmt.Sprintf("vendor returned status %d", e.resp.StatusCode)
}

// Do executes req. Network failures, timeouts, open circuits and 5xx answers
// are returned as transport errors; 4xx answers as vendor errors. The response
// is returned whenever the vendor answered.
func (c *Client) Do(ctx context.Context, op string, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "provider."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", c.provider.String()),
		attribute.String("http.method", req.Method),
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, req)
	})

	var resp *Response
	if result != nil {
		resp, _ = result.(*Response)
	}

	if err != nil {
		var serverErr *errServerStatus
		if errors.As(err, &serverErr) {
			resp = serverErr.resp
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return resp, domain.TransportError(c.provider, op, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, "vendor error")
		return resp, domain.VendorError(c.provider, op, vendorMessage(resp))
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Bearer)
	}
	if req.BasicUser != "" || req.BasicPass != "" {
		httpReq.SetBasicAuth(req.BasicUser, req.BasicPass)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       payload,
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &errServerStatus{resp: resp}
	}
	return resp, nil
}

func vendorMessage(resp *Response) string {
	bag := resp.Map()
	for _, key := range []string{"message", "error_description", "error", "detail"} {
		if value, ok := bag[key]; ok {
			switch cast := value.(type) {
			case string:
				if strings.TrimSpace(cast) != "" {
					return cast
				}
			case map[string]any:
				if msg, ok := cast["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}
	return fmt.Sprintf("vendor returned status %d", resp.StatusCode)
}

// JoinURL appends path to base, tolerating duplicate slashes.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
