// Package transport performs anchor calls and reports their failures as
// classify signals.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/vietddude/anchorgate/internal/resilience/classify"
)

// RequestIDHeader carries a per-attempt request id to the anchor.
const RequestIDHeader = "X-Request-ID"

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 64 << 10

// Request describes one HTTP call relative to the anchor base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is JSON-encoded when non-nil.
	Body any
}

// Response is a successful (2xx) anchor response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
	// RateLimit holds quota hints sent with the success, if any.
	RateLimit *classify.RateLimitInfo
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// HTTPTransport calls one anchor over HTTP.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	clock      clockwork.Clock
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.httpClient = c
	}
}

// WithClock sets the clock used to resolve HTTP-date hints.
func WithClock(c clockwork.Clock) HTTPOption {
	return func(t *HTTPTransport) {
		t.clock = c
	}
}

// NewHTTPTransport creates a transport for baseURL. timeout bounds each
// attempt; zero means no per-attempt timeout.
func NewHTTPTransport(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BaseURL returns the anchor base URL.
func (t *HTTPTransport) BaseURL() string {
	return t.baseURL
}

// Do performs req. Any non-2xx response or network failure is returned as an
// error wrapping a *classify.Signal.
func (t *HTTPTransport) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := t.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	requestID := httpReq.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		httpReq.Header.Set(RequestIDHeader, requestID)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, networkSignal(err)
	}
	defer resp.Body.Close()

	now := t.clock.Now()
	hints := ParseRateLimitHeaders(resp.Header, now)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusSignal(resp.StatusCode, data, hints)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkSignal(fmt.Errorf("read response: %w", err))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		RequestID:  requestID,
		RateLimit:  hints,
	}, nil
}

// errorBody is the common shape of anchor error responses.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// anchorCode extracts the anchor error code from a JSON error body.
func anchorCode(data []byte) string {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		return ""
	}
	if eb.Code != "" {
		return eb.Code
	}
	return eb.Error
}

// statusSignal builds the failure signal for a non-2xx response. An anchor
// code in the body wins over a generic 4xx status. 401, 408, 429 and 5xx keep
// their HTTP meaning.
// isCompliance reports whether an anchor code rejects the request on
// compliance grounds. Those keep their meaning even on a 403.
func isCompliance(code string) bool {
	return classify.ClassifySignal(classify.AnchorError(code)).Code == classify.CodeProtocolComplianceViolation
}

func statusSignal(status int, body []byte, hints *classify.RateLimitInfo) error {
	var sig *classify.Signal

	code := anchorCode(body)
	switch {
	case code != "" && status == http.StatusForbidden && isCompliance(code):
		sig = classify.AnchorError(code)
		sig.Status = status
	case code != "" && status >= 400 && status < 500 &&
		status != http.StatusUnauthorized &&
		status != http.StatusForbidden &&
		status != http.StatusRequestTimeout &&
		status != http.StatusTooManyRequests:
		sig = classify.AnchorError(code)
		sig.Status = status
	default:
		sig = classify.HTTPStatus(status)
		sig.Code = code
	}

	if hints != nil {
		sig = sig.WithRateLimit(hints)
	}
	return sig
}

func networkSignal(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return classify.NetworkError("timeout").Wrap(err)
	}
	return classify.NetworkError("connection failed").Wrap(err)
}
