package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const defaultUserAgent = "relayq/0.1.0-dev"

// ErrTooManyRedirects is returned when an endpoint redirects more than
// once. Endpoints are expected to be stable URLs, not redirect chains.
var ErrTooManyRedirects = errors.New("stopped after 1 redirect")

// Sender delivers signed webhook requests over HTTP.
type Sender struct {
	client      *http.Client
	userAgent   string
	maxSnapshot int64
}

// SenderOptions configures a Sender. Zero values get library defaults.
type SenderOptions struct {
	// Timeout covers the whole request including body read.
	Timeout time.Duration
	// MaxSnapshotBytes caps how much of the request and response bodies
	// is retained for delivery history.
	MaxSnapshotBytes int64
	UserAgent        string
}

// NewSender creates a Sender. At most one redirect is followed.
func NewSender(opts SenderOptions) *Sender {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxSnapshot := opts.MaxSnapshotBytes
	if maxSnapshot <= 0 {
		maxSnapshot = 64 * 1024
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Sender{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 1 {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		userAgent:   userAgent,
		maxSnapshot: maxSnapshot,
	}
}

// Request is one outbound delivery.
type Request struct {
	URL    string
	Secret string
	Body   []byte
	// Headers are subscriber-supplied custom headers. Reserved headers
	// silently win over them.
	Headers map[string]string
}

// Response records the outcome of a send. Success means a 2xx status.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	// SentHeaders is what actually went out, for delivery history.
	SentHeaders map[string]string
	Duration    time.Duration
	Err         error
}

// Success reports whether the endpoint acknowledged the delivery.
func (r *Response) Success() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrorMessage renders a failure for the delivery record, empty on
// success.
func (r *Response) ErrorMessage() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		return fmt.Sprintf("endpoint returned status %d", r.StatusCode)
	}
	return ""
}

// Send signs and posts a delivery. Network failures come back inside
// the Response rather than as an error so the caller records them the
// same way as HTTP failures; only programmer errors return err.
func (s *Sender) Send(ctx context.Context, req Request) (*Response, error) {
	now := time.Now().UTC()
	signature := Sign(req.Secret, now, req.Body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	// Reserved headers are set last so custom headers cannot shadow
	// them.
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", s.userAgent)
	httpReq.Header.Set(HeaderSignature, signature)
	httpReq.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))

	sentHeaders := make(map[string]string, len(httpReq.Header))
	for k := range httpReq.Header {
		sentHeaders[k] = httpReq.Header.Get(k)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		return &Response{
			SentHeaders: sentHeaders,
			Duration:    duration,
			Err:         err,
		}, nil
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, s.maxSnapshot))
	if readErr != nil {
		body = append(body, []byte("... (read error)")...)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Headers:     respHeaders,
		Body:        string(body),
		SentHeaders: sentHeaders,
		Duration:    duration,
	}, nil
}

// TruncateBody trims a request body snapshot to the configured cap.
func (s *Sender) TruncateBody(body []byte) string {
	if int64(len(body)) <= s.maxSnapshot {
		return string(body)
	}
	return string(body[:s.maxSnapshot]) + "... (truncated)"
}
