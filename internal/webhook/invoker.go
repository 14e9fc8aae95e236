package webhook

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"
)

const maxBodyBytes = 1 << 20

// Policy bounds one Invoke call. Zero Timeout disables the
// per-attempt deadline; MaxAttempts below 1 is treated as 1.
type Policy struct {
	Timeout           time.Duration
	MaxAttempts       int
	BaseDelay         time.Duration
	RetryableStatuses []int
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(status int) bool {
	for _, s := range p.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Unbounded is the policy for long-form generation agents: a single
// attempt with no deadline beyond the transport's own limits.
var Unbounded = Policy{MaxAttempts: 1}

// Response is one successful raw agent reply, ready for
// normalization.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// MintFunc produces a fresh signed credential. It is called once per
// HTTP attempt so retries never present a stale token.
type MintFunc func() (string, error)

// Invoker performs authenticated webhook calls under a retry policy.
type Invoker struct {
	Client *http.Client
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Invoke POSTs body to endpoint, retrying transient failures with
// linear backoff. Classified errors follow the taxonomy in errors.go;
// credential-signing failure aborts immediately.
func (iv Invoker) Invoke(ctx context.Context, endpoint string, body []byte, mint MintFunc, policy Policy) (*Response, error) {
	start := time.Now()
	attempts := policy.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		token, err := mint()
		if err != nil {
			return nil, err
		}
		res, err := iv.attempt(ctx, endpoint, body, token, policy.Timeout)
		if err != nil {
			classified := classifyTransport(endpoint, err)
			if _, ok := classified.(TimeoutError); ok {
				classified = TimeoutError{Endpoint: endpoint, Attempts: attempt, Elapsed: time.Since(start)}
			}
			lastErr = classified
			if attempt < attempts {
				if err := iv.backoff(ctx, policy.BaseDelay, attempt); err != nil {
					return nil, lastErr
				}
				continue
			}
			return nil, lastErr
		}
		// Tunnels serve their HTML error page with any status, 200
		// included, so this check runs before the success return.
		if looksLikeHTMLErrorPage(res.Body) {
			return nil, ServiceUnavailableError{Endpoint: endpoint, Status: res.StatusCode}
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return res, nil
		}
		if res.StatusCode == http.StatusNotFound && mentionsUnregisteredWebhook(res.Body) {
			return nil, EndpointNotRegisteredError{Endpoint: endpoint}
		}
		upstream := UpstreamError{Status: res.StatusCode, Excerpt: excerpt(res.Body)}
		if !policy.retryable(res.StatusCode) {
			return nil, upstream
		}
		lastErr = upstream
		if attempt < attempts {
			if err := iv.backoff(ctx, policy.BaseDelay, attempt); err != nil {
				return nil, lastErr
			}
		}
	}
	return nil, lastErr
}

func (iv Invoker) attempt(ctx context.Context, endpoint string, body []byte, token string, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	client := iv.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func (iv Invoker) backoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := base * time.Duration(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	if iv.Sleep != nil {
		return iv.Sleep(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyTransport(endpoint string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return TimeoutError{Endpoint: endpoint}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ConnectionRefusedError{Endpoint: endpoint, Err: err}
	}
	return NetworkError{Endpoint: endpoint, Err: err}
}

func looksLikeHTMLErrorPage(body []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(excerptBytes(body, 256))))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

func mentionsUnregisteredWebhook(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), "not registered")
}

func excerpt(body []byte) string {
	return strings.TrimSpace(string(excerptBytes(body, 200)))
}

func excerptBytes(body []byte, n int) []byte {
	if len(body) <= n {
		return body
	}
	return body[:n]
}
