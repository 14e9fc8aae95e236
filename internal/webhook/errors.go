package webhook

import (
	"fmt"
	"time"
)

// TimeoutError is returned when every attempt exceeded the policy
// timeout. Elapsed covers the whole retry loop.
type TimeoutError struct {
	Endpoint string
	Attempts int
	Elapsed  time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("webhook %s timed out after %d attempts (%s)", e.Endpoint, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// ConnectionRefusedError indicates the endpoint actively refused the
// connection.
type ConnectionRefusedError struct {
	Endpoint string
	Err      error
}

func (e ConnectionRefusedError) Error() string {
	return fmt.Sprintf("webhook %s connection refused: %v", e.Endpoint, e.Err)
}

func (e ConnectionRefusedError) Unwrap() error { return e.Err }

// NetworkError covers transport failures other than refusal and
// timeout, such as DNS errors.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("webhook %s network error: %v", e.Endpoint, e.Err)
}

func (e NetworkError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx response from the agent itself.
type UpstreamError struct {
	Status  int
	Excerpt string
}

func (e UpstreamError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("agent returned status %d", e.Status)
	}
	return fmt.Sprintf("agent returned status %d: %s", e.Status, e.Excerpt)
}

// ServiceUnavailableError marks the tunnel/proxy error-page signature:
// an HTML body instead of an agent response. Misconfiguration, not
// transience, so never retried.
type ServiceUnavailableError struct {
	Endpoint string
	Status   int
}

func (e ServiceUnavailableError) Error() string {
	return fmt.Sprintf("agent service at %s unavailable (status %d, html error page)", e.Endpoint, e.Status)
}

// EndpointNotRegisteredError marks a 404 whose body states the webhook
// is not registered on the agent host. Never retried.
type EndpointNotRegisteredError struct {
	Endpoint string
}

func (e EndpointNotRegisteredError) Error() string {
	return fmt.Sprintf("webhook %s is not registered on the agent host", e.Endpoint)
}
