package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transport performs one GET-like operation against a target. It returns the
// status code, or an error on transport/protocol failure. Implementations must
// honor ctx, which carries the per-attempt timeout.
type Transport interface {
	Do(ctx context.Context, target string) (int, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, target string) (int, error)

// Do implements Transport.
func (f TransportFunc) Do(ctx context.Context, target string) (int, error) {
	return f(ctx, target)
}

// HTTPTransport fetches targets with net/http.
type HTTPTransport struct {
	httpClient *http.Client
	userAgent  string
}

// NewHTTPTransport creates an HTTP transport. If httpClient is nil a pooled
// client without a global timeout is used; timeouts come from the context.
func NewHTTPTransport(userAgent string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &HTTPTransport{
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return 0, fmt.Errorf("read response body: %w", err)
	}

	return resp.StatusCode, nil
}
