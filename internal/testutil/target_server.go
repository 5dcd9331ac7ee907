// Package testutil provides test doubles for the fetch pipeline: a mock
// target server, a scripted fetcher and an in-memory results store.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TargetResponse defines the behavior for a mock target path.
type TargetResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration

	// DropFirst closes the connection without a response for the first
	// N requests to the path, which clients see as a transport error.
	DropFirst int
}

// TargetServer is an httptest server standing in for remote endpoints.
// Unconfigured paths of the form /status/<code> answer with that code,
// everything else answers 200.
type TargetServer struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string]TargetResponse
	requests  map[string]int
	userAgent string
}

// NewTargetServer starts a mock target server.
func NewTargetServer() *TargetServer {
	m := &TargetServer{
		responses: make(map[string]TargetResponse),
		requests:  make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the server base URL.
func (m *TargetServer) URL() string {
	return m.server.URL
}

// Target returns the absolute URL of path on the server.
func (m *TargetServer) Target(path string) string {
	return m.server.URL + path
}

// StatusTargets returns n targets /status/<code> for codes 1..n, mirroring
// the demo work list.
func (m *TargetServer) StatusTargets(n int) []string {
	targets := make([]string, n)
	for i := range targets {
		targets[i] = m.Target(fmt.Sprintf("/status/%d", i+1))
	}
	return targets
}

// Close shuts down the server.
func (m *TargetServer) Close() {
	m.server.Close()
}

// SetResponse configures the response for path.
func (m *TargetServer) SetResponse(path string, resp TargetResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = resp
}

// RequestCount returns the number of requests made to path.
func (m *TargetServer) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

// TotalRequests returns the number of requests across all paths.
func (m *TargetServer) TotalRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.requests {
		total += n
	}
	return total
}

// LastUserAgent returns the User-Agent of the most recent request.
func (m *TargetServer) LastUserAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userAgent
}

func (m *TargetServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests[r.URL.Path]++
	seen := m.requests[r.URL.Path]
	m.userAgent = r.UserAgent()
	resp, configured := m.responses[r.URL.Path]
	m.mu.Unlock()

	if !configured {
		resp = TargetResponse{StatusCode: statusFromPath(r.URL.Path)}
	}

	if seen <= resp.DropFirst {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// statusFromPath maps /status/<code> to a status code httptest can send.
// Codes below 200 are answered with 200: the 1xx range is informational and
// never a final response.
func statusFromPath(path string) int {
	rest, ok := strings.CutPrefix(path, "/status/")
	if !ok {
		return http.StatusOK
	}
	code, err := strconv.Atoi(rest)
	if err != nil || code < 200 || code > 599 {
		return http.StatusOK
	}
	return code
}
