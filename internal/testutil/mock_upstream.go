// Package testutil provides testing utilities for the upstream client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// MockUpstream is a configurable mock recipe-API server for testing.
// It tracks which API keys were presented and can simulate per-key quota
// exhaustion through either signalling channel the real upstream uses:
// an HTTP 402 status or an error code embedded in a JSON body.
type MockUpstream struct {
	server *httptest.Server

	mu            sync.Mutex
	handlers      map[string]http.HandlerFunc
	exhausted     map[string]bool
	exhaustInBody bool

	// Tracking
	requestCount int
	keysSeen     []string
}

// NewMockUpstream creates a new mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers:  make(map[string]http.HandlerFunc),
		exhausted: make(map[string]bool),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("apiKey")

		mock.mu.Lock()
		mock.requestCount++
		mock.keysSeen = append(mock.keysSeen, key)
		keyExhausted := mock.exhausted[key]
		inBody := mock.exhaustInBody
		handler := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if keyExhausted {
			if inBody {
				// Application-level signal inside a 200 response.
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"status":"failure","code":402,"message":"Your daily points limit has been reached."}`)
				return
			}
			w.WriteHeader(http.StatusPaymentRequired)
			fmt.Fprint(w, `{"status":"failure","code":402,"message":"Your daily points limit has been reached."}`)
			return
		}

		if handler != nil {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Handle installs a custom handler for a path.
func (m *MockUpstream) Handle(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// ExhaustKey makes the server report quota exhaustion for the given key
// via HTTP 402.
func (m *MockUpstream) ExhaustKey(secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted[secret] = true
}

// SignalExhaustionInBody switches quota signalling from HTTP 402 to an
// error code embedded in a 200-status JSON body.
func (m *MockUpstream) SignalExhaustionInBody() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhaustInBody = true
}

// RequestCount returns how many requests the server has received.
func (m *MockUpstream) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// KeysSeen returns the API keys presented, in request order.
func (m *MockUpstream) KeysSeen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keysSeen...)
}

// Reset clears tracking counters and exhaustion state.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.keysSeen = nil
	m.exhausted = make(map[string]bool)
	m.exhaustInBody = false
}

// defaultHandler serves a minimal search-result payload.
func (m *MockUpstream) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"results":[{"id":716429,"title":"Pasta with Garlic"}],"totalResults":1}`)
}
