// Package testutil provides testing utilities for the GifFun client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Backend status codes used by the mock responses.
const (
	StatusOK             = 0
	StatusSessionExpired = 10001
	StatusNoMoreData     = 10004
	StatusUnknown        = 19000
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is what the mock saw of one request. Params holds the
// merged query and form values.
type RecordedRequest struct {
	Method string
	Path   string
	Params url.Values
	Header http.Header
}

// MockBackend is a configurable mock GifFun backend for testing.
type MockBackend struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requestCount     int
	conditionalCount int
	requests         []RecordedRequest
}

// NewMockBackend starts a new mock backend.
func NewMockBackend() *MockBackend {
	mock := &MockBackend{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()

		mock.mu.Lock()
		mock.requestCount++
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.conditionalCount++
		}
		mock.requests = append(mock.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Params: cloneValues(r.Form),
			Header: r.Header.Clone(),
		})
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Client returns an HTTP client wired to the mock server.
func (m *MockBackend) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and recorded requests.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockBackend) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockBackend) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetEnvelope configures path to answer 200 with the given envelope.
func (m *MockBackend) SetEnvelope(path string, status int, msg string, data any) {
	m.SetResponse(path, NewEnvelopeResponse(status, msg, data))
}

// RequestCount returns the number of requests made to the server.
func (m *MockBackend) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// ConditionalCount returns the number of conditional requests.
func (m *MockBackend) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// Requests returns every request recorded since the last Reset.
func (m *MockBackend) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// LastRequest returns the most recent request, or ok=false if none was made.
func (m *MockBackend) LastRequest() (RecordedRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return RecordedRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// defaultHandler answers every unknown path with an empty OK envelope.
func (m *MockBackend) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-RateLimit-Remaining", "100")
	w.Header().Set("X-RateLimit-Reset", "60")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(Envelope(StatusOK, "ok", nil)))
}

// Envelope renders a response body. A nil data is omitted.
func Envelope(status int, msg string, data any) string {
	body := map[string]any{"status": status, "msg": msg}
	if data != nil {
		body["data"] = data
	}
	out, err := json.Marshal(body)
	if err != nil {
		panic("testutil: marshal envelope: " + err.Error())
	}
	return string(out)
}

// NewEnvelopeResponse creates a 200 OK response carrying an envelope.
func NewEnvelopeResponse(status int, msg string, data any) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       Envelope(status, msg, data),
		Headers: map[string]string{
			"X-RateLimit-Remaining": "100",
			"X-RateLimit-Reset":     "60",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewNoMoreDataResponse creates the envelope the backend sends for an
// exhausted list.
func NewNoMoreDataResponse() MockResponse {
	return NewEnvelopeResponse(StatusNoMoreData, "no more data", nil)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     "30",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewConditionalHandler creates a handler that responds with 304 when the
// client presents etag and with body otherwise.
func NewConditionalHandler(etag string, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}

// NewPagedHandler serves ids in pages of pageSize, continuing after the id
// named by cursorParam. Each id is rendered with item. Past the end it
// answers StatusNoMoreData.
func NewPagedHandler(cursorParam string, ids []int64, pageSize int, item func(id int64) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := 0
		if raw := r.FormValue(cursorParam); raw != "" {
			cursor, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeEnvelope(w, StatusUnknown, "bad cursor", nil)
				return
			}
			if cursor > 0 {
				start = len(ids)
				for i, id := range ids {
					if id == cursor {
						start = i + 1
						break
					}
				}
			}
		}

		if start >= len(ids) {
			writeEnvelope(w, StatusNoMoreData, "no more data", nil)
			return
		}
		end := min(start+pageSize, len(ids))
		page := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			page = append(page, item(id))
		}
		writeEnvelope(w, StatusOK, "ok", page)
	}
}

func writeEnvelope(w http.ResponseWriter, status int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(Envelope(status, msg, data)))
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
