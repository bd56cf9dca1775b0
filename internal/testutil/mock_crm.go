// Package testutil provides testing utilities for the CRM exporter.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/crm-export/pkg/record"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is what the mock saw for one request.
type RecordedRequest struct {
	Path   string
	Query  map[string][]string
	Header http.Header
}

// MockCRM is a configurable mock CRM API server for testing.
type MockCRM struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewMockCRM creates a new mock CRM server.
func NewMockCRM() *MockCRM {
	mock := &MockCRM{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests = append(mock.requests, RecordedRequest{
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
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
func (m *MockCRM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCRM) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockCRM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCRM) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockCRM) SetResponse(path string, resp MockResponse) {
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

// SetSequence serves the responses in order, repeating the last one.
func (m *MockCRM) SetSequence(path string, responses ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[next]
		if next < len(responses)-1 {
			next++
		}
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Body))
	})
}

// SetObject serves docs (JSON objects) from /crm/v3/objects/<object> with
// cursor pagination. The cursor is opaque to clients: "page-<offset>".
// When a "properties" query parameter is sent, only the listed keys of each
// record's "properties" object are returned.
func (m *MockCRM) SetObject(object string, docs []string) {
	path := "/crm/v3/objects/" + object
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
			limit = l
		}

		offset := 0
		if after := r.URL.Query().Get("after"); after != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(after, "page-"))
			if err != nil || !strings.HasPrefix(after, "page-") {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid after cursor")
				return
			}
			offset = n
		}

		end := offset + limit
		if end > len(docs) {
			end = len(docs)
		}
		if offset > end {
			offset = end
		}

		var props []string
		if p := r.URL.Query().Get("properties"); p != "" {
			props = strings.Split(p, ",")
		}

		results := make([]json.RawMessage, 0, end-offset)
		for _, doc := range docs[offset:end] {
			results = append(results, json.RawMessage(filterProperties(doc, props)))
		}

		body := map[string]any{"results": results}
		if end < len(docs) {
			body["paging"] = map[string]any{
				"next": map[string]any{
					"after": fmt.Sprintf("page-%d", end),
					"link":  fmt.Sprintf("%s?after=page-%d", path, end),
				},
			}
		}

		w.Header().Set("Content-Type", "application/json;charset=utf-8")
		w.Header().Set("X-HubSpot-RateLimit-Max", "100")
		w.Header().Set("X-HubSpot-RateLimit-Remaining", "99")
		w.Header().Set("X-HubSpot-RateLimit-Interval-Milliseconds", "10000")
		json.NewEncoder(w).Encode(body)
	})
}

// SetProperties serves /crm/v3/properties/<object> listing the given names.
func (m *MockCRM) SetProperties(object string, names ...string) {
	results := make([]map[string]string, 0, len(names))
	for _, n := range names {
		results = append(results, map[string]string{"name": n, "label": strings.ToUpper(n[:1]) + n[1:], "type": "string"})
	}
	body, _ := json.Marshal(map[string]any{"results": results})
	m.SetResponse("/crm/v3/properties/"+object, MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
}

// Requests returns a copy of all recorded requests.
func (m *MockCRM) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestsFor returns the recorded requests for one path.
func (m *MockCRM) RequestsFor(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCRM) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// defaultHandler answers like the API does for unknown object types.
func (m *MockCRM) defaultHandler(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "OBJECT_NOT_FOUND", "Unable to infer object type")
}

func writeError(w http.ResponseWriter, status int, category, message string) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"status":   "error",
		"message":  message,
		"category": category,
	})
}

func filterProperties(doc string, keep []string) string {
	if len(keep) == 0 {
		return doc
	}

	var rec record.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return doc
	}
	props, ok := rec.Get("properties")
	if !ok {
		return doc
	}

	filtered := record.Object()
	for _, name := range keep {
		if v, ok := props.Get(name); ok {
			filtered.Set(name, v)
		}
	}
	rec.Set("properties", filtered)

	out, _ := rec.MarshalJSON()
	return string(out)
}

// Contacts generates n contact-like record documents with ids 1..n.
func Contacts(n int) []string {
	docs := make([]string, n)
	for i := range docs {
		id := i + 1
		docs[i] = fmt.Sprintf(`{"id":"%d","properties":{"createdate":"2024-01-%02dT10:00:00Z","email":"user%d@example.com","firstname":"User %d","hs_object_id":"%d"},"createdAt":"2024-01-%02dT10:00:00Z","updatedAt":"2024-02-01T08:30:00Z","archived":false}`,
			id, id%28+1, id, id, id, id%28+1)
	}
	return docs
}

// NewErrorResponse creates an API error response.
func NewErrorResponse(status int, category, message string) MockResponse {
	body, _ := json.Marshal(map[string]string{"status": "error", "message": message, "category": category})
	return MockResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json;charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := NewErrorResponse(http.StatusTooManyRequests, "RATE_LIMITS", "You have reached your secondly limit.")
	resp.Headers["X-HubSpot-RateLimit-Max"] = "100"
	resp.Headers["X-HubSpot-RateLimit-Remaining"] = "0"
	resp.Headers["X-HubSpot-RateLimit-Interval-Milliseconds"] = "10000"
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewPageResponse creates a 200 page response from raw record documents.
func NewPageResponse(after string, docs ...string) MockResponse {
	body := `{"results":[` + strings.Join(docs, ",") + `]`
	if after != "" {
		body += `,"paging":{"next":{"after":"` + after + `"}}`
	}
	body += `}`
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type":                  "application/json;charset=utf-8",
			"X-HubSpot-RateLimit-Max":       "100",
			"X-HubSpot-RateLimit-Remaining": "99",
			"X-HubSpot-RateLimit-Interval-Milliseconds": "10000",
		},
	}
}
