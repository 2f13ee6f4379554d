// Package testutil provides testing utilities for the PSA gateway.
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
)

// MockPSA is a configurable mock PSA API server for testing. It serves
// paged entity queries from in-memory datasets and can be scripted to fail.
type MockPSA struct {
	server *httptest.Server

	mu       sync.Mutex
	datasets map[string][]json.RawMessage
	failures []int // scripted status codes, consumed one per request
	delay    time.Duration

	// Tracking
	RequestCount int
	ConnectCount int
	LastAuth     string
}

// NewMockPSA creates a mock PSA server with no datasets.
func NewMockPSA() *MockPSA {
	mock := &MockPSA{
		datasets: make(map[string][]json.RawMessage),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server base URL.
func (m *MockPSA) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockPSA) Close() {
	m.server.Close()
}

// SetDataset installs count generated records for an entity. Each record is
// {"id": n, "name": "<entity>-<n>"}.
func (m *MockPSA) SetDataset(entity string, count int) {
	records := make([]json.RawMessage, 0, count)
	for i := 1; i <= count; i++ {
		records = append(records, json.RawMessage(
			fmt.Sprintf(`{"id":%d,"name":"%s-%d"}`, i, entity, i)))
	}
	m.mu.Lock()
	m.datasets[entity] = records
	m.mu.Unlock()
}

// FailNext scripts the next len(statuses) requests to fail with the given
// status codes, in order.
func (m *MockPSA) FailNext(statuses ...int) {
	m.mu.Lock()
	m.failures = append(m.failures, statuses...)
	m.mu.Unlock()
}

// SetDelay makes every subsequent request take at least d.
func (m *MockPSA) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// Requests returns the total request count.
func (m *MockPSA) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

func (m *MockPSA) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	if user, _, ok := r.BasicAuth(); ok {
		m.LastAuth = user
	}
	delay := m.delay
	var fail int
	if len(m.failures) > 0 {
		fail = m.failures[0]
		m.failures = m.failures[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if fail != 0 {
		w.WriteHeader(fail)
		fmt.Fprintf(w, `{"message":"scripted failure %d"}`, fail)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	parts := strings.SplitN(path, "/", 2)
	entity := parts[0]

	if entity == "system" {
		m.mu.Lock()
		m.ConnectCount++
		m.mu.Unlock()
		fmt.Fprint(w, `{"version":"mock-1.0"}`)
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		m.serveRecord(w, entity, parts[1])
	case r.Method == http.MethodGet:
		m.serveQuery(w, r, entity)
	case r.Method == http.MethodPost:
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":999,"created":true}`)
	case r.Method == http.MethodPatch || r.Method == http.MethodPut:
		fmt.Fprint(w, `{"id":1,"updated":true}`)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *MockPSA) serveRecord(w http.ResponseWriter, entity, id string) {
	m.mu.Lock()
	records := m.datasets[entity]
	m.mu.Unlock()

	n, err := strconv.Atoi(id)
	if err != nil || n < 1 || n > len(records) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"record not found"}`)
		return
	}
	_, _ = w.Write(records[n-1])
}

func (m *MockPSA) serveQuery(w http.ResponseWriter, r *http.Request, entity string) {
	m.mu.Lock()
	records := m.datasets[entity]
	m.mu.Unlock()

	q := r.URL.Query()
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	if pageSize <= 0 {
		pageSize = 25
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(records) {
		start = len(records)
	}
	if end > len(records) {
		end = len(records)
	}

	items := records[start:end]
	body := map[string]any{
		"items":      items,
		"totalCount": len(records),
	}
	_ = json.NewEncoder(w).Encode(body)
}
