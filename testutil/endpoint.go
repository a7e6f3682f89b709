// Package testutil provides shared helpers for package tests: a recording
// stand-in for the remote ingest endpoint and a throwaway token database.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ReceivedPost is one request captured by MockEndpoint.
type ReceivedPost struct {
	Body          map[string]json.RawMessage
	CorrelationID string
}

// MockEndpoint is an httptest server that records JSON POSTs and answers
// with a programmable status code (200 by default).
type MockEndpoint struct {
	*httptest.Server

	mu     sync.Mutex
	status int
	posts  []ReceivedPost
}

// NewMockEndpoint starts a mock endpoint closed automatically at test end.
func NewMockEndpoint(t *testing.T) *MockEndpoint {
	t.Helper()
	m := &MockEndpoint{status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		b, _ := io.ReadAll(r.Body)
		var body map[string]json.RawMessage
		_ = json.Unmarshal(b, &body) //nolint:errcheck // recorded as-is
		m.mu.Lock()
		m.posts = append(m.posts, ReceivedPost{Body: body, CorrelationID: r.Header.Get("X-Correlation-ID")})
		code := m.status
		m.mu.Unlock()
		w.WriteHeader(code)
	}))
	t.Cleanup(m.Close)
	return m
}

// SetStatus changes the status code returned for subsequent POSTs.
func (m *MockEndpoint) SetStatus(code int) {
	m.mu.Lock()
	m.status = code
	m.mu.Unlock()
}

// Posts returns a copy of the requests received so far.
func (m *MockEndpoint) Posts() []ReceivedPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReceivedPost(nil), m.posts...)
}

// SlotMessages decodes the p1_messages or p2_messages field of post i.
func (m *MockEndpoint) SlotMessages(t *testing.T, i int, field string) map[string]string {
	t.Helper()
	posts := m.Posts()
	if i >= len(posts) {
		t.Fatalf("post %d not received (have %d)", i, len(posts))
	}
	var out map[string]string
	if err := json.Unmarshal(posts[i].Body[field], &out); err != nil {
		t.Fatalf("decode %s of post %d: %v", field, i, err)
	}
	return out
}
