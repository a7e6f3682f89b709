package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/globalworming/low-tech-ai-pocs/relay"
	"github.com/globalworming/low-tech-ai-pocs/slots"
)

type fakeTokens struct {
	pingErr error
	count   int
}

func (f fakeTokens) Ping(context.Context) error { return f.pingErr }
func (f fakeTokens) Count(context.Context) (int, error) { return f.count, nil }

type okDeliverer struct{}

func (okDeliverer) Deliver(context.Context, slots.Snapshot) error { return nil }

type failDeliverer struct{}

func (failDeliverer) Deliver(context.Context, slots.Snapshot) error { return errors.New("endpoint down") }

func newDeps(d relay.Deliverer) Deps {
	store := slots.NewStore()
	return Deps{Store: store, Scheduler: relay.NewScheduler(store, d, time.Minute, time.Second), Hub: NewHub()}
}

func TestHealthzOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	NewMux(newDeps(okDeliverer{})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing correlation id header")
	}
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rr := httptest.NewRecorder()
	NewMux(newDeps(okDeliverer{})).ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("X-Correlation-ID = %q, want abc-123", got)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		tokens     TokenStatus
		wantCode   int
		wantFailed string
	}{
		{"no token store", nil, http.StatusOK, ""},
		{"ready", fakeTokens{count: 1}, http.StatusOK, ""},
		{"db down", fakeTokens{pingErr: errors.New("conn refused")}, http.StatusServiceUnavailable, "database"},
		{"no tokens", fakeTokens{count: 0}, http.StatusServiceUnavailable, "credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDeps(okDeliverer{})
			d.Tokens = tt.tokens
			rr := httptest.NewRecorder()
			NewMux(d).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d, body=%s", rr.Code, tt.wantCode, rr.Body.String())
			}
			var body map[string]string
			_ = json.Unmarshal(rr.Body.Bytes(), &body)
			if body["failed_check"] != tt.wantFailed {
				t.Errorf("failed_check = %q, want %q", body["failed_check"], tt.wantFailed)
			}
		})
	}
}

func TestStatusReportsBufferAndLastFlush(t *testing.T) {
	d := newDeps(failDeliverer{})
	_ = d.Store.Upsert(slots.P1, "alice", "hello")
	_ = d.Store.Upsert(slots.P2, "bob", "jump")
	_ = d.Store.Upsert(slots.P2, "carol", "duck")
	d.Scheduler.FlushOnce(context.Background())

	rr := httptest.NewRecorder()
	NewMux(d).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Buffered["p1"] != 1 || resp.Buffered["p2"] != 2 {
		t.Errorf("buffered = %v", resp.Buffered)
	}
	if resp.LastFlush == nil || resp.LastFlush.Outcome != "failed" || !strings.Contains(resp.LastFlush.Error, "endpoint down") {
		t.Errorf("last_flush = %+v", resp.LastFlush)
	}
	if resp.LastSuccess != nil {
		t.Errorf("last_success = %v, want none", resp.LastSuccess)
	}
	if resp.FlushInterval != "1m0s" {
		t.Errorf("flush_interval = %q", resp.FlushInterval)
	}
}

func TestStatusMethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	NewMux(newDeps(okDeliverer{})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	NewMux(newDeps(okDeliverer{})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("code = %d", rr.Code)
	}
}

func TestLiveFeed(t *testing.T) {
	d := newDeps(okDeliverer{})
	srv := httptest.NewServer(NewMux(d))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for d.Hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	consumer := relay.NewConsumer(slots.NewClassifier("P1:", "P2:", 200), d.Store)
	consumer.OnUpdate = d.Hub.PublishUpdate
	consumer.Handle(relay.ChatEvent{Author: "alice", Text: "P1: hello"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != "slot.updated" || ev.Data["author"] != "alice" || ev.Data["slot"] != "p1" || ev.Data["payload"] != "hello" {
		t.Errorf("event = %+v", ev)
	}

	d.Scheduler.OnResult = d.Hub.PublishResult
	d.Scheduler.FlushOnce(context.Background())
	var flush struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := conn.ReadJSON(&flush); err != nil {
		t.Fatalf("read flush: %v", err)
	}
	if flush.Type != "flush.completed" || flush.Data["outcome"] != "delivered" {
		t.Errorf("flush event = %+v", flush)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, newDeps(okDeliverer{}), "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeClosesLiveClientsOnShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := newDeps(okDeliverer{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, d, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for d.Hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after shutdown err = %v, want going-away close", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
	if d.Hub.Clients() != 0 {
		t.Errorf("clients after shutdown = %d", d.Hub.Clients())
	}
}

func TestLiveFeedMatchEvent(t *testing.T) {
	d := newDeps(okDeliverer{})
	srv := httptest.NewServer(NewMux(d))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for d.Hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = d.Store.Upsert(slots.P1, "alice", "old")
	consumer := relay.NewConsumer(slots.NewClassifier("P1:", "P2:", 200), d.Store)
	consumer.Owner = "host"
	consumer.OnMatch = d.Hub.PublishMatch
	consumer.Handle(relay.ChatEvent{Channel: "arena", Author: "host", Text: "game ninja vs pirate"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != "match.started" || ev.Data["p1"] != "ninja" || ev.Data["p2"] != "pirate" || ev.Data["cleared"] != float64(1) {
		t.Errorf("event = %+v", ev)
	}
}
