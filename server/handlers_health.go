package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// HandleHealthz responds to liveness probes. The relay keeps running through
// delivery failures, so liveness only means the process is serving.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs dependency checks and reports the first failure.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.tokens == nil {
				return nil
			}
			return h.tokens.Ping(r.Context())
		}},
		{"credentials", func() error {
			if h.tokens == nil {
				return nil
			}
			n, err := h.tokens.Count(r.Context())
			if err != nil {
				return err
			}
			if n < 1 {
				return errors.New("missing OAuth tokens")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type flushStatus struct {
	Outcome  string    `json:"outcome"`
	At       time.Time `json:"at"`
	Entries  int       `json:"entries"`
	Cleared  int       `json:"cleared"`
	Error    string    `json:"error,omitempty"`
	CorrID   string    `json:"correlation_id"`
	Duration string    `json:"duration"`
}

type statusResponse struct {
	Buffered      map[string]int `json:"buffered"`
	FlushInterval string         `json:"flush_interval"`
	LastFlush     *flushStatus   `json:"last_flush,omitempty"`
	LastSuccess   *time.Time     `json:"last_success,omitempty"`
	LiveClients   int            `json:"live_clients"`
}

// HandleStatus reports buffered entry counts and the last flush cycle.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p1, p2 := h.store.Counts()
	resp := statusResponse{Buffered: map[string]int{"p1": p1, "p2": p2}}
	if h.sched != nil {
		resp.FlushInterval = h.sched.Interval.String()
		last, success := h.sched.Last()
		if last.Outcome != "" {
			fs := &flushStatus{
				Outcome:  string(last.Outcome),
				At:       last.At,
				Entries:  last.Entries,
				Cleared:  last.Cleared,
				CorrID:   last.CorrID,
				Duration: last.Duration.String(),
			}
			if last.Err != nil {
				fs.Error = last.Err.Error()
			}
			resp.LastFlush = fs
		}
		if !success.IsZero() {
			resp.LastSuccess = &success
		}
	}
	if h.hub != nil {
		resp.LiveClients = h.hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
