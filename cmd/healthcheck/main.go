// Command healthcheck checks a running relay for container health checks.
//
// By default it requires /healthz to answer 200. With -ready it checks
// /readyz instead. With -max-stale it also reads /status and fails when
// entries are buffered but nothing has been delivered for longer than the
// given duration, which catches an endpoint that has been rejecting flushes.
//
// The target is HEALTHCHECK_URL (base URL) or derived from HTTP_ADDR.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

type statusBody struct {
	Buffered    map[string]int `json:"buffered"`
	LastSuccess *time.Time     `json:"last_success"`
}

func main() {
	ready := flag.Bool("ready", false, "check /readyz instead of /healthz")
	maxStale := flag.Duration("max-stale", 0, "fail when buffered entries have not been delivered for this long (0 disables)")
	flag.Parse()

	client := &http.Client{Timeout: 3 * time.Second}
	if err := check(context.Background(), client, baseURL(), *ready, *maxStale, time.Now()); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("healthcheck failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// baseURL honours HEALTHCHECK_URL, then derives the target from HTTP_ADDR.
func baseURL() string {
	if u := os.Getenv("HEALTHCHECK_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func check(ctx context.Context, client *http.Client, base string, ready bool, maxStale time.Duration, now time.Time) error {
	path := "/healthz"
	if ready {
		path = "/readyz"
	}
	resp, err := get(ctx, client, base+path)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	if maxStale <= 0 {
		return nil
	}

	resp, err = get(ctx, client, base+"/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("/status returned %d", resp.StatusCode)
	}
	var st statusBody
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode /status: %w", err)
	}
	buffered := 0
	for _, n := range st.Buffered {
		buffered += n
	}
	if buffered == 0 {
		return nil
	}
	if st.LastSuccess == nil {
		return fmt.Errorf("%d entries buffered and no delivery has succeeded yet", buffered)
	}
	if age := now.Sub(*st.LastSuccess); age > maxStale {
		return fmt.Errorf("%d entries buffered, last delivery %s ago", buffered, age.Round(time.Second))
	}
	return nil
}

func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}
