// Package server exposes the relay's operational HTTP surface: liveness and
// readiness probes, buffer status, Prometheus metrics and a websocket feed of
// slot updates. Every request gets a correlation id for consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/globalworming/low-tech-ai-pocs/telemetry"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(d Deps) http.Handler {
	handlers := NewHandlers(d)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)
	mux.HandleFunc("/status", handlers.HandleStatus)
	if d.Hub != nil {
		mux.HandleFunc("/ws", d.Hub.ServeWS)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)
		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))
		mux.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start listens on addr and serves until ctx is canceled.
func Start(ctx context.Context, d Deps, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("http listen failed", slog.String("addr", addr), slog.Any("err", err))
		return err
	}
	return Serve(ctx, d, ln)
}

// Serve runs the HTTP server on ln. When ctx is canceled it closes live feed
// clients, then shuts down gracefully; it returns once shutdown completes.
func Serve(ctx context.Context, d Deps, ln net.Listener) error {
	srv := &http.Server{
		Handler:           NewMux(d),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		if d.Hub != nil {
			d.Hub.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", ln.Addr().String()), slog.String("component", "http"))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	<-shutdownDone
	return nil
}
