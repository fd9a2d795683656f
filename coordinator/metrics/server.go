// Package metrics serves the coordinator's Prometheus registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
)

const shutdownTimeout = 5 * time.Second

// Handler exposes /metrics and a /health check.
func Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>DDL Coordinator Metrics</title></head>
<body>
<h1>DDL Coordinator Metrics</h1>
<ul>
  <li><a href="/metrics">Prometheus Metrics</a></li>
  <li><a href="/health">Health Check</a></li>
</ul>
</body>
</html>`))
	})

	return mux
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	coordlog.Zero.Info().
		Str("addr", addr).
		Msg("starting metrics server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		coordlog.Zero.Error().Err(err).Msg("metrics server failed")
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
