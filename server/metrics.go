package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tetherbpf/tetherbpf/metrics"
)

// serveMetrics starts the prometheus listener on addr and returns a
// stop function that shuts it down. The listener failing later is
// logged, never fatal; scraping is not part of the data path.
func serveMetrics(addr string, m *metrics.Metrics, log *slog.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return serveMetricsOn(lis, m, log), nil
}

func serveMetricsOn(lis net.Listener, m *metrics.Metrics, log *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux}

	addr := lis.Addr().String()
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", "addr", addr, "error", err)
		}
	}()
	log.Info("metrics listener started", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics listener shutdown", "error", err)
		}
	}
}
