package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WoushouW/woushBOT/pkg/version"
)

// Handler serves /metrics in Prometheus text exposition format, /healthz
// and /version.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(version.Get())
	})
	return mux
}

// handleHealth reports 200 while the session loop is running.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-s.loop.Done():
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("session loop stopped\n"))
	default:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

// metricsServer returns the HTTP server for Config.MetricsAddr, or nil when
// the endpoint is disabled.
func (s *Server) metricsServer() *http.Server {
	if s.cfg.MetricsAddr == "" {
		return nil
	}
	return &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
