package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amine-kherroubi/vcl/internal/util/httputil"
)

// setupMetricsServer creates an HTTP server exposing the metrics of reg.
func setupMetricsServer(config *Config, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()

	// Use default path if not specified
	path := config.MetricsServer.Path
	if path == "" {
		path = "/metrics"
	}

	var handler http.Handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	if config.MetricsServer.Username != "" {
		handler = httputil.BasicAuth(handler, config.MetricsServer.Username, config.MetricsServer.Password)
	}

	// Register metrics handler
	mux.Handle(path, handler)

	return &http.Server{ //nolint:exhaustruct
		Addr:              fmt.Sprintf(":%d", config.MetricsServer.Port),
		Handler:           mux,
		ReadHeaderTimeout: time.Second,
	}
}
