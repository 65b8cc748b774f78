// Package observability wires logging, metrics and tracing for courier
// processes.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config is the config subset needed by the observability package.
type Config struct {
	LogLevel       string
	LogFormat      string
	MetricsAddr    string
	OTLPEndpoint   string
	OTLPProtocol   string
	ServiceName    string
	ServiceVersion string
}

// Observability holds all observability components.
type Observability struct {
	Logger   *slog.Logger
	Metrics  *Metrics
	Shutdown *ShutdownCoordinator
}

// New initializes logging, tracing, and metrics. Tracing is only enabled
// when an OTLP endpoint is configured.
func New(ctx context.Context, cfg Config, w io.Writer) (*Observability, error) {
	shutdown := &ShutdownCoordinator{}
	logger := SetupLogger(cfg.LogLevel, cfg.LogFormat, w)

	if cfg.OTLPEndpoint != "" {
		tp, err := InitTracer(ctx, TracerConfig{
			Endpoint:       cfg.OTLPEndpoint,
			Protocol:       cfg.OTLPProtocol,
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.ServiceVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		shutdown.Register("tracer", tp.Shutdown)
	} else {
		logger.Debug("tracing disabled (no otlp_endpoint configured)")
	}

	return &Observability{
		Logger:   logger,
		Metrics:  NewMetrics(),
		Shutdown: shutdown,
	}, nil
}

// Close flushes traces and runs shutdown handlers.
func (o *Observability) Close(ctx context.Context) error {
	return o.Shutdown.Shutdown(ctx)
}

// MetricsHandler returns the HTTP handler serving /metrics and /health.
func (o *Observability) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.Metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// ServeMetrics starts the metrics HTTP server in the background. An empty
// addr disables it.
func (o *Observability) ServeMetrics(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: o.MetricsHandler()}

	go func() {
		o.Logger.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.Logger.Error("metrics server error", "error", err)
		}
	}()

	o.Shutdown.Register("metrics-server", srv.Shutdown)
	return srv
}
