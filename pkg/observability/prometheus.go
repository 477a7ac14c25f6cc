package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	iobs "github.com/bunsen-project/bunsen/internal/observability"
)

// prometheusReadHeaderTimeout bounds how long the metrics HTTP server waits
// for a scraper's request headers, per Go's documented slowloris mitigation.
const prometheusReadHeaderTimeout = 5 * time.Second

// PrometheusServer is a pull-based metrics endpoint: an OTel meter provider
// backed by a Prometheus exporter, plus the HTTP server exposing it at
// /metrics. For operators who run `bunsen repair --metrics-addr=...` without
// an OTLP collector in their environment to push to.
type PrometheusServer struct {
	Meter metric.Meter

	meterProvider *sdkmetric.MeterProvider
	httpServer    *http.Server
}

// ServePrometheus starts a /metrics HTTP endpoint on addr and returns a
// meter drawing from it. The caller is responsible for calling Shutdown.
func ServePrometheus(cfg iobs.Config, addr string) (*PrometheusServer, error) {
	res, err := buildResource(cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: prometheusReadHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case err := <-errCh:
		return nil, fmt.Errorf("serve prometheus metrics on %s: %w", addr, err)
	case <-time.After(50 * time.Millisecond):
	}

	return &PrometheusServer{
		Meter:         mp.Meter(meterName),
		meterProvider: mp,
		httpServer:    srv,
	}, nil
}

// Shutdown stops the metrics HTTP server and flushes the meter provider.
func (p *PrometheusServer) Shutdown(ctx context.Context) error {
	return errors.Join(p.httpServer.Shutdown(ctx), p.meterProvider.Shutdown(ctx))
}
