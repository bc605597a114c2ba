// Package metrics exports run progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"steadytls/internal/outcome"
	"steadytls/internal/stats"
)

const namespace = "steadytls"

// Metrics is a runner observer backed by its own registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	Bytes         prometheus.Counter
	Retries       prometheus.Counter
	ActiveVUs     prometheus.Gauge
	Inflight      prometheus.Gauge
	Connections   prometheus.Gauge
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests by outcome kind and status code",
		}, []string{"kind", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request phase durations",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"phase"}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Response body bytes read",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Requests retried after a lost connection",
		}),
		ActiveVUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_vus",
			Help:      "Virtual users currently running",
		}),
		Inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_requests",
			Help:      "Requests currently in flight",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "TLS connections opened and not yet closed",
		}),
	}
	r.MustRegister(m.RequestsTotal, m.Duration, m.Bytes, m.Retries, m.ActiveVUs, m.Inflight, m.Connections)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records one outcome.
func (m *Metrics) Observe(rec outcome.Record) {
	status := ""
	if rec.OK() {
		status = strconv.Itoa(rec.Status)
	}
	m.RequestsTotal.WithLabelValues(rec.Kind.String(), status).Inc()
	m.Bytes.Add(float64(rec.Bytes))
	if rec.Retried {
		m.Retries.Inc()
	}

	observe := func(phase string, d time.Duration) {
		if d > 0 {
			m.Duration.WithLabelValues(phase).Observe(d.Seconds())
		}
	}
	observe("connect", rec.Timings.Connect)
	observe("handshake", rec.Timings.Handshake)
	observe("ttfb", rec.Timings.TTFB)
	observe("total", rec.Timings.Total)
}

// ObserveSnapshot updates the gauges.
func (m *Metrics) ObserveSnapshot(s stats.Snapshot) {
	m.ActiveVUs.Set(float64(s.ActiveVUs))
	m.Inflight.Set(float64(s.Inflight))
	m.Connections.Set(float64(s.Conns))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
