// Package observability serves the daqbench prometheus collectors.
package observability

import (
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/observability/metrics"
)

// Metrics holds all the metric collectors of the application.
type Metrics struct {
	registry    *prometheus.Registry
	Acquisition *metrics.AcquisitionMetrics
	Analysis    *metrics.AnalysisMetrics
}

// NewMetrics creates a registry with the process collectors and every
// daqbench collector registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	acquisitionMetrics, err := metrics.NewAcquisitionMetrics(registry)
	if err != nil {
		return nil, metricsError(err, "acquisition")
	}
	analysisMetrics, err := metrics.NewAnalysisMetrics(registry)
	if err != nil {
		return nil, metricsError(err, "analysis")
	}

	return &Metrics{
		registry:    registry,
		Acquisition: acquisitionMetrics,
		Analysis:    analysisMetrics,
	}, nil
}

func metricsError(err error, collector string) error {
	return errors.New(err).
		Component("observability").
		Category(errors.CategorySystem).
		Context("collector", collector).
		Build()
}

// Registry returns the registry behind the endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}
