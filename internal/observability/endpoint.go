package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/vibrolab/daqbench/internal/conf"
	"github.com/vibrolab/daqbench/internal/errors"
	"github.com/vibrolab/daqbench/internal/logger"
	metricspkg "github.com/vibrolab/daqbench/internal/observability/metrics"
)

// Endpoint serves /metrics over HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint returns an endpoint for metrics, or an error when the
// metrics section is disabled.
func NewEndpoint(settings conf.MetricsSettings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Enabled {
		return nil, errors.Newf("metrics endpoint not enabled in settings").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Endpoint{
		listenAddress: settings.Listen,
		metrics:       metrics,
	}, nil
}

// Start runs the HTTP server on its own goroutine, tracked by wg, and shuts
// it down once quitChan closes.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Go(func() {
		log.Info("metrics endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics HTTP server error", logger.Error(err))
		}
	})
	wg.Go(func() { e.gracefulShutdown(quitChan) })
}

func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	log.Info("stopping metrics endpoint")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error("metrics endpoint shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance served by this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
