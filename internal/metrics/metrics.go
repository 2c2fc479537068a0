// Package metrics exports ingestion telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// IngestObserver records one sample per upload handled by the ingestion service.
type IngestObserver struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	bytes    prometheus.Counter
}

// NewIngestObserver registers the ingestion collectors on reg. Collectors that
// are already registered (e.g. by a second observer on the same registry) are reused.
func NewIngestObserver(reg prometheus.Registerer) (*IngestObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &IngestObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "iacamera",
			Name:      "ingest_duration_seconds",
			Help:      "Time spent placing an uploaded image and writing its record.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iacamera",
			Name:      "ingest_total",
			Help:      "Uploads handled, by outcome.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iacamera",
			Name:      "ingested_bytes_total",
			Help:      "Cumulative size of image files successfully ingested.",
		}),
	}

	var err error
	if o.duration, err = register(reg, o.duration); err != nil {
		return nil, err
	}
	if o.total, err = register(reg, o.total); err != nil {
		return nil, err
	}
	if o.bytes, err = register(reg, o.bytes); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register ingest metric: %w", err)
	}
	return c, nil
}

// RecordIngest tracks the outcome and latency of one upload; size is only
// added to the byte counter for successful ingests.
func (o *IngestObserver) RecordIngest(outcome string, d time.Duration, size int64) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(outcome).Observe(d.Seconds())
	o.total.WithLabelValues(outcome).Inc()
	if outcome == "ok" && size > 0 {
		o.bytes.Add(float64(size))
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
