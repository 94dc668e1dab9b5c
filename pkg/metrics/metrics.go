// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for AnalysesTotal.
const (
	OutcomeOK       = "ok"
	OutcomeCached   = "cached"
	OutcomeBadImage = "bad_image"
	OutcomeOCRError = "ocr_error"
)

type Metrics struct {
	AnalysesTotal    *prometheus.CounterVec
	EngineUsed       *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	MedicinesFound   prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers collectors on reg. A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		AnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rxscan_analyses_total",
			Help: "Prescription analyses by outcome.",
		}, []string{"outcome"}),
		EngineUsed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rxscan_ocr_engine_used_total",
			Help: "Successful OCR runs by engine.",
		}, []string{"engine"}),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rxscan_analysis_duration_seconds",
			Help:    "Time spent decoding, recognizing and extracting one image.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		MedicinesFound: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rxscan_medicines_extracted",
			Help:    "Medicines extracted per analysis.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 7, 10},
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rxscan_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rxscan_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		gatherer: reg,
	}
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
