// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Recorder collects publish pipeline metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	records       *prometheus.CounterVec
	archiveBytes  prometheus.Histogram
	inFlight      prometheus.Gauge
}

// NewRecorder creates a recorder and registers its collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phantomqa_publish_runs_total",
			Help: "Publish runs by phantom and outcome.",
		}, []string{"phantom", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phantomqa_publish_stage_seconds",
			Help:    "Duration of each publish pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phantomqa_records_posted_total",
			Help: "Export records posted to the web service by value class.",
		}, []string{"class"}),
		archiveBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "phantomqa_archive_bytes",
			Help:    "Size of uploaded result archives.",
			Buckets: prometheus.ExponentialBuckets(64<<10, 2, 12),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phantomqa_publish_in_flight",
			Help: "1 while a publish run is active.",
		}),
	}
	r.registry.MustRegister(r.runs, r.stageDuration, r.records, r.archiveBytes, r.inFlight)
	return r
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RunFinished counts a completed run.
func (r *Recorder) RunFinished(phantom, outcome string) {
	r.runs.WithLabelValues(phantom, outcome).Inc()
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordsPosted adds n posted records of the given class.
func (r *Recorder) RecordsPosted(class string, n int) {
	r.records.WithLabelValues(class).Add(float64(n))
}

// ArchiveUploaded records the size of an uploaded archive.
func (r *Recorder) ArchiveUploaded(size int64) {
	r.archiveBytes.Observe(float64(size))
}

// SetInFlight marks whether a run is active.
func (r *Recorder) SetInFlight(active bool) {
	if active {
		r.inFlight.Set(1)
		return
	}
	r.inFlight.Set(0)
}
