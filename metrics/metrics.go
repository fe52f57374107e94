// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

// Package metrics exposes Prometheus collectors for the analysis pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/DCSO/daywatch/heuristics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "daywatch"

// Recorder holds all collectors on a private registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry       *prometheus.Registry
	analyses       *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	rules          *prometheus.CounterVec
	storeFailures  prometheus.Counter
	pluginFailures *prometheus.CounterVec
	duration       prometheus.Histogram
}

// MakeRecorder creates a Recorder with Go and process collectors registered.
func MakeRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Completed analyses by threat level.",
		}, []string{"level"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Analysis requests rejected or failed, by reason.",
		}, []string{"reason"}),
		rules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_triggered_total",
			Help:      "Detection rules triggered, by rule tag.",
		}, []string{"rule"}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Verdicts that could not be written to the store.",
		}),
		pluginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_failures_total",
			Help:      "Analysis plugin errors, by plugin.",
		}, []string{"plugin"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent analysing one sample.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.analyses, r.rejected, r.rules, r.storeFailures, r.pluginFailures, r.duration,
	)
	return r
}

// Analysis records a completed analysis.
func (r *Recorder) Analysis(level heuristics.Level, rules []heuristics.RuleTag, took time.Duration) {
	if r == nil {
		return
	}
	r.analyses.WithLabelValues(level.String()).Inc()
	for _, rule := range rules {
		r.rules.WithLabelValues(string(rule)).Inc()
	}
	r.duration.Observe(took.Seconds())
}

// Rejected records a request that did not produce a verdict.
func (r *Recorder) Rejected(reason string) {
	if r == nil {
		return
	}
	r.rejected.WithLabelValues(reason).Inc()
}

// StoreFailure records a failed store write.
func (r *Recorder) StoreFailure() {
	if r == nil {
		return
	}
	r.storeFailures.Inc()
}

// PluginFailure records a plugin error.
func (r *Recorder) PluginFailure(plugin string) {
	if r == nil {
		return
	}
	r.pluginFailures.WithLabelValues(plugin).Inc()
}

// Registry returns the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
