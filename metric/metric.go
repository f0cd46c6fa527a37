// Copyright 2026 The Stride Authors
// SPDX-License-Identifier: Apache-2.0

// Package metric instruments the engine with Prometheus collectors.
//
// Instrumentation is gated by the StatsLevel engine parameter: level 0
// produces a nil *Metrics, and every method on a nil receiver is a
// no-op, so engine code records unconditionally and never branches on
// the level. Level 1 registers the scalar engine metrics, level 2 adds
// per-variable counters, level 3 adds the Go runtime collectors.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors behind nil-safe recording
// methods.
type Metrics struct {
	registry *prometheus.Registry

	steps        *prometheus.CounterVec
	puts         prometheus.Counter
	gets         prometheus.Counter
	bytesWritten prometheus.Counter
	bytesRead    prometheus.Counter
	flushSeconds prometheus.Histogram
	arenaPeak    prometheus.Gauge

	// Per-variable counters, present at level 2 and above.
	varPuts *prometheus.CounterVec
	varGets *prometheus.CounterVec
}

// New builds the collector set for the given stats level. Level 0
// returns nil, which records nothing.
func New(level int) *Metrics {
	if level < 1 {
		return nil
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "engine",
			Name:      "steps_total",
			Help:      "Steps completed, by stream and direction.",
		}, []string{"stream", "mode"}),
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "engine",
			Name:      "puts_total",
			Help:      "Put operations accepted.",
		}),
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "engine",
			Name:      "gets_total",
			Help:      "Get operations served.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "pack",
			Name:      "bytes_written_total",
			Help:      "Bytes appended to packs and streams, after transforms.",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "pack",
			Name:      "bytes_read_total",
			Help:      "Payload bytes read from packs and streams.",
		}),
		flushSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stride",
			Subsystem: "engine",
			Name:      "flush_duration_seconds",
			Help:      "Time spent flushing a step to its transports.",
			Buckets:   prometheus.DefBuckets,
		}),
		arenaPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stride",
			Subsystem: "arena",
			Name:      "high_watermark_bytes",
			Help:      "Peak staging arena usage.",
		}),
	}
	m.registry.MustRegister(
		m.steps, m.puts, m.gets, m.bytesWritten, m.bytesRead,
		m.flushSeconds, m.arenaPeak,
	)

	if level >= 2 {
		m.varPuts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "engine",
			Name:      "variable_puts_total",
			Help:      "Put operations by variable.",
		}, []string{"variable"})
		m.varGets = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stride",
			Subsystem: "engine",
			Name:      "variable_gets_total",
			Help:      "Get operations by variable.",
		}, []string{"variable"})
		m.registry.MustRegister(m.varPuts, m.varGets)
	}
	if level >= 3 {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// StepCompleted counts a finished step. Mode is "write" or "read".
func (m *Metrics) StepCompleted(stream, mode string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(stream, mode).Inc()
}

// PutRecorded counts one accepted Put.
func (m *Metrics) PutRecorded(variable string) {
	if m == nil {
		return
	}
	m.puts.Inc()
	if m.varPuts != nil {
		m.varPuts.WithLabelValues(variable).Inc()
	}
}

// GetRecorded counts one served Get.
func (m *Metrics) GetRecorded(variable string) {
	if m == nil {
		return
	}
	m.gets.Inc()
	if m.varGets != nil {
		m.varGets.WithLabelValues(variable).Inc()
	}
}

// BytesWritten adds n to the written-byte counter.
func (m *Metrics) BytesWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesWritten.Add(float64(n))
}

// BytesRead adds n to the read-byte counter.
func (m *Metrics) BytesRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesRead.Add(float64(n))
}

// FlushObserved records the duration of one step flush.
func (m *Metrics) FlushObserved(d time.Duration) {
	if m == nil {
		return
	}
	m.flushSeconds.Observe(d.Seconds())
}

// ArenaHighWater records the staging arena's peak usage.
func (m *Metrics) ArenaHighWater(bytes uint64) {
	if m == nil {
		return
	}
	m.arenaPeak.Set(float64(bytes))
}

// Registry exposes the underlying registry for callers that combine
// collector sets. Nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus text exposition of the collector set.
// With metrics disabled it serves an empty exposition rather than an
// error, so scrape targets stay healthy across level changes.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
