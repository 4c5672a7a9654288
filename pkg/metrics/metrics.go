// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics is the participant's statistics pipeline (spec.md
// §1, experimental.metrics of §6.2): counters and gauges collected
// locally, exported through Prometheus, and periodically snapshotted
// to the configured sinks.
package metrics

import (
	"sync"

	"github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a monotonically increasing statistic (messages sent,
// frames dropped, …).
type Counter interface {
	Inc()
	Add(delta uint64)
	Read() uint64
}

// Gauge is a point-in-time value (queue depth, time-sync step
// duration, …) that can move in either direction.
type Gauge interface {
	Set(value float64)
	Add(delta float64)
	Read() float64
}

type counter struct {
	mu   sync.RWMutex
	v    uint64
	prom prometheus.Counter
}

func (c *counter) Inc() { c.Add(1) }

func (c *counter) Add(delta uint64) {
	c.mu.Lock()
	c.v += delta
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.Add(float64(delta))
	}
}

func (c *counter) Read() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

type gauge struct {
	mu   sync.RWMutex
	v    float64
	prom prometheus.Gauge
}

func (g *gauge) Set(value float64) {
	g.mu.Lock()
	g.v = value
	g.mu.Unlock()
	if g.prom != nil {
		g.prom.Set(value)
	}
}

func (g *gauge) Add(delta float64) {
	g.mu.Lock()
	g.v += delta
	g.mu.Unlock()
	if g.prom != nil {
		g.prom.Add(delta)
	}
}

func (g *gauge) Read() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.v
}

// Registry owns the named counters and gauges of one participant,
// mirroring every one into a Prometheus registerer so the same values
// are reachable both in-process (for sinks) and by scrape. It also
// registers itself as one named source in a MultiGatherer, so a single
// process hosting several participants (or a participant plus its bus
// controllers) can expose one combined scrape endpoint the way the
// teacher's api/metrics.MultiGatherer composes per-subsystem gatherers.
type Registry struct {
	prom prometheus.Registerer
	gath prometheus.Gatherer

	mu       sync.Mutex
	counters map[string]Counter
	gauges   map[string]Gauge
}

// NewRegistry creates a Registry backed by prom. If prom also
// implements prometheus.Gatherer (as a *prometheus.Registry does), it
// is used as the gatherer too. Pass a fresh *prometheus.Registry for an
// isolated registry per participant, or prometheus.DefaultRegisterer to
// share the process-wide one.
func NewRegistry(prom prometheus.Registerer) *Registry {
	gatherer, _ := prom.(prometheus.Gatherer)
	return &Registry{prom: prom, gath: gatherer, counters: make(map[string]Counter), gauges: make(map[string]Gauge)}
}

// RegisterInto adds this Registry's metrics, under namespace, to a
// shared multi-gatherer so a process with several participants can
// expose one combined scrape endpoint.
func (r *Registry) RegisterInto(multi metric.MultiGatherer, namespace string) error {
	if r.gath == nil {
		return nil
	}
	return multi.Register(namespace, r.gath)
}

// Counter returns the named counter, creating and registering it with
// Prometheus on first use. Subsequent calls with the same name return
// the same instance.
func (r *Registry) Counter(name, help string) Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	pc := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if r.prom != nil {
		_ = r.prom.Register(pc)
	}
	c := &counter{prom: pc}
	r.counters[name] = c
	return c
}

// Gauge returns the named gauge, creating and registering it with
// Prometheus on first use.
func (r *Registry) Gauge(name, help string) Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	pg := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	if r.prom != nil {
		_ = r.prom.Register(pg)
	}
	g := &gauge{prom: pg}
	r.gauges[name] = g
	return g
}

// Snapshot is one point-in-time reading of every metric, the unit a
// Sink consumes (spec.md §6.2's experimental.metrics.sinks).
type Snapshot struct {
	Counters map[string]uint64
	Gauges   map[string]float64
}

// Snapshot reads every registered metric without resetting any of
// them.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{Counters: make(map[string]uint64, len(r.counters)), Gauges: make(map[string]float64, len(r.gauges))}
	for name, c := range r.counters {
		snap.Counters[name] = c.Read()
	}
	for name, g := range r.gauges {
		snap.Gauges[name] = g.Read()
	}
	return snap
}
