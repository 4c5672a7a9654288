// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCounterAccumulatesAndRegistersPrometheus(t *testing.T) {
	prom := prometheus.NewRegistry()
	reg := NewRegistry(prom)

	c := reg.Counter("messages_sent_total", "messages sent")
	c.Inc()
	c.Add(4)
	require.Equal(t, uint64(5), c.Read())

	mfs, err := prom.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	require.Equal(t, "messages_sent_total", mfs[0].GetName())
}

func TestGaugeTracksLatestValue(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	g := reg.Gauge("queue_depth", "pending frames")
	g.Set(3)
	g.Add(2)
	require.Equal(t, float64(5), g.Read())
}

func TestSameNameReturnsSameInstance(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	a := reg.Counter("x", "x")
	b := reg.Counter("x", "x")
	a.Inc()
	require.Equal(t, uint64(1), b.Read())
}

func TestSnapshotReflectsAllMetrics(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.Counter("c1", "").Add(7)
	reg.Gauge("g1", "").Set(1.5)

	snap := reg.Snapshot()
	require.Equal(t, uint64(7), snap.Counters["c1"])
	require.Equal(t, 1.5, snap.Gauges["g1"])
}

func TestJSONFileSinkAppendsLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.jsonl")
	sink := NewJSONFileSink(path)

	require.NoError(t, sink.Publish(Snapshot{Counters: map[string]uint64{"a": 1}}))
	require.NoError(t, sink.Publish(Snapshot{Counters: map[string]uint64{"a": 2}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"a":1`)
	require.Contains(t, string(data), `"a":2`)
}

func TestRegisterIntoMultiGatherer(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.Counter("frames_sent_total", "").Inc()

	multi := metric.NewMultiGatherer()
	require.NoError(t, reg.RegisterInto(multi, "ecu1"))

	mfs, err := multi.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
}

func TestPublisherRunStopsOnContextDone(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.Counter("x", "").Inc()
	dir := t.TempDir()
	sink := NewJSONFileSink(filepath.Join(dir, "out.jsonl"))
	pub := NewPublisher(reg, time.Millisecond, nil, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	pub.Run(ctx)
}
