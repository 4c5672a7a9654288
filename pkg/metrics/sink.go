// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/zap"
)

// Sink consumes periodic Snapshots; it never blocks the caller for
// longer than one Publish call.
type Sink interface {
	Publish(Snapshot) error
}

// JSONFileSink appends one JSON line per snapshot, the "JsonFile" sink
// type of spec.md §6.2.
type JSONFileSink struct {
	path string
}

// NewJSONFileSink records path; the file is not opened here. Each
// Publish opens it for appending (creating it if needed) and closes it.
func NewJSONFileSink(path string) *JSONFileSink { return &JSONFileSink{path: path} }

func (s *JSONFileSink) Publish(snap Snapshot) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("metrics: open sink file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(snap)
}

// LogSink writes each snapshot at Debug level, useful when no remote
// collector is configured.
type LogSink struct {
	log log.Logger
}

// NewLogSink wraps logger as a Sink.
func NewLogSink(logger log.Logger) *LogSink { return &LogSink{log: logger} }

func (s *LogSink) Publish(snap Snapshot) error {
	s.log.Debug("metrics: snapshot", zap.Int("counters", len(snap.Counters)), zap.Int("gauges", len(snap.Gauges)))
	return nil
}

// Publisher periodically snapshots a Registry and fans it out to every
// configured Sink, the "updateInterval" loop of spec.md §6.2.
type Publisher struct {
	reg      *Registry
	sinks    []Sink
	interval time.Duration
	log      log.Logger
}

// NewPublisher creates a Publisher that snapshots reg every interval
// and forwards to sinks.
func NewPublisher(reg *Registry, interval time.Duration, logger log.Logger, sinks ...Sink) *Publisher {
	return &Publisher{reg: reg, sinks: sinks, interval: interval, log: logger}
}

// Run blocks, publishing snapshots until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	if p.interval <= 0 || len(p.sinks) == 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := p.reg.Snapshot()
			for _, sink := range p.sinks {
				if err := sink.Publish(snap); err != nil {
					p.log.Warn("metrics: sink publish failed", zap.Error(err))
				}
			}
		}
	}
}
