// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

// AggregationMode controls how a Peer's write loop drains its outbound
// queue (spec.md §4.2). In every mode each frame is written with its
// own WriteFrame call; frames are not merged into a single send syscall.
type AggregationMode uint8

const (
	// AggregationOff writes one queued frame per write-loop iteration.
	AggregationOff AggregationMode = iota
	// AggregationOn writes every frame already queued behind the first
	// in one pass of the write loop, without waiting for more.
	AggregationOn
	// AggregationAuto is collapsed to On or Off by Resolve. A Peer
	// constructed with AggregationAuto drains its queue exactly like
	// AggregationOn; nothing in this module calls Resolve.
	AggregationAuto
)

// Resolve collapses Auto into On/Off given whether the caller
// currently wants batched sends.
func (m AggregationMode) Resolve(batchingWanted bool) AggregationMode {
	if m != AggregationAuto {
		return m
	}
	if batchingWanted {
		return AggregationOn
	}
	return AggregationOff
}
