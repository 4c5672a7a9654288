// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package systemstate implements the system-state tracker (spec.md
// §4.9): it aggregates ParticipantStatus ingress from every peer into
// a derived SystemState, and serves as the coordination Gate the
// lifecycle FSM blocks on in ModeCoordinated.
package systemstate

import (
	"sync"

	"github.com/luxfi/log"

	"github.com/vectorgrp/sil-kit-sub006/pkg/lifecycle"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// Tracker holds the declared required-participants set and the most
// recently ingested ParticipantStatus per participant, computing the
// derived SystemState as a pure function of that map (spec.md §3's
// determinism invariant).
type Tracker struct {
	log log.Logger

	mu          sync.Mutex
	required    map[string]struct{}
	states      map[string]wire.ParticipantStatus
	changeCh    chan struct{}
	systemState lifecycle.State

	onSystemState func(lifecycle.State)
	onStatus      func(wire.ParticipantStatus)
}

// New creates a Tracker restricted to required (spec.md §4.9: "empty
// by default"). An empty set means no participant gates coordination
// and SystemState reports lifecycle.Invalid, since the aggregate is
// undefined with nothing to aggregate over.
func New(required []string, logger log.Logger) *Tracker {
	req := make(map[string]struct{}, len(required))
	for _, n := range required {
		req[n] = struct{}{}
	}
	return &Tracker{
		log:         logger,
		required:    req,
		states:      make(map[string]wire.ParticipantStatus),
		changeCh:    make(chan struct{}),
		systemState: lifecycle.Invalid,
	}
}

// SetRequiredParticipants replaces the required set, as installed by
// the designated workflow-configuration controller (spec.md §4.9).
func (t *Tracker) SetRequiredParticipants(names []string) {
	t.mu.Lock()
	t.required = make(map[string]struct{}, len(names))
	for _, n := range names {
		t.required[n] = struct{}{}
	}
	t.recomputeLocked()
	t.mu.Unlock()
}

// OnSystemStateHandler installs the callback fired whenever the
// computed SystemState changes.
func (t *Tracker) OnSystemStateHandler(fn func(lifecycle.State)) { t.onSystemState = fn }

// OnParticipantStatusHandler installs the callback fired on every
// ingress status, independent of whether it changed SystemState.
func (t *Tracker) OnParticipantStatusHandler(fn func(wire.ParticipantStatus)) { t.onStatus = fn }

// Ingest records status and recomputes SystemState, firing handlers
// as needed (spec.md §4.9).
func (t *Tracker) Ingest(status wire.ParticipantStatus) {
	t.mu.Lock()
	t.states[status.ParticipantName] = status
	changed := t.recomputeLocked()
	newState := t.systemState
	t.mu.Unlock()

	if t.onStatus != nil {
		t.onStatus(status)
	}
	if changed && t.onSystemState != nil {
		t.onSystemState(newState)
	}
}

// recomputeLocked must be called with mu held. It updates
// t.systemState and wakes any Gate waiters, returning whether the
// state changed.
func (t *Tracker) recomputeLocked() bool {
	newState := t.computeLocked()
	changed := newState != t.systemState
	t.systemState = newState
	old := t.changeCh
	t.changeCh = make(chan struct{})
	close(old)
	return changed
}

func (t *Tracker) computeLocked() lifecycle.State {
	if len(t.required) == 0 {
		return lifecycle.Invalid
	}
	haveAll := true
	anyError := false
	min := lifecycle.Aborting // the largest enum value, as a starting ceiling
	for name := range t.required {
		st, ok := t.states[name]
		if !ok {
			haveAll = false
			continue
		}
		ls := lifecycle.State(st.State)
		if ls == lifecycle.Error {
			anyError = true
		}
		if ls < min {
			min = ls
		}
	}
	if anyError {
		return lifecycle.Error
	}
	if !haveAll {
		return lifecycle.Invalid
	}
	return min
}

// SystemState returns the most recently computed aggregate.
func (t *Tracker) SystemState() lifecycle.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.systemState
}

// IsParticipantConnected reports whether name has ever reported a
// status to this tracker. Queries like this run concurrently with
// status ingress (spec.md §5) and are therefore served under mu
// rather than only from the I/O context.
func (t *Tracker) IsParticipantConnected(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.states[name]
	return ok
}

// LastStatus returns the most recently ingested ParticipantStatus for
// name, if any has ever been reported. Used on disconnect to decide
// whether a synthesized status is redundant with one already known
// (spec.md §4.9).
func (t *Tracker) LastStatus(name string) (wire.ParticipantStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[name]
	return st, ok
}

// Gate implements lifecycle.Gate: it returns a channel that closes
// once every required participant has reported a state of at least
// target (spec.md §4.8's coordinated blocking). With no required
// participants the channel closes immediately — coordination is
// vacuously satisfied.
func (t *Tracker) Gate(target lifecycle.State) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for {
			t.mu.Lock()
			if t.allReachedLocked(target) {
				t.mu.Unlock()
				close(ch)
				return
			}
			wait := t.changeCh
			t.mu.Unlock()
			<-wait
		}
	}()
	return ch
}

func (t *Tracker) allReachedLocked(target lifecycle.State) bool {
	for name := range t.required {
		st, ok := t.states[name]
		if !ok {
			return false
		}
		if lifecycle.State(st.State) < target {
			return false
		}
	}
	return true
}
