// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package timesync implements the distributed next-step barrier
// (spec.md §4.7): the virtual-time synchronization algorithm that lets
// N participants agree on simulation time steps with at-most-one step
// per participant in flight.
package timesync

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/zap"

	"github.com/vectorgrp/sil-kit-sub006/pkg/conn"
	"github.com/vectorgrp/sil-kit-sub006/pkg/lifecycle"
	"github.com/vectorgrp/sil-kit-sub006/pkg/wire"
)

// wallClockSpinWindow bounds the busy-wait tail of the hybrid sleep
// used by wall-clock coupling (spec.md §4.7): sleep coarsely to within
// this margin of the target, then spin for precision.
const wallClockSpinWindow = 2 * time.Millisecond

// StepMode selects whether the step handler blocks the barrier until
// it returns (Synchronous) or signals completion later via
// CompleteSimulationStep (Asynchronous) (spec.md §4.7).
type StepMode uint8

const (
	Synchronous StepMode = iota
	Asynchronous
)

// AdvanceMode selects the fixed-duration policy or the adaptive one
// driven by the slowest peer's alignment window (spec.md §4.7).
type AdvanceMode uint8

const (
	AdvanceFixed AdvanceMode = iota
	AdvanceByMinimalDuration
)

// Task is one {timePoint, duration} pair, both in nanoseconds
// (spec.md §4.7).
type Task struct {
	TimePoint int64
	Duration  int64
}

// Config are the configuration-time choices of spec.md §6.2's
// experimental.timeSynchronization section.
type Config struct {
	StepDuration    time.Duration
	StepMode        StepMode
	AdvanceMode     AdvanceMode
	AnimationFactor float64 // 0 disables wall-clock coupling
	SoftTimeout     time.Duration
	HardTimeout     time.Duration
}

// SyncStepHandler is invoked once per barrier round in Synchronous
// mode; the barrier waits for it to return before advancing.
type SyncStepHandler func(ctx context.Context, now, duration time.Duration)

// AsyncStepHandler is invoked once per barrier round in Asynchronous
// mode; the caller must eventually call CompleteSimulationStep.
type AsyncStepHandler func(now, duration time.Duration)

// Barrier runs the distributed next-step protocol for one participant.
// Every state mutation and step invocation happens on the connection's
// I/O progress context (spec.md §5); Barrier itself only guards its
// own fields with mu so RemovePeer/metrics queries can run elsewhere.
type Barrier struct {
	log      log.Logger
	conn     *conn.Connection
	fsm      *lifecycle.FSM
	selfName string
	cfg      Config

	onWatchdogExpired func()
	systemErrored     func() bool
	syncHandler       SyncStepHandler
	asyncHandler      AsyncStepHandler

	mu            sync.Mutex
	currentTask   Task
	myNextTask    Task
	others        map[string]Task
	executingStep bool
	started       bool
	startTime     time.Time
	runCtx        context.Context
}

// New creates a Barrier for selfName, registering its NextSimTask
// receiver on c.
func New(selfName string, c *conn.Connection, fsmRef *lifecycle.FSM, cfg Config, logger log.Logger) *Barrier {
	if cfg.StepDuration <= 0 {
		cfg.StepDuration = time.Millisecond
	}
	b := &Barrier{
		log:      logger,
		conn:     c,
		fsm:      fsmRef,
		selfName: selfName,
		cfg:      cfg,
		others:   make(map[string]Task),

		currentTask: Task{Duration: int64(cfg.StepDuration)},
		myNextTask:  Task{Duration: int64(cfg.StepDuration)},
	}
	c.AddReceiver(conn.ReceiverKey{Kind: wire.KindNextSimTask}, b.handleRemoteNextSimTask)
	return b
}

// SetSyncStepHandler installs the Synchronous-mode step callback.
func (b *Barrier) SetSyncStepHandler(fn SyncStepHandler) { b.syncHandler = fn }

// SetAsyncStepHandler installs the Asynchronous-mode step callback.
func (b *Barrier) SetAsyncStepHandler(fn AsyncStepHandler) { b.asyncHandler = fn }

// OnWatchdogExpired installs the callback fired when a synchronous
// step exceeds its hard timeout (spec.md §4.7's WatchdogExpired error
// kind, §7): the participant's FSM should escalate to lifecycle.Error.
func (b *Barrier) OnWatchdogExpired(fn func()) { b.onWatchdogExpired = fn }

// SetSystemErroredFn installs the predicate consulted by the advance
// condition (spec.md §4.7 item 3: "System is not in Error"), backed
// by the system-state tracker's aggregate.
func (b *Barrier) SetSystemErroredFn(fn func() bool) { b.systemErrored = fn }

// Start begins the barrier on entering Running: it resolves hop-on
// (spec.md §4.7 item 6), sends the initial NextSimTask, starts
// wall-clock coupling if configured, and evaluates the first round.
func (b *Barrier) Start(ctx context.Context) error {
	b.mu.Lock()
	b.runCtx = ctx
	b.startTime = time.Now()
	b.started = true

	if _, err := b.resolveHopOnLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	myNext := b.myNextTask
	b.mu.Unlock()

	b.broadcastNextSimTask(myNext)
	if b.cfg.AnimationFactor > 0 {
		go b.runWallClockCoupling(ctx)
	}
	b.tryAdvance()
	return nil
}

// ErrCoordinatedHopOn is returned by Start when a coordinated
// participant detects it is joining after time has already advanced
// (spec.md §4.7 item 6): "a coordinated participant cannot join late."
var ErrCoordinatedHopOn = hopOnError{}

type hopOnError struct{}

func (hopOnError) Error() string {
	return "timesync: coordinated participant cannot hop on after time has advanced"
}

// resolveHopOnLocked must be called with mu held, before the first
// NextSimTask is sent. It detects whether any known peer has already
// advanced past step zero and, for autonomous participants, aligns
// myNextTask to the lowest time point among all known peers.
func (b *Barrier) resolveHopOnLocked() (hopOn bool, err error) {
	var minTP int64
	first := true
	for _, t := range b.others {
		if t.TimePoint > t.Duration {
			hopOn = true
		}
		if first || t.TimePoint < minTP {
			minTP = t.TimePoint
			first = false
		}
	}
	if !hopOn {
		return false, nil
	}
	if b.fsm.Mode() == lifecycle.ModeCoordinated {
		return true, ErrCoordinatedHopOn
	}
	b.currentTask.TimePoint = minTP
	b.myNextTask.TimePoint = minTP
	return true, nil
}

func (b *Barrier) handleRemoteNextSimTask(from wire.ServiceDescriptor, payload []byte) {
	task, err := wire.UnmarshalNextSimTask(payload)
	if err != nil {
		b.log.Warn("timesync: malformed NextSimTask", zap.Error(err))
		return
	}
	b.mu.Lock()
	prev, had := b.others[from.ParticipantName]
	if had && task.TimePoint < prev.TimePoint {
		b.mu.Unlock()
		b.log.Warn("timesync: chronology violation, ignoring",
			zap.String("peer", from.ParticipantName), zap.Int64("got", task.TimePoint), zap.Int64("have", prev.TimePoint))
		return
	}
	b.others[from.ParticipantName] = Task{TimePoint: task.TimePoint, Duration: task.Duration}
	b.mu.Unlock()

	b.tryAdvance()
}

// RemovePeer drops a departed peer from the barrier's view, and
// re-evaluates the advance condition immediately (spec.md §4.7 item 7).
func (b *Barrier) RemovePeer(name string) {
	b.mu.Lock()
	delete(b.others, name)
	b.mu.Unlock()
	b.tryAdvance()
}

// advanceConditionLocked evaluates spec.md §4.7 item 3. Must be
// called with mu held.
func (b *Barrier) advanceConditionLocked(systemErrored bool) bool {
	if !b.started || b.executingStep {
		return false
	}
	state := b.fsm.State()
	if state != lifecycle.Running {
		return false
	}
	if b.fsm.StopRequested() || b.fsm.PauseRequested() {
		return false
	}
	if systemErrored {
		return false
	}
	for _, t := range b.others {
		if b.myNextTask.TimePoint > t.TimePoint {
			return false
		}
	}
	if b.cfg.AnimationFactor > 0 {
		target := b.startTime.Add(time.Duration(float64(b.myNextTask.TimePoint) * b.cfg.AnimationFactor))
		if time.Now().Before(target) {
			return false
		}
	}
	return true
}

// applyAdaptiveDurationLocked implements spec.md §4.7 item 5,
// clamping currentTask.Duration to the tightest alignment window
// across every known peer before invoking the step.
func (b *Barrier) applyAdaptiveDurationLocked() {
	minAligned := int64(-1)
	for _, t := range b.others {
		aligned := t.TimePoint + t.Duration - b.currentTask.TimePoint
		if minAligned < 0 || aligned < minAligned {
			minAligned = aligned
		}
	}
	dur := int64(b.cfg.StepDuration)
	if minAligned >= 0 && minAligned < dur {
		dur = minAligned
	}
	if dur < 0 {
		dur = 0
	}
	b.currentTask.Duration = dur
}

// tryAdvance checks the advance condition and, if it holds, runs one
// barrier round (spec.md §4.7 item 4).
func (b *Barrier) tryAdvance() {
	b.mu.Lock()
	errored := b.systemErrored != nil && b.systemErrored()
	if !b.advanceConditionLocked(errored) {
		b.mu.Unlock()
		return
	}
	if b.cfg.AdvanceMode == AdvanceByMinimalDuration {
		b.applyAdaptiveDurationLocked()
	}
	current := b.currentTask
	ctx := b.runCtx
	mode := b.cfg.StepMode
	b.mu.Unlock()

	if mode == Synchronous {
		b.runSyncStep(ctx, current)
		return
	}

	b.mu.Lock()
	b.executingStep = true
	handler := b.asyncHandler
	b.mu.Unlock()
	if handler != nil {
		handler(time.Duration(current.TimePoint), time.Duration(current.Duration))
	} else {
		b.CompleteSimulationStep()
	}
}

// runSyncStep invokes the synchronous handler under the watchdog and
// advances on return (spec.md §4.7's watchdog).
func (b *Barrier) runSyncStep(ctx context.Context, current Task) {
	done := make(chan struct{})
	go b.runWatchdog(done)

	if b.syncHandler != nil {
		b.syncHandler(ctx, time.Duration(current.TimePoint), time.Duration(current.Duration))
	}
	close(done)
	b.completeRound()
	b.tryAdvance()
}

// CompleteSimulationStep is called by the user once an asynchronous
// step handler has finished (spec.md §4.7 item 4): it advances the
// round and immediately re-evaluates the next one.
func (b *Barrier) CompleteSimulationStep() {
	b.mu.Lock()
	b.executingStep = false
	b.mu.Unlock()
	b.completeRound()
	b.tryAdvance()
}

// completeRound advances myNextTask/currentTask by the duration just
// executed and broadcasts the new claim.
func (b *Barrier) completeRound() {
	b.mu.Lock()
	dur := b.currentTask.Duration
	b.myNextTask.TimePoint += dur
	b.currentTask = b.myNextTask
	next := b.myNextTask
	b.mu.Unlock()
	b.broadcastNextSimTask(next)
}

// broadcastNextSimTask sends task to every connected peer: the barrier
// has no notion of a matched subset, every participant in the
// simulation takes part (spec.md §4.7).
func (b *Barrier) broadcastNextSimTask(task Task) {
	from := wire.ServiceDescriptor{ParticipantName: b.selfName}
	key := conn.ReceiverKey{Kind: wire.KindNextSimTask}
	payload := wire.MarshalNextSimTask(wire.NextSimTask{TimePoint: task.TimePoint, Duration: task.Duration})
	for _, name := range b.conn.PeerNames() {
		if err := b.conn.SendMsgTo(from, name, key, payload); err != nil {
			b.log.Warn("timesync: failed to send NextSimTask", zap.String("peer", name), zap.Error(err))
		}
	}
}

func (b *Barrier) runWatchdog(done <-chan struct{}) {
	if b.cfg.SoftTimeout <= 0 && b.cfg.HardTimeout <= 0 {
		return
	}
	var softCh, hardCh <-chan time.Time
	if b.cfg.SoftTimeout > 0 {
		t := time.NewTimer(b.cfg.SoftTimeout)
		defer t.Stop()
		softCh = t.C
	}
	if b.cfg.HardTimeout > 0 {
		t := time.NewTimer(b.cfg.HardTimeout)
		defer t.Stop()
		hardCh = t.C
	}
	for {
		select {
		case <-done:
			return
		case <-softCh:
			b.log.Warn("timesync: synchronous step exceeded soft timeout")
			softCh = nil
		case <-hardCh:
			b.log.Error("timesync: synchronous step exceeded hard timeout, escalating to Error")
			if b.onWatchdogExpired != nil {
				b.onWatchdogExpired()
			}
			return
		}
	}
}

// runWallClockCoupling is the dedicated thread of spec.md §4.7: it
// waits, via a hybrid coarse-sleep-plus-spin, for real time to reach
// myNextTask.TimePoint × animationFactor from Start, then defers a
// re-evaluation onto the connection's I/O context.
func (b *Barrier) runWallClockCoupling(ctx context.Context) {
	for {
		b.mu.Lock()
		tp := b.myNextTask.TimePoint
		start := b.startTime
		b.mu.Unlock()

		target := start.Add(time.Duration(float64(tp) * b.cfg.AnimationFactor))
		if !b.sleepUntil(ctx, target) {
			return
		}

		b.conn.ExecuteDeferred(b.tryAdvance)

		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

func (b *Barrier) sleepUntil(ctx context.Context, target time.Time) bool {
	wait := time.Until(target)
	if wait > wallClockSpinWindow {
		select {
		case <-time.After(wait - wallClockSpinWindow):
		case <-ctx.Done():
			return false
		}
	}
	for time.Now().Before(target) {
		select {
		case <-ctx.Done():
			return false
		default:
		}
	}
	return true
}
