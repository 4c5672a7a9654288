// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lifecycle implements the per-participant state machine and
// its coordinated/autonomous operation modes (spec.md §4.8).
package lifecycle

// State is one node of the per-participant lifecycle FSM (spec.md
// §4.8). Declaration order is the ordering the system-state tracker
// uses to compute its aggregate minimum (spec.md §4.9: "earlier states
// are smaller").
type State uint8

const (
	Invalid State = iota
	ServicesCreated
	CommunicationInitializing
	CommunicationInitialized
	ReadyToRun
	Running
	Paused
	Stopping
	Stopped
	ShuttingDown
	Shutdown
	Error
	Aborting
)

func (s State) String() string {
	switch s {
	case Invalid:
		return "Invalid"
	case ServicesCreated:
		return "ServicesCreated"
	case CommunicationInitializing:
		return "CommunicationInitializing"
	case CommunicationInitialized:
		return "CommunicationInitialized"
	case ReadyToRun:
		return "ReadyToRun"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	case ShuttingDown:
		return "ShuttingDown"
	case Shutdown:
		return "Shutdown"
	case Error:
		return "Error"
	case Aborting:
		return "Aborting"
	default:
		return "Unknown"
	}
}

// OperationMode selects whether the FSM advances on its own schedule
// or blocks for the system-wide required-participant state (spec.md
// §4.8).
type OperationMode uint8

const (
	ModeInvalid OperationMode = iota
	ModeAutonomous
	ModeCoordinated
)

// coordinatedGates are the states coordinated mode blocks in, waiting
// for every required participant to reach at least that state before
// proceeding (spec.md §4.8).
var coordinatedGates = map[State]bool{
	ServicesCreated:           true,
	CommunicationInitializing: true,
	CommunicationInitialized:  true,
	ReadyToRun:                true,
	Stopping:                  true,
	ShuttingDown:              true,
}

// legalTransition reports whether to is a permitted next state from
// from, per the abridged table of spec.md §4.8.
func legalTransition(from, to State) bool {
	if to == Aborting {
		return from != Shutdown
	}
	if to == Error {
		return from != Shutdown && from != Error && from != Aborting
	}
	switch from {
	case Invalid:
		return to == ServicesCreated
	case ServicesCreated:
		return to == CommunicationInitializing
	case CommunicationInitializing:
		return to == CommunicationInitialized
	case CommunicationInitialized:
		return to == ReadyToRun
	case ReadyToRun:
		return to == Running
	case Running:
		return to == Paused || to == Stopping
	case Paused:
		return to == Running || to == Stopping
	case Stopping:
		return to == Stopped
	case Stopped:
		return to == ShuttingDown
	case ShuttingDown:
		return to == Shutdown
	case Error:
		return to == ShuttingDown
	case Aborting:
		return to == Shutdown
	default:
		return false
	}
}
