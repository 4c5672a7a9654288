// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package participant

import (
	"context"

	"github.com/vectorgrp/sil-kit-sub006/pkg/lifecycle"
)

// runOrder is the single legal forward path through the lifecycle FSM
// short of Stop/Error/Abort (spec.md §4.8): StartLifecycle drives it
// end to end, publishing status after every transition so the
// system-state tracker (and every peer's copy of it) observes the
// same sequence.
var runOrder = []lifecycle.State{
	lifecycle.ServicesCreated,
	lifecycle.CommunicationInitializing,
	lifecycle.CommunicationInitialized,
	lifecycle.ReadyToRun,
	lifecycle.Running,
}

// StartLifecycle drives the participant from Invalid to Running,
// publishing its status after each transition (spec.md §4.8, §4.9).
// In ModeCoordinated it blocks at each gated state until every
// required participant has caught up.
func (p *Participant) StartLifecycle(ctx context.Context) error {
	for _, state := range runOrder {
		if err := p.FSM.Enter(ctx, state); err != nil {
			return err
		}
		p.PublishStatus("")
	}
	return nil
}

// Stop drives the participant through Stopping/Stopped, the
// controlled shutdown path requested by RequestStop (spec.md §4.8).
func (p *Participant) Stop(ctx context.Context) error {
	p.FSM.RequestStop()
	if err := p.FSM.Enter(ctx, lifecycle.Stopping); err != nil {
		return err
	}
	p.PublishStatus("stop requested")
	if err := p.FSM.Enter(ctx, lifecycle.Stopped); err != nil {
		return err
	}
	p.PublishStatus("")
	return nil
}

// Shutdown drives the participant through ShuttingDown/Shutdown and
// closes every connection (spec.md §4.8's terminal path).
func (p *Participant) Shutdown(ctx context.Context) error {
	if err := p.FSM.Enter(ctx, lifecycle.ShuttingDown); err != nil {
		return err
	}
	p.PublishStatus("")
	if err := p.FSM.Enter(ctx, lifecycle.Shutdown); err != nil {
		return err
	}
	p.PublishStatus("")
	p.Close()
	return nil
}

// Abort drives the participant directly to Aborting then Shutdown
// from whatever state it was in (spec.md §8 scenario 5).
func (p *Participant) Abort(ctx context.Context) error {
	if err := p.FSM.Enter(ctx, lifecycle.Aborting); err != nil {
		return err
	}
	p.PublishStatus("aborted")
	if err := p.FSM.Enter(ctx, lifecycle.Shutdown); err != nil {
		return err
	}
	p.PublishStatus("")
	p.Close()
	return nil
}
