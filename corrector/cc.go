/*
NAME
  cc.go

DESCRIPTION
  cc.go provides CCCorrector, a pipeline.Pipe that rewrites each packet's
  continuity counter so the outgoing stream is always numerically
  continuous per-PID, even when packets have been dropped, inserted, or
  reordered upstream (by changer.PIDChanger, repeater.Repeater, or
  join.JoinedTsStream). Adapted from the teacher's DiscontinuityRepairer, which did
  the same correction for a fixed PAT/PMT/video PID set using the
  discontinuity indicator as the repair signal; here every PID is tracked
  and the counter itself is rewritten rather than just the indicator.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package corrector provides CCCorrector, the per-PID continuity-counter
// repair stage.
package corrector

import (
	"github.com/pkg/errors"

	"github.com/ausocean/tsflow/container/mts"
	"github.com/ausocean/tsflow/pipeline"
)

// CCCorrector tracks the last emitted continuity counter for every PID it
// has seen and rewrites each incoming packet's CC to be one more (mod 16)
// than the last, unless the packet carries the discontinuity indicator -
// in which case the counter re-syncs to the incoming CC without alteration,
// exactly matching the tsduck CCCorrector's re-sync rule.
type CCCorrector struct {
	pipeline.BaseConsumers
	last    map[uint16]byte
	flushed bool
}

// NewCCCorrector creates an empty CCCorrector.
func NewCCCorrector() *CCCorrector {
	return &CCCorrector{last: make(map[uint16]byte)}
}

// SendPacket corrects p's continuity counter in place, then fans it out to
// every registered consumer, exactly as tsduck's CCCorrector::SendPacket
// calls CorrectCC before forwarding. A nil p flushes the stage exactly
// once; any send after that returns pipeline.ErrInvalidOperation.
func (c *CCCorrector) SendPacket(p *mts.Packet) (pipeline.Result, error) {
	if c.flushed {
		return pipeline.Success, errors.Wrap(pipeline.ErrInvalidOperation, "cc corrector: send after flush")
	}
	if p == nil {
		c.flushed = true
		return c.SendToEach(nil, pipeline.Never)
	}
	c.correct(p)
	return c.SendToEach(p, pipeline.Never)
}

// correct rewrites p's CC in place following the per-PID counter rule.
func (c *CCCorrector) correct(p *mts.Packet) {
	pid := p.PID()
	last, seen := c.last[pid]

	if !seen {
		// First sighting of this PID seeds the counter; the packet passes
		// through with whatever CC it already carries.
		c.last[pid] = p.CC()
		return
	}

	if p.DiscontinuityIndicator() {
		// Discontinuity: re-sync to whatever CC the packet carries,
		// unaltered.
		c.last[pid] = p.CC()
		return
	}

	next := (last + 1) & 0x0f
	p.SetCC(next)
	c.last[pid] = next
}
