/*
NAME
  repeater.go

DESCRIPTION
  repeater.go provides Repeater, a pipeline.Pipe that tracks the latest
  version of one designated table's PID and re-injects it ahead of the
  current packet every N forwarded packets, so a receiver joining the
  stream mid-way can still acquire the table without waiting for its
  natural carousel cycle.

  The packet-count cadence (counting forwarded packets rather than wall
  clock time) is adapted from the teacher's PacketBasedPSI option
  (container/mts/options.go), which drove an encoder's own periodic PSI
  insertion the same way.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package repeater provides Repeater, the table carousel re-injection
// stage.
package repeater

import (
	"github.com/pkg/errors"

	"github.com/ausocean/tsflow/container/mts"
	"github.com/ausocean/tsflow/pipeline"
	"github.com/ausocean/tsflow/table"
)

// Logger is the ambient logging interface threaded through Repeater for the
// recoverable errors it can drop (malformed tables).
type Logger interface {
	Debug(msg string, params ...interface{})
	Warning(msg string, params ...interface{})
	Error(msg string, params ...interface{})
}

// Period is the re-injection cadence strategy: Due reports whether the
// repeater should re-inject on the current packet, and Reset is called
// immediately after an injection. The default, CountPeriod, counts
// forwarded packets; it is a separate type so a different cadence (time
// based, for instance) can be substituted without changing Repeater.
type Period interface {
	Due() bool
	Tick()
	Reset()
}

// CountPeriod re-injects every N forwarded packets.
type CountPeriod struct {
	N     int
	count int
}

// NewCountPeriod creates a CountPeriod re-injecting every n packets.
func NewCountPeriod(n int) *CountPeriod { return &CountPeriod{N: n} }

// Due reports whether n packets have been forwarded since the last
// injection (or since creation).
func (c *CountPeriod) Due() bool { return c.count >= c.N }

// Tick counts one forwarded packet.
func (c *CountPeriod) Tick() { c.count++ }

// Reset zeroes the forwarded-packet count.
func (c *CountPeriod) Reset() { c.count = 0 }

// Repeater watches pid for PSI sections (via an embedded table.Handler),
// keeping the most recently seen section, and re-injects a freshly built
// packet carrying that section ahead of the current packet whenever period
// reports Due. A new-version sighting updates the tracked section
// immediately without resetting the period's counter.
type Repeater struct {
	pipeline.BaseConsumers

	pid     uint16
	period  Period
	handler *table.Handler
	latest  []byte
	log     Logger

	flushed bool
}

// NewRepeater creates a Repeater watching pid, re-injecting its latest
// known section according to period. log may be nil.
func NewRepeater(pid uint16, period Period, log Logger) *Repeater {
	r := &Repeater{pid: pid, period: period, log: log}
	r.handler = table.NewHandler(r.onSection, log)
	r.handler.Watch(pid)
	return r
}

// onSection records the latest section seen for the watched PID.
func (r *Repeater) onSection(_ uint16, section []byte) error {
	r.latest = section
	return nil
}

// SendPacket feeds p to the table handler to keep the tracked section
// current, then (if due) re-injects a packet carrying that section ahead
// of p, and finally forwards p itself. A nil p flushes the stage exactly
// once.
func (r *Repeater) SendPacket(p *mts.Packet) (pipeline.Result, error) {
	if r.flushed {
		return pipeline.Success, errors.Wrap(pipeline.ErrInvalidOperation, "repeater: send after flush")
	}
	if p == nil {
		r.flushed = true
		return r.SendToEach(nil, pipeline.Never)
	}

	if _, _, err := r.handler.Feed(p); err != nil {
		// Malformed table: keep the previous section, drop this update.
		if r.log != nil {
			r.log.Warning("repeater: dropping malformed table", "pid", r.pid, "error", err.Error())
		}
	}

	if r.latest != nil && r.period.Due() {
		inject, err := buildInjectionPacket(r.pid, r.latest)
		if err == nil {
			if res, sendErr := r.SendToEach(inject, pipeline.Never); res != pipeline.Success || sendErr != nil {
				return res, sendErr
			}
			r.period.Reset()
		}
	}

	r.period.Tick()
	return r.SendToEach(p, pipeline.Never)
}

// buildInjectionPacket wraps section in a single TS packet addressed to
// pid, padding the remainder with 0xff, matching how a single-section
// PAT/PMT/SDT is always carried in one packet for the table sizes tsflow
// deals with.
func buildInjectionPacket(pid uint16, section []byte) (*mts.Packet, error) {
	var pkt mts.Packet
	pkt[0] = mts.SyncByte
	pkt.SetPID(pid)
	pkt[1] |= 0x40 // PUSI
	pkt[3] = 0x10  // payload only, CC left at 0 -- corrector.CCCorrector will fix it up.
	pointer := append([]byte{0x00}, section...)
	if err := pkt.SetPointerlessPayload(pointer); err != nil {
		return nil, err
	}
	return &pkt, nil
}
