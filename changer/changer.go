/*
NAME
  changer.go

DESCRIPTION
  changer.go provides PIDChanger, a pipeline.Pipe that rewrites packet PIDs
  according to a PIDMap, and, for PAT/PMT packets, rewrites the table body
  in place (substituting PMT PIDs in a PAT, and PCR/elementary-stream PIDs
  in a PMT), recomputing the CRC and bumping the version afterward.

  The table rewrite-and-recompute-CRC mechanics are adapted from
  toshipp/tstools's tssplit, which performs the same compact-and-recompute
  operation on a PAT to drop unwanted programs; here it substitutes PIDs
  rather than dropping entries.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package changer

import (
	"github.com/pkg/errors"

	"github.com/ausocean/tsflow/container/mts"
	"github.com/ausocean/tsflow/container/mts/psi"
	"github.com/ausocean/tsflow/pipeline"
	"github.com/ausocean/tsflow/table"
)

// Logger is the ambient logging interface threaded through PIDChanger for
// the recoverable errors it can drop (malformed packets/tables).
type Logger interface {
	Debug(msg string, params ...interface{})
	Warning(msg string, params ...interface{})
	Error(msg string, params ...interface{})
}

// PIDChanger rewrites packet PIDs per a PIDMap, and keeps the PAT/PMT it is
// tracking consistent with the rewrite by substituting referenced PIDs in
// the table body, recomputing the CRC, and bumping the version number.
//
// PSI sections are assumed to fit in a single TS packet, matching the scale
// of every table container/mts/psi builds (NewPATPSI/NewPMTPSI/NewSDTPSI
// all serialise to well under one packet's 184-byte payload) -- so the
// packet that completes a section is also the packet its rewritten bytes
// are written back into.
type PIDChanger struct {
	pipeline.BaseConsumers

	pidMap *PIDMap
	log    Logger

	patHandler *table.Handler
	pmtHandler *table.Handler
	versions   *table.VersionTracker

	flushed bool
}

// NewPIDChanger creates a PIDChanger applying m to every packet and table
// it sees. log may be nil.
func NewPIDChanger(m *PIDMap, log Logger) *PIDChanger {
	c := &PIDChanger{
		pidMap: m,
		log:    log,
	}
	c.versions = table.NewVersionTracker(func(pid uint16, version byte, _ []byte) {
		if c.log != nil {
			c.log.Debug("pid changer: table version changed", "pid", pid, "version", version)
		}
	})
	c.patHandler = table.NewHandler(func(uint16, []byte) error { return nil }, log)
	c.patHandler.Watch(mts.PatPid)
	c.pmtHandler = table.NewHandler(func(uint16, []byte) error { return nil }, nil)
	return c
}

// SendPacket rewrites p's PID (raw, then table body if applicable) and fans
// the result out to every registered consumer. A nil p flushes the stage
// exactly once.
func (c *PIDChanger) SendPacket(p *mts.Packet) (pipeline.Result, error) {
	if c.flushed {
		return pipeline.Success, errors.Wrap(pipeline.ErrInvalidOperation, "pid changer: send after flush")
	}
	if p == nil {
		c.flushed = true
		return c.SendToEach(nil, pipeline.Never)
	}

	origPID := p.PID()

	if completed, section, err := c.patHandler.Feed(p); err != nil {
		if c.log != nil {
			c.log.Warning("pid changer: dropping malformed pat", "error", err.Error())
		}
	} else if completed {
		if err := c.rewritePAT(p, section); err != nil && c.log != nil {
			c.log.Warning("pid changer: failed to rewrite pat", "error", err.Error())
		}
	}

	if c.pmtHandler.Watching(origPID) {
		if completed, section, err := c.pmtHandler.Feed(p); err != nil {
			if c.log != nil {
				c.log.Warning("pid changer: dropping malformed pmt", "error", err.Error())
			}
		} else if completed {
			if err := c.rewritePMT(p, origPID, section); err != nil && c.log != nil {
				c.log.Warning("pid changer: failed to rewrite pmt", "error", err.Error())
			}
		}
	}

	if dst, ok := c.pidMap.Map(origPID); ok {
		p.SetPID(dst)
	}

	return c.SendToEach(p, pipeline.Never)
}

// rewritePAT substitutes every program_map_PID in section per the PID map,
// bumps the version, re-encodes, and writes the result into p's payload. It
// also begins watching each referenced PMT PID.
func (c *PIDChanger) rewritePAT(p *mts.Packet, section []byte) error {
	programs, version, err := table.ParsePAT(section)
	if err != nil {
		return err
	}
	c.versions.Observe(mts.PatPid, version, section)

	out := psi.NewPATPSI()
	out.SyntaxSection.Version = version
	pat := out.SyntaxSection.SpecificData.(*psi.PAT)
	pat.Programs = pat.Programs[:0]
	for program, pmtPid := range programs {
		dst := pmtPid
		if mapped, ok := c.pidMap.Map(pmtPid); ok {
			dst = mapped
		}
		pat.Programs = append(pat.Programs, &psi.ProgramAssociation{
			Program:       program,
			ProgramMapPID: dst,
		})
		if !c.pmtHandler.Watching(pmtPid) {
			c.pmtHandler.Watch(pmtPid)
		}
	}
	out.SyntaxSection.BumpVersion()

	return writeSection(p, out)
}

// rewritePMT substitutes the PCR PID and every elementary stream PID in
// section per the PID map, bumps the version, re-encodes, and writes the
// result into p's payload.
func (c *PIDChanger) rewritePMT(p *mts.Packet, pid uint16, section []byte) error {
	pcrPid, streams, version, err := table.ParsePMT(section)
	if err != nil {
		return err
	}
	c.versions.Observe(pid, version, section)

	out := psi.NewPMTPSI()
	out.SyntaxSection.Version = version
	pmt := out.SyntaxSection.SpecificData.(*psi.PMT)
	if dst, ok := c.pidMap.Map(pcrPid); ok {
		pmt.ProgramClockPID = dst
	} else {
		pmt.ProgramClockPID = pcrPid
	}

	pmt.Streams = pmt.Streams[:0]
	for esPid, streamType := range streams {
		dst := esPid
		if mapped, ok := c.pidMap.Map(esPid); ok {
			dst = mapped
		}
		pmt.Streams = append(pmt.Streams, &psi.StreamSpecificData{
			StreamType: byte(streamType),
			PID:        dst,
		})
	}
	out.SyntaxSection.BumpVersion()

	return writeSection(p, out)
}

// writeSection serialises out and writes it into p's payload, preceded by
// a zero pointer field, matching how every PSI table in this package is
// carried: PUSI set, pointer field 0x00, section immediately following.
func writeSection(p *mts.Packet, out *psi.PSI) error {
	// out.Bytes() already carries its own (always-zero) pointer field as its
	// first byte; strip it before prefixing the fresh pointer byte, or the
	// packet would carry two.
	section := out.Bytes()[1:]
	payload := make([]byte, 1+len(section))
	payload[0] = 0x00
	copy(payload[1:], section)
	return p.SetPointerlessPayload(payload)
}
