/*
NAME
  mptstospts.go

DESCRIPTION
  mptstospts.go provides MPTSToSPTS, a pipeline.Pipe that reduces a
  multi-program transport stream down to a single-program stream carrying
  only the requested service: it rewrites the PAT down to that service's
  single entry, rewrites the SDT down to that service's single entry, and
  drops every packet belonging to any other program's PMT or elementary
  streams. Before the first PAT has been seen, every packet is dropped,
  since without the PAT there is no way to know which PIDs belong to the
  kept program.

  The keep-set-driven PAT rewrite is adapted from toshipp/tstools's tssplit,
  which filters a PAT down to a kept PID set and recomputes the CRC the same
  way; here it is extended to also filter the SDT, and to filter the
  elementary-stream packets themselves rather than just the table.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package mux provides MPTSToSPTS, the multi-program-to-single-program
// demuxing stage.
package mux

import (
	"github.com/pkg/errors"

	"github.com/ausocean/tsflow/container/mts"
	"github.com/ausocean/tsflow/container/mts/psi"
	"github.com/ausocean/tsflow/pipeline"
	"github.com/ausocean/tsflow/table"
)

// Logger is the ambient logging interface threaded through MPTSToSPTS.
type Logger interface {
	Debug(msg string, params ...interface{})
	Warning(msg string, params ...interface{})
	Error(msg string, params ...interface{})
}

// MPTSToSPTS keeps a single service out of a multi-program transport
// stream. serviceID identifies the kept program by its PAT program_number
// (which doubles as the SDT service_id).
type MPTSToSPTS struct {
	pipeline.BaseConsumers

	serviceID uint16
	log       Logger

	patHandler *table.Handler
	pmtHandler *table.Handler
	sdtHandler *table.Handler
	versions   *table.VersionTracker

	pmtPid   uint16
	keptPids map[uint16]bool // elementary-stream + PCR PIDs of the kept program.
	sawPAT   bool
	flushed  bool
}

// NewMPTSToSPTS creates an MPTSToSPTS keeping only serviceID. log may be
// nil.
func NewMPTSToSPTS(serviceID uint16, log Logger) *MPTSToSPTS {
	m := &MPTSToSPTS{
		serviceID: serviceID,
		log:       log,
		keptPids:  make(map[uint16]bool),
	}
	m.versions = table.NewVersionTracker(func(pid uint16, version byte, _ []byte) {
		if m.log != nil {
			m.log.Debug("mpts to spts: table version changed", "pid", pid, "version", version)
		}
	})
	m.patHandler = table.NewHandler(func(uint16, []byte) error { return nil }, log)
	m.patHandler.Watch(mts.PatPid)
	m.pmtHandler = table.NewHandler(m.handlePMT, nil)
	m.sdtHandler = table.NewHandler(func(uint16, []byte) error { return nil }, log)
	m.sdtHandler.Watch(mts.SdtPid)
	return m
}

// SendPacket drops any packet not belonging to the kept program (PAT, SDT,
// and the kept program's PMT and elementary streams), and otherwise
// forwards it unchanged. PAT and SDT packets are rewritten in place before
// being forwarded.
func (m *MPTSToSPTS) SendPacket(p *mts.Packet) (pipeline.Result, error) {
	if m.flushed {
		return pipeline.Success, errors.Wrap(pipeline.ErrInvalidOperation, "mpts to spts: send after flush")
	}
	if p == nil {
		m.flushed = true
		return m.SendToEach(nil, pipeline.Never)
	}

	pid := p.PID()

	if pid == mts.PatPid {
		completed, section, err := m.patHandler.Feed(p)
		if err != nil {
			if m.log != nil {
				m.log.Warning("mpts to spts: dropping malformed pat", "error", err.Error())
			}
			if !m.sawPAT {
				return pipeline.Success, nil
			}
			return m.SendToEach(p, pipeline.Never)
		}
		if completed {
			if err := m.rewritePAT(p, section); err != nil {
				if m.log != nil {
					m.log.Warning("mpts to spts: failed to rewrite pat", "error", err.Error())
				}
				return pipeline.Success, nil
			}
			m.sawPAT = true
		}
		if !m.sawPAT {
			return pipeline.Success, nil
		}
		return m.SendToEach(p, pipeline.Never)
	}

	if !m.sawPAT {
		// Canonical behaviour before the first PAT is seen: drop
		// everything else, since we don't yet know which PIDs belong to
		// the kept program.
		return pipeline.Success, nil
	}

	if pid == mts.SdtPid {
		completed, section, err := m.sdtHandler.Feed(p)
		if err != nil {
			if m.log != nil {
				m.log.Warning("mpts to spts: dropping malformed sdt", "error", err.Error())
			}
			return m.SendToEach(p, pipeline.Never)
		}
		if completed {
			if err := m.rewriteSDT(p, section); err != nil && m.log != nil {
				m.log.Warning("mpts to spts: failed to rewrite sdt", "error", err.Error())
			}
		}
		return m.SendToEach(p, pipeline.Never)
	}

	if pid == m.pmtPid {
		if _, _, err := m.pmtHandler.Feed(p); err != nil && m.log != nil {
			m.log.Warning("mpts to spts: dropping malformed pmt", "error", err.Error())
		}
		return m.SendToEach(p, pipeline.Never)
	}

	if m.keptPids[pid] {
		return m.SendToEach(p, pipeline.Never)
	}

	// Belongs to some other program -- drop.
	return pipeline.Success, nil
}

// rewritePAT rewrites the PAT down to the single kept service_id, recording
// its PMT PID for future packet filtering, begins watching that PMT, and
// writes the rewritten section back into p.
func (m *MPTSToSPTS) rewritePAT(p *mts.Packet, section []byte) error {
	programs, version, err := table.ParsePAT(section)
	if err != nil {
		return err
	}
	m.versions.Observe(mts.PatPid, version, section)
	pmtPid, ok := programs[m.serviceID]
	if !ok {
		return errors.Errorf("mpts to spts: service %d not present in pat", m.serviceID)
	}
	m.pmtPid = pmtPid
	if !m.pmtHandler.Watching(pmtPid) {
		m.pmtHandler.Watch(pmtPid)
	}

	out := psi.NewPATPSI()
	out.SyntaxSection.Version = version
	pat := out.SyntaxSection.SpecificData.(*psi.PAT)
	pat.Programs = []*psi.ProgramAssociation{{Program: m.serviceID, ProgramMapPID: pmtPid}}
	out.SyntaxSection.BumpVersion()

	return writeSection(p, out)
}

// handlePMT records the kept program's PCR PID and elementary stream PIDs
// so SendPacket can filter every other program's packets out. The PMT
// itself is forwarded unmodified: no PIDs are substituted by this stage.
func (m *MPTSToSPTS) handlePMT(_ uint16, section []byte) error {
	pcrPid, streams, _, err := table.ParsePMT(section)
	if err != nil {
		return err
	}
	m.keptPids = map[uint16]bool{pcrPid: true}
	for esPid := range streams {
		m.keptPids[esPid] = true
	}
	return nil
}

// rewriteSDT rewrites the SDT down to the single kept service_id, carrying
// over that service's real descriptor (type, provider name, service name)
// rather than substituting a blank default, and writes the result back into
// p.
func (m *MPTSToSPTS) rewriteSDT(p *mts.Packet, section []byte) error {
	services, version, err := table.ParseSDT(section)
	if err != nil {
		return err
	}
	var kept *table.SDTService
	for _, svc := range services {
		if svc.ServiceID == m.serviceID {
			kept = svc
			break
		}
	}
	if kept == nil {
		return errors.Errorf("mpts to spts: service %d not present in sdt", m.serviceID)
	}
	m.versions.Observe(mts.SdtPid, version, section)

	out := psi.NewSDTPSI()
	out.SyntaxSection.Version = version
	sdt := out.SyntaxSection.SpecificData.(*psi.SDT)
	sdt.Services[0] = &psi.Service{
		ServiceID:               kept.ServiceID,
		EITScheduleFlag:         kept.EITScheduleFlag,
		EITPresentFollowingFlag: kept.EITPresentFollowingFlag,
		RunningStatus:           kept.RunningStatus,
		FreeCAMode:              kept.FreeCAMode,
		ServiceType:             kept.ServiceType,
		ServiceName:             kept.ServiceName,
		ProviderName:            kept.ProviderName,
	}
	out.SyntaxSection.BumpVersion()
	return writeSection(p, out)
}

// writeSection serialises out and writes it into p's payload, preceded by
// a zero pointer field.
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
