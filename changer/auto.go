/*
NAME
  auto.go

DESCRIPTION
  auto.go provides AutoPIDChanger, which wraps a PIDChanger so that any
  referenced PID without a preset mapping is assigned a destination PID
  drawn from a PidProvider. Preset map entries always take priority and are
  never overridden; the provider never hands out a PID already in use as a
  destination or as a source PID the stream has referenced so far.

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
	"github.com/ausocean/tsflow/pipeline"
	"github.com/ausocean/tsflow/table"
)

// AutoPIDChanger wraps a PIDChanger, automatically assigning destination
// PIDs from a PidProvider for any referenced PID not already covered by the
// preset map passed to NewAutoPIDChanger.
type AutoPIDChanger struct {
	pipeline.BaseConsumers

	changer  *PIDChanger
	provider PidProvider
	pidMap   *PIDMap
	log      Logger

	patHandler *table.Handler
	pmtHandler *table.Handler

	flushed bool
}

// NewAutoPIDChanger creates an AutoPIDChanger. preset entries are copied
// into the underlying map first and always take priority: the provider is
// never asked to allocate a destination for a PID the preset map already
// covers, and an auto-assigned PID will never overwrite a preset entry.
func NewAutoPIDChanger(preset map[uint16]uint16, provider PidProvider, log Logger) (*AutoPIDChanger, error) {
	m, err := NewPIDMap(preset)
	if err != nil {
		return nil, err
	}
	for _, dst := range preset {
		if err := provider.Reserve(dst); err != nil {
			return nil, errors.Wrap(err, "auto pid changer: reserve preset destination")
		}
	}

	a := &AutoPIDChanger{
		changer:  NewPIDChanger(m, log),
		provider: provider,
		pidMap:   m,
		log:      log,
	}
	a.patHandler = table.NewHandler(a.handlePAT, log)
	a.patHandler.Watch(mts.PatPid)
	a.pmtHandler = table.NewHandler(a.handlePMT, nil)
	return a, nil
}

// SendPacket ensures a mapping exists for every PID referenced by the
// stream's PAT/PMT before delegating the actual rewrite to the wrapped
// PIDChanger.
func (a *AutoPIDChanger) SendPacket(p *mts.Packet) (pipeline.Result, error) {
	if a.flushed {
		return pipeline.Success, errors.Wrap(pipeline.ErrInvalidOperation, "auto pid changer: send after flush")
	}
	if p == nil {
		a.flushed = true
		return a.changer.SendPacket(nil)
	}

	origPID := p.PID()
	if _, _, err := a.patHandler.Feed(p); err != nil && a.log != nil {
		a.log.Warning("auto pid changer: dropping malformed pat", "error", err.Error())
	}
	if a.pmtHandler.Watching(origPID) {
		if _, _, err := a.pmtHandler.Feed(p); err != nil && a.log != nil {
			a.log.Warning("auto pid changer: dropping malformed pmt", "error", err.Error())
		}
	}

	return a.changer.SendPacket(p)
}

// AddConsumer, RemoveConsumer and ClearConsumers delegate to the wrapped
// PIDChanger, since that is the stage actually emitting rewritten packets.
func (a *AutoPIDChanger) AddConsumer(c pipeline.Consumer) { a.changer.AddConsumer(c) }
func (a *AutoPIDChanger) RemoveConsumer(c pipeline.Consumer) bool {
	return a.changer.RemoveConsumer(c)
}
func (a *AutoPIDChanger) ClearConsumers() { a.changer.ClearConsumers() }

// handlePAT ensures every referenced program_map_PID has a destination,
// assigning one from the provider if the preset map doesn't already cover
// it, then watches that PMT PID for the same treatment.
func (a *AutoPIDChanger) handlePAT(_ uint16, section []byte) error {
	programs, _, err := table.ParsePAT(section)
	if err != nil {
		return err
	}
	for _, pmtPid := range programs {
		if err := a.ensureMapped(pmtPid); err != nil {
			return err
		}
		if !a.pmtHandler.Watching(pmtPid) {
			a.pmtHandler.Watch(pmtPid)
		}
	}
	return nil
}

// handlePMT ensures every referenced PCR PID and elementary stream PID has
// a destination, assigning one from the provider where the preset map
// doesn't already cover it.
func (a *AutoPIDChanger) handlePMT(_ uint16, section []byte) error {
	pcrPid, streams, _, err := table.ParsePMT(section)
	if err != nil {
		return err
	}
	if err := a.ensureMapped(pcrPid); err != nil {
		return err
	}
	for esPid := range streams {
		if err := a.ensureMapped(esPid); err != nil {
			return err
		}
	}
	return nil
}

// ensureMapped assigns src a destination PID from the provider if it
// doesn't already have one. Preset entries (already present in a.pidMap
// from construction) are never touched. src itself is reserved with the
// provider first, so it is never handed out as another PID's destination;
// Reserve rejects PIDs outside the allocatable range, which the provider
// never hands out anyway.
func (a *AutoPIDChanger) ensureMapped(src uint16) error {
	_ = a.provider.Reserve(src)
	if _, ok := a.pidMap.Map(src); ok {
		return nil
	}
	dst, err := a.provider.Allocate()
	if err != nil {
		return errors.Wrap(err, "auto pid changer: allocate destination pid")
	}
	return a.pidMap.Set(src, dst)
}
