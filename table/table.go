/*
NAME
  table.go

DESCRIPTION
  table.go provides Handler, which reassembles PSI sections (PAT, PMT, SDT)
  carried across one or more TS packets for a subscribed PID, and delivers
  each complete table to a callback. PMT PIDs are typically not known in
  advance -- Handler can be told to watch the PAT first and then subscribe
  to whatever PMT PIDs it names.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package table provides PSI section reassembly (Handler) and the
// version-change detection FSM (VersionTracker) built on top of it.
package table

import (
	"github.com/Comcast/gots/v2/packet"
	gotspsi "github.com/Comcast/gots/v2/psi"
	"github.com/pkg/errors"

	"github.com/ausocean/tsflow/container/mts"
)

// ErrMalformedTable is returned (and the table dropped, the previously
// accumulated table retained) when a section fails to parse or its CRC does
// not validate.
var ErrMalformedTable = errors.New("malformed table")

// Logger is the ambient logging interface threaded through any component
// that can drop a recoverable error, matching
// github.com/ausocean/utils/logging.Logger's shape.
type Logger interface {
	Debug(msg string, params ...interface{})
	Warning(msg string, params ...interface{})
	Error(msg string, params ...interface{})
}

// DoneFunc is invoked once a PID's accumulator has a complete section.
// It mirrors potterxu-gots/psi's PmtAccumulatorDoneFunc pattern, generalised
// to any table kind.
type DoneFunc func(pid uint16, sectionBytes []byte) error

// Handler reassembles PSI sections per-PID using a
// github.com/Comcast/gots/v2/packet.Accumulator for each subscribed PID, and
// forwards complete sections to its DoneFunc.
//
// Because github.com/Comcast/gots/v2/packet.Accumulator's done callback
// fires synchronously inside WritePacket, Feed also records the completed
// section onto the Handler itself (lastSection) so a caller that needs to
// rewrite the very packet which just completed a section -- changer.PIDChanger
// and mux.MPTSToSPTS both do -- can tell, packet by packet, whether this
// Feed call was the one that finished a table.
type Handler struct {
	log         Logger
	accs        map[uint16]*packet.Accumulator
	onDone      DoneFunc
	watched     map[uint16]bool
	completedOn uint16
	lastSection []byte
}

// NewHandler creates a Handler that calls done for each complete section on
// a watched PID. log may be nil.
func NewHandler(done DoneFunc, log Logger) *Handler {
	return &Handler{
		log:     log,
		accs:    make(map[uint16]*packet.Accumulator),
		onDone:  done,
		watched: make(map[uint16]bool),
	}
}

// Watch subscribes pid for section reassembly. Calling Watch again for a
// PID already being watched is a no-op.
func (h *Handler) Watch(pid uint16) {
	if h.watched[pid] {
		return
	}
	h.watched[pid] = true
	h.resetAccumulator(pid)
}

// Unwatch drops a PID's accumulator state.
func (h *Handler) Unwatch(pid uint16) {
	delete(h.watched, pid)
	delete(h.accs, pid)
}

// Watching reports whether pid is currently subscribed.
func (h *Handler) Watching(pid uint16) bool { return h.watched[pid] }

// Feed offers p to the accumulator for its PID, if watched. Packets for
// unwatched PIDs are ignored. A write failure (malformed section, bad CRC)
// is logged and the PID's accumulator is reset so the next PUSI packet
// starts a fresh section; ErrMalformedTable is returned wrapped with
// context so the caller may choose to treat it as non-fatal.
//
// completed reports whether p was the packet that finished reassembling a
// section, and if so, that section's bytes -- allowing a rewrite stage to
// know precisely which outgoing packet to overwrite with a rewritten table.
func (h *Handler) Feed(p *mts.Packet) (completed bool, section []byte, err error) {
	pid := p.PID()
	acc, ok := h.accs[pid]
	if !ok {
		return false, nil, nil
	}
	h.completedOn, h.lastSection = 0, nil
	gp := (*packet.Packet)(p)
	if writeErr := acc.WritePacket(gp); writeErr != nil {
		h.resetAccumulator(pid)
		if h.log != nil {
			h.log.Warning("table handler: dropping malformed section", "pid", pid, "error", writeErr.Error())
		}
		return false, nil, errors.Wrapf(ErrMalformedTable, "pid %d: %v", pid, writeErr)
	}
	if h.lastSection != nil && h.completedOn == pid {
		return true, h.lastSection, nil
	}
	return false, nil, nil
}

// resetAccumulator replaces pid's accumulator with a fresh one wired to the
// same onDone callback, so the next PUSI packet starts a clean section
// after a malformed one was dropped.
func (h *Handler) resetAccumulator(pid uint16) {
	h.accs[pid] = packet.NewAccumulator(func(data []byte) {
		h.completedOn, h.lastSection = pid, data
		if err := h.onDone(pid, data); err != nil && h.log != nil {
			h.log.Warning("table handler: done callback failed", "pid", pid, "error", err.Error())
		}
	})
}

// ParsePAT decodes a complete PAT section, returning the mapping from
// program_number to program_map_PID for every entry (service_id 0, the
// network PID entry, is skipped) along with the section's version_number.
func ParsePAT(section []byte) (programs map[uint16]uint16, version byte, err error) {
	pat, err := gotspsi.NewPAT(section)
	if err != nil {
		return nil, 0, errors.Wrap(ErrMalformedTable, err.Error())
	}
	programs = make(map[uint16]uint16, len(pat.ProgramMap()))
	for program, pmtPid := range pat.ProgramMap() {
		programs[uint16(program)] = uint16(pmtPid)
	}
	return programs, pat.VersionNumber(), nil
}

// ParsePMT decodes a complete PMT section, returning the PCR PID, the map
// of elementary stream PID to stream type, and the section's
// version_number.
func ParsePMT(section []byte) (pcrPid uint16, streams map[uint16]int, version byte, err error) {
	pmt, err := gotspsi.NewPMT(section)
	if err != nil {
		return 0, nil, 0, errors.Wrap(ErrMalformedTable, err.Error())
	}
	streams = make(map[uint16]int)
	for _, es := range pmt.ElementaryStreams() {
		streams[uint16(es.Pid())] = int(es.StreamType())
	}
	return uint16(pmt.PCRPID()), streams, pmt.VersionNumber(), nil
}

// SDTService is one decoded service loop entry from an SDT section, holding
// the fields a service descriptor (tag 0x48) carries -- the service's
// provider name, name, and type -- plus its running-status bits.
type SDTService struct {
	ServiceID               uint16
	EITScheduleFlag         bool
	EITPresentFollowingFlag bool
	RunningStatus           byte
	FreeCAMode              bool
	ServiceType             byte
	ServiceName             string
	ProviderName            string
}

// ParseSDT decodes a complete SDT section into its service loop entries and
// the section's version_number. github.com/Comcast/gots/v2/psi covers
// ATSC/MPEG's PAT and PMT but not DVB's SDT, so this walks the section
// layout directly -- the same byte-for-byte shape
// container/mts/psi.SDT.Bytes builds it back up into.
func ParseSDT(section []byte) (services []*SDTService, version byte, err error) {
	// table_id(1) + section_length(2) + table_id_ext(2) +
	// version/current_next(1) + section_number(1) + last_section_number(1)
	// + original_network_id(2) + reserved(1), then the service loop, then
	// a trailing CRC32(4).
	const headLen = 11
	const crcLen = 4
	if len(section) < headLen+crcLen {
		return nil, 0, errors.Wrap(ErrMalformedTable, "sdt section shorter than its fixed header")
	}
	// Bound the section by its section_length so any stuffing that follows
	// the CRC32 (0xff padding of the carrying packet) is not decoded.
	total := 3 + (int(section[1]&0x0f)<<8 | int(section[2]))
	if total < headLen+crcLen || total > len(section) {
		return nil, 0, errors.Wrap(ErrMalformedTable, "sdt section_length inconsistent with section data")
	}
	section = section[:total]
	version = (section[5] >> 1) & 0x1f

	body := section[headLen : len(section)-crcLen]
	for len(body) > 0 {
		if len(body) < 5 {
			return nil, 0, errors.Wrap(ErrMalformedTable, "truncated sdt service entry")
		}
		descLoopLen := int(body[3]&0x0f)<<8 | int(body[4])
		if 5+descLoopLen > len(body) {
			return nil, 0, errors.Wrap(ErrMalformedTable, "sdt descriptor loop overruns section")
		}
		svc := &SDTService{
			ServiceID:               uint16(body[0])<<8 | uint16(body[1]),
			EITScheduleFlag:         body[2]&0x02 != 0,
			EITPresentFollowingFlag: body[2]&0x01 != 0,
			RunningStatus:           body[3] >> 5,
			FreeCAMode:              body[3]&0x10 != 0,
		}
		parseServiceDescriptor(svc, body[5:5+descLoopLen])
		services = append(services, svc)
		body = body[5+descLoopLen:]
	}
	return services, version, nil
}

// parseServiceDescriptor scans a service's descriptor loop for a service
// descriptor (tag 0x48) and, if found, fills in its type/provider/name.
// Any other descriptor present in the loop is ignored: this decode is
// minimal, covering only what mux.MPTSToSPTS needs to preserve.
func parseServiceDescriptor(svc *SDTService, descs []byte) {
	for len(descs) >= 2 {
		tag, dataLen := descs[0], int(descs[1])
		if 2+dataLen > len(descs) {
			return
		}
		data := descs[2 : 2+dataLen]
		if tag == 0x48 && len(data) >= 2 {
			svc.ServiceType = data[0]
			providerLen := int(data[1])
			if 2+providerLen <= len(data) {
				svc.ProviderName = string(data[2 : 2+providerLen])
				rest := data[2+providerLen:]
				if len(rest) >= 1 {
					nameLen := int(rest[0])
					if 1+nameLen <= len(rest) {
						svc.ServiceName = string(rest[1 : 1+nameLen])
					}
				}
			}
		}
		descs = descs[2+dataLen:]
	}
}
