/*
NAME
  packet.go

DESCRIPTION
  packet.go provides the Packet type: a fixed 188-byte MPEG-TS record with
  accessors for the fields the pipeline stages need to read or rewrite (PID,
  continuity counter, payload-unit-start and discontinuity indicators, and
  payload). Unlike container/mts/psi, which builds and serialises PSI table
  bodies from scratch, Packet operates in place on the wire bytes, in the
  same style as exp/ts-repair's packet helpers.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package mts provides MPEG-TS (mts) packet primitives: the 188-byte packet
// accessors shared by every pipeline stage.
package mts

import "github.com/pkg/errors"

// PacketSize is the size in bytes of an MPEG-TS packet.
const PacketSize = 188

// SyncByte is the fixed first octet of every MPEG-TS packet.
const SyncByte = 0x47

// HeadSize is the size of an MPEG-TS packet header (sync byte through CC).
const HeadSize = 4

// Standard program IDs for program specific information.
const (
	PatPid = 0x0000
	SdtPid = 0x0011
	NullPid = 0x1fff
)

// Consts relating to the adaptation field, carried over from the teacher's
// bit-layout for octets 3-5.
const (
	adaptationControlIdx       = 3
	adaptationIdx              = 4
	adaptationControlMask      = 0x30
	discontinuityIndicatorMask = 0x80
	discontinuityIndicatorIdx  = adaptationIdx + 1
)

// ErrShortPacket is returned when a byte slice is too small to be a packet.
var ErrShortPacket = errors.New("packet shorter than 188 bytes")

// ErrBadSync is returned when a packet's first byte isn't the sync byte.
var ErrBadSync = errors.New("packet missing 0x47 sync byte")

// ErrNoAdaptationFieldRoom is returned by SetDiscontinuityIndicator when p
// carries no adaptation field: adding one in place would overwrite the last
// two bytes of the existing payload, which this package never does silently.
var ErrNoAdaptationFieldRoom = errors.New("packet has no adaptation field to carry a discontinuity indicator")

// Packet is a single 188-byte MPEG-TS packet. Unlike container/mts/psi.PSI,
// which is a parsed/structured table, Packet is the raw wire record; fields
// are read and written directly in place, mirroring exp/ts-repair's Packet.
type Packet [PacketSize]byte

// Validate checks the sync byte is present, returning ErrBadSync if not.
// Malformed packets are the caller's responsibility to drop -- Validate
// itself does not decide policy.
func (p *Packet) Validate() error {
	if p[0] != SyncByte {
		return ErrBadSync
	}
	return nil
}

// PID returns the packet identifier.
func (p *Packet) PID() uint16 {
	return uint16(p[1]&0x1f)<<8 | uint16(p[2])
}

// SetPID rewrites the packet identifier in place, preserving the other bits
// of octets 1-2 (TEI, PUSI, transport priority).
func (p *Packet) SetPID(pid uint16) {
	p[1] = (p[1] & 0xe0) | byte(pid>>8)&0x1f
	p[2] = byte(pid)
}

// CC returns the continuity counter.
func (p *Packet) CC() byte {
	return p[3] & 0x0f
}

// SetCC rewrites the continuity counter in place.
func (p *Packet) SetCC(cc byte) {
	p[3] = (p[3] & 0xf0) | (cc & 0x0f)
}

// PUSI returns the payload-unit-start indicator.
func (p *Packet) PUSI() bool {
	return p[1]&0x40 != 0
}

// HasAdaptationField returns true if the adaptation field control bits
// indicate an adaptation field is present.
func (p *Packet) HasAdaptationField() bool {
	afc := p[adaptationControlIdx] & adaptationControlMask
	return afc == 0x20 || afc == 0x30
}

// HasPayload returns true if the adaptation field control bits indicate a
// payload is present.
func (p *Packet) HasPayload() bool {
	afc := p[adaptationControlIdx] & adaptationControlMask
	return afc == 0x10 || afc == 0x30
}

// DiscontinuityIndicator returns the discontinuity indicator bit, which is
// only meaningful if HasAdaptationField is true.
func (p *Packet) DiscontinuityIndicator() bool {
	if !p.HasAdaptationField() {
		return false
	}
	return p[discontinuityIndicatorIdx]&discontinuityIndicatorMask != 0
}

// SetDiscontinuityIndicator sets the discontinuity indicator bit. It
// returns ErrNoAdaptationFieldRoom if p carries no adaptation field: unlike
// the teacher's addAdaptationField, this never makes room for one by
// truncating payload bytes, since a packet with a full 184-byte payload has
// no spare bytes to give up without corrupting elementary-stream data.
func (p *Packet) SetDiscontinuityIndicator(set bool) error {
	if !p.HasAdaptationField() {
		return ErrNoAdaptationFieldRoom
	}
	if set {
		p[discontinuityIndicatorIdx] |= discontinuityIndicatorMask
	} else {
		p[discontinuityIndicatorIdx] &^= discontinuityIndicatorMask
	}
	return nil
}

// Payload returns the payload bytes of the packet (no copy is made).
func (p *Packet) Payload() ([]byte, error) {
	if !p.HasPayload() {
		return nil, errors.New("packet has no payload")
	}
	off := HeadSize
	if p.HasAdaptationField() {
		off = HeadSize + 1 + int(p[adaptationIdx])
	}
	if off > PacketSize {
		return nil, errors.New("adaptation field length overruns packet")
	}
	return p[off:], nil
}

// SetPointerlessPayload overwrites the packet's payload region (the region
// Payload would return) with data, padding any remainder with 0xff. data
// must fit in the available payload space.
func (p *Packet) SetPointerlessPayload(data []byte) error {
	off := HeadSize
	if p.HasAdaptationField() {
		off = HeadSize + 1 + int(p[adaptationIdx])
	}
	if len(data) > PacketSize-off {
		return errors.Errorf("payload of %d bytes does not fit in %d available bytes", len(data), PacketSize-off)
	}
	n := copy(p[off:], data)
	for i := off + n; i < PacketSize; i++ {
		p[i] = 0xff
	}
	return nil
}

// Bytes returns the packet as a byte slice (no copy).
func (p *Packet) Bytes() []byte { return p[:] }

// NewPacket builds a Packet from a raw 188-byte slice, copying the bytes.
func NewPacket(b []byte) (*Packet, error) {
	if len(b) < PacketSize {
		return nil, ErrShortPacket
	}
	var p Packet
	copy(p[:], b[:PacketSize])
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
