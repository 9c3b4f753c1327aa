/*
NAME
  pidmap.go

DESCRIPTION
  pidmap.go provides PIDMap, a bijective mapping of source PIDs to
  destination PIDs used by PIDChanger to rewrite both raw packets and the
  PAT/PMT tables that reference those PIDs.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package changer provides PID remapping: a bijective PID map (PIDMap), the
// packet+table rewrite stage that applies it (PIDChanger), and the
// automatic variant that draws destination PIDs from a PidProvider
// (AutoPIDChanger).
package changer

import (
	"github.com/pkg/errors"

	"github.com/ausocean/tsflow/container/mts"
)

// ErrPIDCollision is returned at build time when two distinct source PIDs
// would be mapped to the same destination PID. A destination that equals
// an unmapped PID of the stream is not detected, since the map does not
// know which unmapped PIDs the stream carries.
var ErrPIDCollision = errors.New("pid map collision")

// ErrReservedPID is returned when a mapping would remap the PAT PID or
// allocate a destination PID outside [MinAllocatablePID, MaxAllocatablePID].
var ErrReservedPID = errors.New("pid map: reserved pid")

// validateMapping rejects the two reserved-PID cases PIDMap must never
// allow: remapping the PAT PID away from 0, and allocating a destination PID
// in the reserved ranges (0x0000-0x001F and 0x1FFF, the same range
// FreePIDProvider in provider.go never hands out).
func validateMapping(src, dst uint16) error {
	if src == mts.PatPid {
		return errors.Wrap(ErrReservedPID, "pat pid (0) can never be remapped")
	}
	if dst < MinAllocatablePID || dst > MaxAllocatablePID {
		return errors.Wrapf(ErrReservedPID, "destination pid %d outside allocatable range [%#x, %#x]", dst, MinAllocatablePID, MaxAllocatablePID)
	}
	return nil
}

// PIDMap is a bijective source-PID -> destination-PID mapping. Collisions
// are rejected at build time by NewPIDMap, not discovered lazily while
// packets are flowing.
type PIDMap struct {
	forward map[uint16]uint16
	inverse map[uint16]uint16
}

// NewPIDMap builds a PIDMap from a source->destination mapping, returning
// ErrPIDCollision if the mapping is not bijective (two sources mapping to
// the same destination).
func NewPIDMap(m map[uint16]uint16) (*PIDMap, error) {
	pm := &PIDMap{
		forward: make(map[uint16]uint16, len(m)),
		inverse: make(map[uint16]uint16, len(m)),
	}
	for src, dst := range m {
		if err := validateMapping(src, dst); err != nil {
			return nil, err
		}
		if existing, ok := pm.inverse[dst]; ok && existing != src {
			return nil, errors.Wrapf(ErrPIDCollision, "pids %d and %d both map to %d", existing, src, dst)
		}
		pm.forward[src] = dst
		pm.inverse[dst] = src
	}
	return pm, nil
}

// Map returns the destination PID for src, and whether src has a mapping.
// Unmapped PIDs pass through unchanged by convention of the caller.
func (m *PIDMap) Map(src uint16) (uint16, bool) {
	dst, ok := m.forward[src]
	return dst, ok
}

// Set adds or overwrites the mapping for src, returning ErrPIDCollision if
// dst is already the destination of a different source.
func (m *PIDMap) Set(src, dst uint16) error {
	if err := validateMapping(src, dst); err != nil {
		return err
	}
	if existing, ok := m.inverse[dst]; ok && existing != src {
		return errors.Wrapf(ErrPIDCollision, "pids %d and %d both map to %d", existing, src, dst)
	}
	if oldDst, ok := m.forward[src]; ok {
		delete(m.inverse, oldDst)
	}
	m.forward[src] = dst
	m.inverse[dst] = src
	return nil
}

// Destinations reports whether dst is already used as a destination PID by
// this map.
func (m *PIDMap) Destinations(dst uint16) bool {
	_, ok := m.inverse[dst]
	return ok
}

// Sources returns every source PID currently mapped.
func (m *PIDMap) Sources() []uint16 {
	out := make([]uint16, 0, len(m.forward))
	for src := range m.forward {
		out = append(out, src)
	}
	return out
}
