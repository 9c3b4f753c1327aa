/*
NAME
  provider.go

DESCRIPTION
  provider.go provides the PidProvider contract and FreePIDProvider, a
  reserved-set-backed allocator drawing from the usable PID range
  [0x0020, 0x1FFE]. AutoPIDChanger asks a PidProvider for a destination PID
  whenever it encounters a referenced source PID with no preset mapping.

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

	"github.com/ausocean/tsflow/pipeline"
)

// MinAllocatablePID and MaxAllocatablePID bound the range a PidProvider may
// hand out: below 0x0020 is reserved for PSI/SI tables, and 0x1FFF above
// the range is the null-packet PID.
const (
	MinAllocatablePID = 0x0020
	MaxAllocatablePID = 0x1FFE
)

// PidProvider allocates, reserves, and releases PIDs in
// [MinAllocatablePID, MaxAllocatablePID]. Exhaustion (no PIDs left to
// allocate) is always a fatal error -- a PID changer cannot proceed without
// one.
type PidProvider interface {
	// Allocate returns an unused PID, marking it used. It returns
	// pipeline.ErrPIDExhausted-wrapped error if none remain.
	Allocate() (uint16, error)
	// Reserve marks pid as used without returning it from Allocate.
	Reserve(pid uint16) error
	// Release marks pid as no longer used, making it eligible for
	// Allocate or Reserve again.
	Release(pid uint16)
}

// FreePIDProvider is a PidProvider backed by a reserved-PID set, handing
// out the first free PID after the one it last allocated on each Allocate
// call.
type FreePIDProvider struct {
	used map[uint16]bool
	next uint16
}

// NewFreePIDProvider creates a FreePIDProvider with no PIDs reserved.
func NewFreePIDProvider() *FreePIDProvider {
	return &FreePIDProvider{used: make(map[uint16]bool), next: MinAllocatablePID}
}

// Allocate returns the first unused PID at or after the one following the
// last allocation, wrapping once to the start of the range, or a wrapped
// ErrPIDExhausted if the whole range is in use. A released PID below that
// point is therefore only handed out again after the scan wraps.
func (p *FreePIDProvider) Allocate() (uint16, error) {
	for pid := p.next; pid <= MaxAllocatablePID; pid++ {
		if !p.used[pid] {
			p.used[pid] = true
			p.next = pid + 1
			return pid, nil
		}
	}
	// Wrap around once in case PIDs below p.next were released.
	for pid := uint16(MinAllocatablePID); pid < p.next; pid++ {
		if !p.used[pid] {
			p.used[pid] = true
			p.next = pid + 1
			return pid, nil
		}
	}
	return 0, errors.Wrap(pipeline.ErrPIDExhausted, "no pids remain in allocatable range")
}

// Reserve marks pid as used.
func (p *FreePIDProvider) Reserve(pid uint16) error {
	if pid < MinAllocatablePID || pid > MaxAllocatablePID {
		return errors.Errorf("pid %d outside allocatable range", pid)
	}
	p.used[pid] = true
	return nil
}

// Release marks pid as no longer used.
func (p *FreePIDProvider) Release(pid uint16) {
	delete(p.used, pid)
}
