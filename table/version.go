/*
NAME
  version.go

DESCRIPTION
  version.go provides VersionTracker, the small finite state machine that
  detects when a table's version_number has changed: Unseen -> Known(v), and
  Known(v) -> Known(v') whenever v' != v, including the very first sighting.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package table

// VersionChangeFunc is invoked every time Observe sees a version different
// from the last one recorded for a PID, including the first ever sighting.
type VersionChangeFunc func(pid uint16, newVersion byte, section []byte)

// VersionTracker records the version_number reported for each PID through
// Observe (callers feed it from their Handler callbacks) and invokes a
// VersionChangeFunc on every change. It implements the
// Unseen -> Known(v) -> Known(v') FSM: a PID starts Unseen, and any
// version seen for it (including the first) is reported as a change.
type VersionTracker struct {
	versions map[uint16]byte
	known    map[uint16]bool
	onChange VersionChangeFunc
}

// NewVersionTracker creates a VersionTracker that calls onChange whenever a
// watched PID's table version changes.
func NewVersionTracker(onChange VersionChangeFunc) *VersionTracker {
	return &VersionTracker{
		versions: make(map[uint16]byte),
		known:    make(map[uint16]bool),
		onChange: onChange,
	}
}

// Observe reports version for pid's table. If the PID is Unseen, or the
// version differs from the last reported one, onChange fires and the new
// version is recorded.
func (v *VersionTracker) Observe(pid uint16, version byte, section []byte) {
	last, seen := v.versions[pid]
	if seen && last == version {
		return
	}
	v.versions[pid] = version
	v.known[pid] = true
	v.onChange(pid, version, section)
}

// Known reports whether pid has ever been observed.
func (v *VersionTracker) Known(pid uint16) bool { return v.known[pid] }

// Version returns the last observed version for pid and whether pid has
// been observed at all.
func (v *VersionTracker) Version(pid uint16) (byte, bool) {
	ver, ok := v.versions[pid]
	return ver, ok
}
