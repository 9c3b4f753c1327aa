/*
NAME
  version_test.go

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

import "testing"

func TestVersionTrackerFiresOnFirstSighting(t *testing.T) {
	var fired int
	v := NewVersionTracker(func(uint16, byte, []byte) { fired++ })
	if v.Known(256) {
		t.Fatal("expected PID 256 to be Unseen before any Observe call")
	}
	v.Observe(256, 0, nil)
	if fired != 1 {
		t.Fatalf("got %d fires, want 1 on first sighting", fired)
	}
	if !v.Known(256) {
		t.Fatal("expected PID 256 to be Known after Observe")
	}
}

func TestVersionTrackerSuppressesSameVersion(t *testing.T) {
	var fired int
	v := NewVersionTracker(func(uint16, byte, []byte) { fired++ })
	v.Observe(256, 3, nil)
	v.Observe(256, 3, nil)
	v.Observe(256, 3, nil)
	if fired != 1 {
		t.Fatalf("got %d fires, want 1 for repeated identical versions", fired)
	}
}

func TestVersionTrackerFiresOnChange(t *testing.T) {
	var seen []byte
	v := NewVersionTracker(func(_ uint16, version byte, _ []byte) { seen = append(seen, version) })
	v.Observe(256, 0, nil)
	v.Observe(256, 0, nil)
	v.Observe(256, 1, nil)
	v.Observe(256, 1, nil)
	v.Observe(256, 2, nil)
	want := []byte{0, 1, 2}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestVersionTrackerIndependentPerPID(t *testing.T) {
	var fired int
	v := NewVersionTracker(func(uint16, byte, []byte) { fired++ })
	v.Observe(256, 0, nil)
	v.Observe(257, 0, nil)
	if fired != 2 {
		t.Fatalf("got %d fires, want 2 for two distinct PIDs' first sighting", fired)
	}
	ver, ok := v.Version(256)
	if !ok || ver != 0 {
		t.Fatalf("got (%d, %v), want (0, true)", ver, ok)
	}
}
