/*
NAME
  auto_test.go

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
	"testing"

	"github.com/ausocean/tsflow/container/mts/psi"
)

func TestAutoPIDChangerAssignsUnmappedReferencedPID(t *testing.T) {
	provider := NewFreePIDProvider()
	a, err := NewAutoPIDChanger(nil, provider, nil)
	if err != nil {
		t.Fatalf("NewAutoPIDChanger: %v", err)
	}
	out := &captureConsumer{}
	a.AddConsumer(out)

	section := psi.NewPATPSI().Bytes()[1:] // references pmt pid 0x1000.
	p := sectionPacket(0, section)
	if _, err := a.SendPacket(p); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	dst, ok := a.pidMap.Map(0x1000)
	if !ok {
		t.Fatal("expected an auto-assigned destination for the referenced pmt pid")
	}
	if dst < MinAllocatablePID || dst > MaxAllocatablePID {
		t.Errorf("got destination %#x outside allocatable range", dst)
	}
}

func TestAutoPIDChangerPresetTakesPriority(t *testing.T) {
	provider := NewFreePIDProvider()
	preset := map[uint16]uint16{0x1000: 0x3000}
	a, err := NewAutoPIDChanger(preset, provider, nil)
	if err != nil {
		t.Fatalf("NewAutoPIDChanger: %v", err)
	}
	out := &captureConsumer{}
	a.AddConsumer(out)

	section := psi.NewPATPSI().Bytes()[1:]
	p := sectionPacket(0, section)
	if _, err := a.SendPacket(p); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	dst, ok := a.pidMap.Map(0x1000)
	if !ok || dst != 0x3000 {
		t.Fatalf("got (%#x, %v), want (0x3000, true): preset entries must never be overridden", dst, ok)
	}
}

func TestAutoPIDChangerReservesPresetDestinations(t *testing.T) {
	provider := NewFreePIDProvider()
	preset := map[uint16]uint16{0x1000: MinAllocatablePID}
	if _, err := NewAutoPIDChanger(preset, provider, nil); err != nil {
		t.Fatalf("NewAutoPIDChanger: %v", err)
	}
	got, err := provider.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got == MinAllocatablePID {
		t.Fatal("expected the preset destination to already be reserved, so Allocate skips it")
	}
}
