/*
NAME
  join_test.go

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package join

import (
	"testing"

	"github.com/ausocean/tsflow/container/mts"
	"github.com/ausocean/tsflow/pipeline"
)

// sliceSource is a pipeline.Source backed by a fixed packet slice, reporting
// NoMorePacket once drained.
type sliceSource struct {
	packets []mts.Packet
	pos     int
}

func (s *sliceSource) ReadPacket(dst *mts.Packet) (pipeline.Result, error) {
	if s.pos >= len(s.packets) {
		return pipeline.NoMorePacket, nil
	}
	*dst = s.packets[s.pos]
	s.pos++
	return pipeline.Success, nil
}

// makePacket builds a packet already carrying a minimal adaptation field, so
// SetDiscontinuityIndicator has room to mark it without touching payload --
// exercising the discontinuity-marking behaviour in isolation from the
// separate question (covered by the full-payload test below) of what
// happens when a packet has no such room.
func makePacket(pid uint16) mts.Packet {
	var p mts.Packet
	p[0] = mts.SyncByte
	p.SetPID(pid)
	p[3] = 0x30 // adaptation field + payload present.
	p[4] = 1    // adaptation_field_length: one flags byte follows.
	p[5] = 0x00
	return p
}

// makeFullPayloadPacket builds a packet with no adaptation field and a
// realistic, non-zero 184-byte payload, the common case for an
// elementary-stream packet at a join boundary.
func makeFullPayloadPacket(pid uint16) mts.Packet {
	var p mts.Packet
	p[0] = mts.SyncByte
	p.SetPID(pid)
	p[3] = 0x10 // payload only, no adaptation field.
	for i := mts.HeadSize; i < len(p); i++ {
		p[i] = byte(i)
	}
	return p
}

func TestJoinedTsStreamReadsSourcesInOrder(t *testing.T) {
	first := &sliceSource{packets: []mts.Packet{makePacket(100), makePacket(100)}}
	second := &sliceSource{packets: []mts.Packet{makePacket(200)}}
	j := NewJoinedTsStream([]pipeline.Source{first, second}, nil)

	var got []uint16
	var p mts.Packet
	for {
		res, err := j.ReadPacket(&p)
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		if res == pipeline.NoMorePacket {
			break
		}
		got = append(got, p.PID())
	}

	want := []uint16{100, 100, 200}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestJoinedTsStreamMarksDiscontinuityAfterSwitch(t *testing.T) {
	first := &sliceSource{packets: []mts.Packet{makePacket(100), makePacket(100)}}
	second := &sliceSource{packets: []mts.Packet{makePacket(100), makePacket(100)}}
	j := NewJoinedTsStream([]pipeline.Source{first, second}, nil)

	var discontinuous []bool
	var p mts.Packet
	for i := 0; i < 4; i++ {
		res, err := j.ReadPacket(&p)
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		if res != pipeline.Success {
			t.Fatalf("got %v at read %d, want Success", res, i)
		}
		discontinuous = append(discontinuous, p.DiscontinuityIndicator())
	}

	want := []bool{true, false, true, false}
	for i := range want {
		if discontinuous[i] != want[i] {
			t.Fatalf("got discontinuity flags %v, want %v", discontinuous, want)
		}
	}
}

func TestJoinedTsStreamInvokesExhaustedCallbackAndContinues(t *testing.T) {
	first := &sliceSource{packets: []mts.Packet{makePacket(100)}}
	second := &sliceSource{packets: []mts.Packet{makePacket(200)}}

	called := 0
	onExhaust := ExhaustedFunc(func(j *JoinedTsStream) {
		called++
		j.AddSource(second)
	})
	j := NewJoinedTsStream([]pipeline.Source{first}, onExhaust)

	var p mts.Packet
	// Drains first.
	if res, err := j.ReadPacket(&p); err != nil || res != pipeline.Success {
		t.Fatalf("ReadPacket(1): res=%v err=%v", res, err)
	}
	// First is now exhausted; the callback should append second and this
	// read should succeed, not report NoMorePacket.
	res, err := j.ReadPacket(&p)
	if err != nil {
		t.Fatalf("ReadPacket(2): %v", err)
	}
	if res != pipeline.Success {
		t.Fatalf("got %v, want Success: the exhausted callback should have supplied a new source", res)
	}
	if p.PID() != 200 {
		t.Fatalf("got pid %#x, want 200 (from the appended source)", p.PID())
	}
	if called != 1 {
		t.Fatalf("got %d callback invocations, want 1", called)
	}
}

func TestJoinedTsStreamReturnsNoMorePacketWhenCallbackAddsNothing(t *testing.T) {
	j := NewJoinedTsStream(nil, ExhaustedFunc(func(j *JoinedTsStream) {}))

	var p mts.Packet
	res, err := j.ReadPacket(&p)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if res != pipeline.NoMorePacket {
		t.Fatalf("got %v, want NoMorePacket", res)
	}
}

// TestJoinedTsStreamNeverCorruptsFullPayloadPacket checks the switch-boundary
// case of a packet with no adaptation field and a full, realistic payload:
// ReadPacket must never truncate real payload bytes to make room for a
// discontinuity indicator it cannot otherwise set.
func TestJoinedTsStreamNeverCorruptsFullPayloadPacket(t *testing.T) {
	want := makeFullPayloadPacket(100)
	first := &sliceSource{packets: []mts.Packet{want}}
	j := NewJoinedTsStream([]pipeline.Source{first}, nil)

	var got mts.Packet
	res, err := j.ReadPacket(&got)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if res != pipeline.Success {
		t.Fatalf("got %v, want Success", res)
	}
	if got != want {
		t.Fatalf("payload corrupted at join boundary: got %v want %v", got, want)
	}
}

func TestJoinedTsStreamExhaustionIsSticky(t *testing.T) {
	j := NewJoinedTsStream(nil, nil)

	var p mts.Packet
	if res, _ := j.ReadPacket(&p); res != pipeline.NoMorePacket {
		t.Fatalf("got %v, want NoMorePacket", res)
	}
	if res, _ := j.ReadPacket(&p); res != pipeline.NoMorePacket {
		t.Fatalf("got %v on second read, want NoMorePacket to remain sticky", res)
	}
}
