/*
NAME
  pipeline_test.go

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package pipeline

import (
	"testing"

	"github.com/ausocean/tsflow/container/mts"
)

// sliceSource is a Source that reads from a pre-built list of packets.
type sliceSource struct {
	packets []mts.Packet
	pos     int
}

func (s *sliceSource) ReadPacket(dst *mts.Packet) (Result, error) {
	if s.pos >= len(s.packets) {
		return NoMorePacket, nil
	}
	*dst = s.packets[s.pos]
	s.pos++
	return Success, nil
}

// recordingConsumer records every packet it is sent, including the
// terminating nil flush.
type recordingConsumer struct {
	got     []*mts.Packet
	flushes int
}

func (r *recordingConsumer) SendPacket(p *mts.Packet) (Result, error) {
	if p == nil {
		r.flushes++
		return Success, nil
	}
	cp := *p
	r.got = append(r.got, &cp)
	return Success, nil
}

func makePacket(pid uint16, cc byte) mts.Packet {
	var p mts.Packet
	p[0] = mts.SyncByte
	p.SetPID(pid)
	p[3] = 0x10 | cc
	return p
}

func TestPumpToDeliversInOrder(t *testing.T) {
	src := &sliceSource{packets: []mts.Packet{
		makePacket(256, 0),
		makePacket(256, 1),
		makePacket(256, 2),
	}}
	c := &recordingConsumer{}
	res, err := PumpTo(src, []Consumer{c}, Never)
	if err != nil {
		t.Fatalf("PumpTo: %v", err)
	}
	if res != NoMorePacket {
		t.Fatalf("got result %v, want NoMorePacket", res)
	}
	if len(c.got) != 3 {
		t.Fatalf("got %d packets, want 3", len(c.got))
	}
	for i, p := range c.got {
		if got := p.CC(); got != byte(i) {
			t.Errorf("packet %d: got cc %d, want %d", i, got, i)
		}
	}
}

func TestPumpToStopsOnCancel(t *testing.T) {
	src := &sliceSource{packets: []mts.Packet{makePacket(256, 0), makePacket(256, 1)}}
	c := &recordingConsumer{}
	calls := 0
	cancel := func() bool {
		calls++
		return calls > 1 // allow the first read through, then cancel.
	}
	res, err := PumpTo(src, []Consumer{c}, cancel)
	if err != nil {
		t.Fatalf("PumpTo: %v", err)
	}
	if res != Success {
		t.Fatalf("got result %v, want Success on cancellation", res)
	}
}

func TestBaseConsumersFanOutOrder(t *testing.T) {
	var b BaseConsumers
	var order []int
	mk := func(id int) Consumer {
		return consumerFunc(func(p *mts.Packet) (Result, error) {
			order = append(order, id)
			return Success, nil
		})
	}
	b.AddConsumer(mk(1))
	b.AddConsumer(mk(2))
	b.AddConsumer(mk(3))
	p := makePacket(256, 0)
	if _, err := b.SendToEach(&p, Never); err != nil {
		t.Fatalf("SendToEach: %v", err)
	}
	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestBaseConsumersRemove(t *testing.T) {
	var b BaseConsumers
	c1 := &recordingConsumer{}
	b.AddConsumer(c1)
	if !b.RemoveConsumer(c1) {
		t.Fatal("expected RemoveConsumer to report true for a registered consumer")
	}
	if b.RemoveConsumer(c1) {
		t.Fatal("expected RemoveConsumer to report false the second time")
	}
}

// consumerFunc adapts a function to the Consumer interface for tests.
type consumerFunc func(p *mts.Packet) (Result, error)

func (f consumerFunc) SendPacket(p *mts.Packet) (Result, error) { return f(p) }
