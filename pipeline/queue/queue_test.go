/*
NAME
  queue_test.go

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package queue

import (
	"testing"
	"time"

	"github.com/ausocean/tsflow/container/mts"
	"github.com/ausocean/tsflow/pipeline"
)

func testPacket(cc byte) mts.Packet {
	var p mts.Packet
	p[0] = mts.SyncByte
	p.SetPID(256)
	p[3] = 0x10 | cc
	return p
}

func TestReadBeforeWriteNeedsMoreInput(t *testing.T) {
	q := NewPacketQueue(4)
	var dst mts.Packet
	res, err := q.ReadPacket(&dst)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if res != pipeline.NeedMoreInput {
		t.Fatalf("got %v, want NeedMoreInput", res)
	}
}

func TestFIFOOrder(t *testing.T) {
	q := NewPacketQueue(4)
	for i := byte(0); i < 3; i++ {
		p := testPacket(i)
		if _, err := q.SendPacket(&p); err != nil {
			t.Fatalf("SendPacket: %v", err)
		}
	}
	var dst mts.Packet
	for i := byte(0); i < 3; i++ {
		res, err := q.ReadPacket(&dst)
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		if res != pipeline.Success {
			t.Fatalf("got %v, want Success", res)
		}
		if dst.CC() != i {
			t.Errorf("got cc %d, want %d", dst.CC(), i)
		}
	}
}

func TestFlushDrainsThenNoMorePacket(t *testing.T) {
	q := NewPacketQueue(4)
	p := testPacket(0)
	if _, err := q.SendPacket(&p); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	if _, err := q.SendPacket(nil); err != nil {
		t.Fatalf("SendPacket(nil): %v", err)
	}
	if !q.Flushed() {
		t.Fatal("expected Flushed() to report true after a nil send")
	}

	var dst mts.Packet
	res, err := q.ReadPacket(&dst)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if res != pipeline.Success {
		t.Fatalf("got %v, want Success for the buffered packet", res)
	}

	res, err = q.ReadPacket(&dst)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if res != pipeline.NoMorePacket {
		t.Fatalf("got %v, want NoMorePacket after drain", res)
	}
}

func TestDoubleFlushIsInvalidOperation(t *testing.T) {
	q := NewPacketQueue(1)
	if _, err := q.SendPacket(nil); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if _, err := q.SendPacket(nil); err == nil {
		t.Fatal("expected an error on double flush")
	}
}

func TestSendAfterFlushRejected(t *testing.T) {
	q := NewPacketQueue(1)
	if _, err := q.SendPacket(nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	p := testPacket(0)
	if _, err := q.SendPacket(&p); err == nil {
		t.Fatal("expected an error sending a packet after flush")
	}
}

// TestConcurrentProducerConsumer exercises the actual cross-goroutine use
// this queue is built for: one goroutine sending, another polling
// ReadPacket/Flushed concurrently. Run with -race to catch a regression on
// the unsynchronised flushed flag.
func TestConcurrentProducerConsumer(t *testing.T) {
	const n = 1000
	q := NewPacketQueue(16)

	go func() {
		for i := 0; i < n; i++ {
			p := testPacket(byte(i % 16))
			if _, err := q.SendPacket(&p); err != nil {
				t.Errorf("SendPacket: %v", err)
				return
			}
		}
		if _, err := q.SendPacket(nil); err != nil {
			t.Errorf("SendPacket(flush): %v", err)
		}
	}()

	got := 0
	var dst mts.Packet
	for {
		res, err := q.ReadPacket(&dst)
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		switch res {
		case pipeline.Success:
			got++
		case pipeline.NoMorePacket:
			if got != n {
				t.Fatalf("got %d packets, want %d", got, n)
			}
			return
		case pipeline.NeedMoreInput:
			time.Sleep(time.Microsecond)
		}
	}
}
