/*
NAME
  queue.go

DESCRIPTION
  queue.go provides PacketQueue, the single-producer/single-consumer bounded
  FIFO that forms the one concurrency boundary in a tsflow pipeline: the
  producer enqueues from one goroutine, the consumer dequeues from another,
  and every stage downstream of a given queue runs synchronously until the
  next queue.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package queue provides PacketQueue, a bounded single-producer/
// single-consumer packet FIFO with flush-on-nil-send semantics.
package queue

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/ausocean/tsflow/container/mts"
	"github.com/ausocean/tsflow/pipeline"
)

// PacketQueue is a bounded FIFO of packets. SendPacket is the producer side
// (a pipeline.Consumer); ReadPacket is the consumer side (a
// pipeline.Source), called from a different goroutine -- flushed is an
// atomic.Bool rather than a plain bool because it is written by the producer
// and read by the consumer with no other synchronisation between them.
type PacketQueue struct {
	buf     chan mts.Packet
	flushed atomic.Bool
}

// NewPacketQueue creates a PacketQueue with room for capacity packets.
func NewPacketQueue(capacity int) *PacketQueue {
	return &PacketQueue{buf: make(chan mts.Packet, capacity)}
}

// SendPacket enqueues p. If p is nil, the queue is flushed: no further
// sends are accepted, but packets already enqueued remain available to
// ReadPacket. SendPacket never blocks the caller beyond the bound of
// capacity, returning NeedMoreInput-like backpressure is not part of this
// contract -- a full queue blocks, matching TSPacketQueue's bounded
// producer behaviour.
func (q *PacketQueue) SendPacket(p *mts.Packet) (pipeline.Result, error) {
	if q.flushed.Load() {
		return pipeline.Success, errors.Wrap(pipeline.ErrInvalidOperation, "queue: send after flush")
	}
	if p == nil {
		q.flushed.Store(true)
		close(q.buf)
		return pipeline.Success, nil
	}
	q.buf <- *p
	return pipeline.Success, nil
}

// ReadPacket dequeues the next packet into dst without blocking. If the
// queue is empty and not yet flushed, it returns NeedMoreInput so the
// caller can poll again later. If the queue is empty and flushed, it
// returns NoMorePacket.
func (q *PacketQueue) ReadPacket(dst *mts.Packet) (pipeline.Result, error) {
	select {
	case p, ok := <-q.buf:
		if !ok {
			return pipeline.NoMorePacket, nil
		}
		*dst = p
		return pipeline.Success, nil
	default:
		if q.flushed.Load() {
			return pipeline.NoMorePacket, nil
		}
		return pipeline.NeedMoreInput, nil
	}
}

// Flushed reports whether the queue has received its flush sentinel.
func (q *PacketQueue) Flushed() bool { return q.flushed.Load() }
