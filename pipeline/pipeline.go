/*
NAME
  pipeline.go

DESCRIPTION
  pipeline.go defines the Source/Consumer/Pipe contracts that every stage of
  a tsflow pipeline implements, and the Pump that drives packets from a
  Source to an ordered list of Consumers.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pipeline provides the packet Source/Consumer/Pipe contracts and
// the Pump that drives them, matching the three-way result a stage returns
// from a read or send: Success, NeedMoreInput, or NoMorePacket.
package pipeline

import (
	"github.com/pkg/errors"

	"github.com/ausocean/tsflow/container/mts"
)

// Result is the outcome of a Source read or a Consumer send.
type Result int

const (
	// Success indicates the operation completed and the caller should continue.
	Success Result = iota
	// NeedMoreInput indicates no packet was available yet; try again later.
	NeedMoreInput
	// NoMorePacket indicates the source is permanently exhausted.
	NoMorePacket
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NeedMoreInput:
		return "need more input"
	case NoMorePacket:
		return "no more packet"
	default:
		return "unknown result"
	}
}

// Sentinel errors distinct from the three-way Result, following the
// teacher's convention of package-level errors.New values wrapped at the
// call site with github.com/pkg/errors.
var (
	// ErrInvalidOperation is returned when SendPacket is called again after
	// a flush (a nil packet) has already been sent.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrPIDExhausted is returned by a PidProvider with no PIDs left to
	// allocate. It is always fatal.
	ErrPIDExhausted = errors.New("pid exhausted")
)

// Source produces TS packets for downstream Consumers.
type Source interface {
	// ReadPacket reads the next available packet into dst, returning
	// Success if a packet was written, NeedMoreInput if none is available
	// yet, or NoMorePacket if the source is exhausted.
	ReadPacket(dst *mts.Packet) (Result, error)
}

// Consumer accepts TS packets from an upstream Source or Pipe.
//
// SendPacket(nil) is the flush sentinel: it signals that no further packets
// will be sent, and must be propagated to downstream Consumers exactly
// once. Any SendPacket call after a flush returns ErrInvalidOperation.
type Consumer interface {
	SendPacket(p *mts.Packet) (Result, error)
}

// Pipe is both a Consumer of upstream packets and a Source of packets for
// further downstream Consumers -- the shape every transform stage
// (corrector.CCCorrector, changer.PIDChanger, repeater.Repeater,
// mux.MPTSToSPTS) implements.
type Pipe interface {
	Consumer
	AddConsumer(c Consumer)
	RemoveConsumer(c Consumer) bool
	ClearConsumers()
}

// CancelFunc reports whether the caller has requested the pump stop. It is
// checked before each read and before each per-consumer send, matching the
// tsduck ITSPacketSource::PumpTo loop.
type CancelFunc func() bool

// Never never requests cancellation.
func Never() bool { return false }

// BaseConsumers is an embeddable helper implementing the consumer-list part
// of Pipe: ordered registration, sequential fan-out in registration order.
// Transform stages embed this rather than re-implement bookkeeping the
// teacher's own stage types don't otherwise need to duplicate.
type BaseConsumers struct {
	consumers []Consumer
}

// AddConsumer appends c to the fan-out list.
func (b *BaseConsumers) AddConsumer(c Consumer) {
	b.consumers = append(b.consumers, c)
}

// RemoveConsumer removes the first occurrence of c, reporting whether it
// was found.
func (b *BaseConsumers) RemoveConsumer(c Consumer) bool {
	for i, existing := range b.consumers {
		if existing == c {
			b.consumers = append(b.consumers[:i], b.consumers[i+1:]...)
			return true
		}
	}
	return false
}

// ClearConsumers removes every registered consumer.
func (b *BaseConsumers) ClearConsumers() {
	b.consumers = nil
}

// sendToEach fans p out to every registered consumer in registration order,
// checking cancel before each send. It mirrors
// ITSPacketSource::SendPacketToEachConsumer.
func (b *BaseConsumers) sendToEach(p *mts.Packet, cancel CancelFunc) (Result, error) {
	for _, c := range b.consumers {
		if cancel() {
			return Success, nil
		}
		res, err := c.SendPacket(p)
		if res != Success {
			return res, err
		}
	}
	return Success, nil
}

// SendToEach is the exported form of sendToEach for use by Pipe
// implementations built on BaseConsumers.
func (b *BaseConsumers) SendToEach(p *mts.Packet, cancel CancelFunc) (Result, error) {
	return b.sendToEach(p, cancel)
}

// PumpTo drains src, fanning each packet out to cancel-checked sends across
// consumers, until src is exhausted, an error occurs, or cancel reports
// true. It returns Success on cancellation (never NoMorePacket), exactly as
// the tsduck original does, so callers can distinguish "caller asked to
// stop" from "stream ended".
func PumpTo(src Source, consumers []Consumer, cancel CancelFunc) (Result, error) {
	if cancel == nil {
		cancel = Never
	}
	var p mts.Packet
	for {
		if cancel() {
			return Success, nil
		}

		res, err := src.ReadPacket(&p)
		if err != nil {
			return res, errors.Wrap(err, "pump: read packet")
		}
		if res != Success {
			return res, nil
		}

		for _, c := range consumers {
			if cancel() {
				return Success, nil
			}
			sres, serr := c.SendPacket(&p)
			if serr != nil {
				return sres, errors.Wrap(serr, "pump: send packet")
			}
			if sres != Success {
				return sres, nil
			}
		}
	}
}
