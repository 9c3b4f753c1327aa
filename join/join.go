/*
NAME
  join.go

DESCRIPTION
  join.go provides JoinedTsStream, a pipeline.Source that concatenates
  packets from an ordered list of underlying sources. When the head source
  is exhausted it is dropped and a user-supplied callback is invoked
  synchronously, giving the caller a chance to append more sources before
  JoinedTsStream decides whether it has truly run dry.

  The head-exhausted-then-callback-then-retry shape mirrors how the
  teacher's revid pipeline lets a Writer be swapped out mid-stream on a
  line-drop without the reader side ever seeing more than a brief stall.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package join provides JoinedTsStream, the multi-source concatenation
// stage.
package join

import (
	"github.com/ausocean/tsflow/container/mts"
	"github.com/ausocean/tsflow/pipeline"
)

// ExhaustedHandler is notified synchronously when JoinedTsStream's source
// list becomes empty, so it can append more sources before JoinedTsStream
// decides whether to report NoMorePacket.
type ExhaustedHandler interface {
	OnSourceListExhausted(j *JoinedTsStream)
}

// ExhaustedFunc adapts a plain function to an ExhaustedHandler.
type ExhaustedFunc func(j *JoinedTsStream)

// OnSourceListExhausted calls f.
func (f ExhaustedFunc) OnSourceListExhausted(j *JoinedTsStream) { f(j) }

// JoinedTsStream reads from the head of an ordered list of sources,
// advancing to the next source when the current one reports NoMorePacket.
// It marks the first packet seen for each PID after a source switch with
// the discontinuity indicator, so a downstream corrector.CCCorrector
// re-syncs cleanly; it does not rewrite continuity counters itself.
type JoinedTsStream struct {
	sources   []pipeline.Source
	onExhaust ExhaustedHandler

	// sinceSwitch tracks, per PID, whether a packet has been seen since
	// the last source switch (including the very first source). Absence
	// means "mark the next packet for this PID".
	sinceSwitch map[uint16]bool
	exhausted   bool
}

// NewJoinedTsStream creates a JoinedTsStream over sources (the first is the
// initial head). onExhaust may be nil, in which case the list is never
// replenished and JoinedTsStream reports NoMorePacket as soon as every
// supplied source is drained.
func NewJoinedTsStream(sources []pipeline.Source, onExhaust ExhaustedHandler) *JoinedTsStream {
	return &JoinedTsStream{
		sources:     append([]pipeline.Source(nil), sources...),
		onExhaust:   onExhaust,
		sinceSwitch: make(map[uint16]bool),
	}
}

// AddSource appends s to the tail of the source list. Intended to be
// called by the ExhaustedHandler's callback.
func (j *JoinedTsStream) AddSource(s pipeline.Source) {
	j.sources = append(j.sources, s)
}

// ReadPacket reads from the head source, advancing past exhausted sources
// (invoking the exhausted callback once the list empties) until a packet
// is produced or the stream is permanently dry.
func (j *JoinedTsStream) ReadPacket(p *mts.Packet) (pipeline.Result, error) {
	if j.exhausted {
		return pipeline.NoMorePacket, nil
	}

	for {
		if len(j.sources) == 0 {
			if j.onExhaust != nil {
				j.onExhaust.OnSourceListExhausted(j)
			}
			if len(j.sources) == 0 {
				j.exhausted = true
				return pipeline.NoMorePacket, nil
			}
			// A new source was appended; this is a switch, so every PID
			// should be marked discontinuous again on next sighting.
			j.sinceSwitch = make(map[uint16]bool)
		}

		head := j.sources[0]
		res, err := head.ReadPacket(p)
		if err != nil {
			return res, err
		}
		switch res {
		case pipeline.Success:
			if !j.sinceSwitch[p.PID()] {
				// Only mark this PID as seen-since-switch once the bit is
				// actually set: a packet with no adaptation field has no
				// room for it without truncating real payload, so leave
				// sinceSwitch unset and retry on a later packet for this
				// PID instead of corrupting this one.
				if err := p.SetDiscontinuityIndicator(true); err == nil {
					j.sinceSwitch[p.PID()] = true
				}
			}
			return pipeline.Success, nil
		case pipeline.NeedMoreInput:
			return pipeline.NeedMoreInput, nil
		case pipeline.NoMorePacket:
			j.sources = j.sources[1:]
			j.sinceSwitch = make(map[uint16]bool)
			// Loop: try the next source, or hit the exhausted path above.
		}
	}
}

// PumpTo drives consumers from this stream until NoMorePacket or
// cancellation, per pipeline.PumpTo.
func (j *JoinedTsStream) PumpTo(consumers []pipeline.Consumer, cancel pipeline.CancelFunc) (pipeline.Result, error) {
	return pipeline.PumpTo(j, consumers, cancel)
}
