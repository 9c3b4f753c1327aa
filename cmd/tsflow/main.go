/*
NAME
  tsflow/main.go

DESCRIPTION
  tsflow is a command line harness that wires the PID changer, table
  repeater, MPTS-to-SPTS and CC corrector stages together into a single
  file-to-file pipeline, driven by a pipeline.PumpTo loop.

  Flag handling and the read-a-fixed-size-packet-at-a-time file loop follow
  exp/ts-repair/main.go's style; logging follows the teacher's cmd programs
  (e.g. cmd/looper), using ausocean/utils/logging backed by a lumberjack
  rotating file.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// tsflow reads an MPEG transport stream file, applies a configurable chain
// of packet-level transforms, and writes the result to another file.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ausocean/utils/logging"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/tsflow/changer"
	"github.com/ausocean/tsflow/container/mts"
	"github.com/ausocean/tsflow/corrector"
	"github.com/ausocean/tsflow/mux"
	"github.com/ausocean/tsflow/pipeline"
	"github.com/ausocean/tsflow/repeater"
)

// Logging related constants, matching the teacher's cmd programs.
const (
	logPath      = "tsflow.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Debug
	logSuppress  = true
)

// Flag usage strings.
const (
	inUsage           = "Path to the input transport stream file"
	outUsage          = "Path to the output transport stream file"
	presetUsage       = "Comma separated old:new PID remap entries, e.g. 256:512,257:513"
	serviceUsage      = "If set, reduce the stream to this single service_id (MPTS to SPTS)"
	repeatPidUsage    = "If set with -repeat-period, PID of the table to periodically re-inject"
	repeatPeriodUsage = "Re-injection cadence in packets for -repeat-pid (0 disables repetition)"
)

func main() {
	inPtr := flag.String("in", "", inUsage)
	outPtr := flag.String("out", "out.ts", outUsage)
	presetPtr := flag.String("preset", "", presetUsage)
	servicePtr := flag.Int("service-id", -1, serviceUsage)
	repeatPidPtr := flag.Int("repeat-pid", -1, repeatPidUsage)
	repeatPeriodPtr := flag.Int("repeat-period", 0, repeatPeriodUsage)
	flag.Parse()

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	l := logging.New(logVerbosity, io.MultiWriter(fileLog, os.Stderr), logSuppress)

	if *inPtr == "" {
		l.Error("no input file provided")
		os.Exit(1)
	}

	preset, err := parsePreset(*presetPtr)
	if err != nil {
		l.Error("bad preset map", "error", err.Error())
		os.Exit(1)
	}

	inFile, err := os.Open(*inPtr)
	if err != nil {
		l.Error("could not open input file", "error", err.Error())
		os.Exit(1)
	}
	defer inFile.Close()

	outFile, err := os.Create(*outPtr)
	if err != nil {
		l.Error("could not create output file", "error", err.Error())
		os.Exit(1)
	}
	defer outFile.Close()

	src := &fileSource{r: inFile}
	sink := &fileSink{w: outFile}

	head, tail := buildPipeline(preset, *servicePtr, *repeatPidPtr, *repeatPeriodPtr, l)
	tail.AddConsumer(sink)

	res, err := pipeline.PumpTo(src, []pipeline.Consumer{head}, pipeline.Never)
	if err != nil {
		l.Error("pump failed", "error", err.Error())
		os.Exit(1)
	}
	l.Debug("pump finished", "result", res.String())

	if _, err := head.SendPacket(nil); err != nil {
		l.Error("flush failed", "error", err.Error())
		os.Exit(1)
	}
}

// buildPipeline wires the requested stages in a fixed order -- optional PID
// remap, then optional table repetition, then optional MPTS-to-SPTS
// reduction, then CC correction last (so the packets the repeater injects
// with CC 0 are renumbered before they reach the sink) -- returning the
// head consumer to feed and the tail pipe to attach the final sink to.
func buildPipeline(preset map[uint16]uint16, serviceID, repeatPid, repeatPeriod int, l *logging.Logger) (pipeline.Consumer, pipeline.Pipe) {
	var head pipeline.Consumer
	var tail pipeline.Pipe
	link := func(p pipeline.Pipe) {
		if tail == nil {
			head = p
		} else {
			tail.AddConsumer(p)
		}
		tail = p
	}

	if len(preset) > 0 {
		m, err := changer.NewPIDMap(preset)
		if err != nil {
			l.Error("bad preset pid map", "error", err.Error())
			os.Exit(1)
		}
		link(changer.NewPIDChanger(m, l))
	}

	if repeatPid >= 0 && repeatPeriod > 0 {
		link(repeater.NewRepeater(uint16(repeatPid), repeater.NewCountPeriod(repeatPeriod), l))
	}

	if serviceID >= 0 {
		link(mux.NewMPTSToSPTS(uint16(serviceID), l))
	}

	link(corrector.NewCCCorrector())
	return head, tail
}

// parsePreset parses a comma separated list of old:new PID pairs.
func parsePreset(s string) (map[uint16]uint16, error) {
	out := make(map[uint16]uint16)
	if s == "" {
		return out, nil
	}
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad preset entry %q", entry)
		}
		src, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad preset source pid %q: %w", parts[0], err)
		}
		dst, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad preset destination pid %q: %w", parts[1], err)
		}
		out[uint16(src)] = uint16(dst)
	}
	return out, nil
}

// fileSource is a pipeline.Source reading fixed-size TS packets from a file.
type fileSource struct {
	r io.Reader
}

// ReadPacket reads the next 188-byte packet, reporting NoMorePacket at EOF
// and MalformedPacket-class errors (bad sync, short read) as plain errors
// so the pump stops rather than looping on corrupt input.
func (f *fileSource) ReadPacket(dst *mts.Packet) (pipeline.Result, error) {
	buf := make([]byte, mts.PacketSize)
	n, err := io.ReadFull(f.r, buf)
	if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
		return pipeline.NoMorePacket, nil
	}
	if err != nil {
		return pipeline.NoMorePacket, err
	}
	p, err := mts.NewPacket(buf)
	if err != nil {
		return pipeline.NoMorePacket, err
	}
	*dst = *p
	return pipeline.Success, nil
}

// fileSink is a pipeline.Consumer writing packets to a file, ignoring the
// flush sentinel since closing the file is handled by the caller's defer.
type fileSink struct {
	w io.Writer
}

// SendPacket writes p to the underlying file. A nil p (flush) is a no-op.
func (f *fileSink) SendPacket(p *mts.Packet) (pipeline.Result, error) {
	if p == nil {
		return pipeline.Success, nil
	}
	if _, err := f.w.Write(p.Bytes()); err != nil {
		return pipeline.Success, err
	}
	return pipeline.Success, nil
}
